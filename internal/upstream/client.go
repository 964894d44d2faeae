// Package upstream implements the client side of a single query against one
// upstream DNS server: UDP first, retried over TCP when the response comes
// back truncated.
package upstream

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/coredrift/dnsproxyd/internal/domain"
	"github.com/coredrift/dnsproxyd/internal/log"
	"github.com/coredrift/dnsproxyd/internal/wire"
)

// DialFunc abstracts net.Dial for testability.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Server identifies one upstream DNS server.
type Server struct {
	Name    string
	Address string
	Port    int
	Timeout time.Duration
}

func (s Server) addr() string {
	return net.JoinHostPort(s.Address, fmt.Sprintf("%d", s.Port))
}

// Client queries upstream DNS servers over UDP, falling back to TCP when a
// UDP response is truncated.
type Client struct {
	codec  wire.Codec
	dial   DialFunc
	logger log.Logger
}

// Options configures a new Client.
type Options struct {
	Codec  wire.Codec
	Dial   DialFunc
	Logger log.Logger
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf("upstream: codec is required")
	}
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = d.DialContext
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Client{codec: opts.Codec, dial: opts.Dial, logger: opts.Logger}, nil
}

// Query sends q to server, returning the decoded response and the observed
// round-trip time. A truncated UDP response is automatically retried over TCP.
func (c *Client) Query(ctx context.Context, server Server, q domain.Question) (domain.Message, time.Duration, error) {
	timeout := server.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.queryUDP(ctx, server, q)
	if err != nil {
		return domain.Message{}, time.Since(start), err
	}

	if resp.IsTruncated() {
		c.logger.Debug(map[string]any{
			"server": server.Name, "question": q.Name,
		}, "udp response truncated, retrying over tcp")
		resp, err = c.queryTCP(ctx, server, q)
		if err != nil {
			return domain.Message{}, time.Since(start), err
		}
	}

	return resp, time.Since(start), nil
}

func (c *Client) queryUDP(ctx context.Context, server Server, q domain.Question) (domain.Message, error) {
	conn, err := c.dial(ctx, "udp", server.addr())
	if err != nil {
		return domain.Message{}, fmt.Errorf("dial upstream %s: %w", server.Name, err)
	}
	defer conn.Close()

	payload, err := c.codec.EncodeQuery(q)
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode query: %w", err)
	}

	type result struct {
		msg domain.Message
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}
		if _, err := conn.Write(payload); err != nil {
			resultCh <- result{err: fmt.Errorf("write query: %w", err)}
			return
		}
		buf := make([]byte, 65535)
		n, err := conn.Read(buf)
		if err != nil {
			resultCh <- result{err: fmt.Errorf("read response: %w", err)}
			return
		}
		msg, err := c.codec.DecodeMessage(buf[:n], time.Now())
		if err != nil {
			resultCh <- result{err: fmt.Errorf("decode response: %w", err)}
			return
		}
		resultCh <- result{msg: msg}
	}()

	select {
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	case r := <-resultCh:
		return r.msg, r.err
	}
}

func (c *Client) queryTCP(ctx context.Context, server Server, q domain.Question) (domain.Message, error) {
	conn, err := c.dial(ctx, "tcp", server.addr())
	if err != nil {
		return domain.Message{}, fmt.Errorf("dial upstream %s over tcp: %w", server.Name, err)
	}
	defer conn.Close()

	payload, err := c.codec.EncodeQuery(q)
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode query: %w", err)
	}

	type result struct {
		msg domain.Message
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}
		if err := wire.WriteTCPMessage(conn, payload); err != nil {
			resultCh <- result{err: fmt.Errorf("write tcp query: %w", err)}
			return
		}
		raw, err := wire.ReadTCPMessage(conn)
		if err != nil {
			resultCh <- result{err: fmt.Errorf("read tcp response: %w", err)}
			return
		}
		msg, err := c.codec.DecodeMessage(raw, time.Now())
		if err != nil {
			resultCh <- result{err: fmt.Errorf("decode tcp response: %w", err)}
			return
		}
		resultCh <- result{msg: msg}
	}()

	select {
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	case r := <-resultCh:
		return r.msg, r.err
	}
}
