// Package transport implements the UDP and TCP listeners that accept raw
// client queries and hand them to a Resolver, mirroring the shape of the
// accept/decode/handle/encode/respond loop this proxy's DNS plumbing is
// built around.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/coredrift/dnsproxyd/internal/log"
	"github.com/coredrift/dnsproxyd/internal/ratelimit"
)

// Resolver is the subset of the resolver's behavior the transport layer
// depends on: turn raw bytes into raw bytes.
type Resolver interface {
	Resolve(ctx context.Context, rawQuery []byte, udp bool) ([]byte, error)
}

const udpReadBufferSize = 65535

// UDPListener serves DNS queries over a single UDP socket. Multiple queries
// are handled concurrently (pipelined); the message id correlates each
// response to its request.
type UDPListener struct {
	addr    string
	conn    *net.UDPConn
	handler Resolver
	limiter *ratelimit.Limiter
	logger  log.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewUDPListener constructs a UDPListener bound to addr once Start is called.
// limiter may be nil to disable per-client rate limiting.
func NewUDPListener(addr string, handler Resolver, limiter *ratelimit.Limiter, logger log.Logger) *UDPListener {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &UDPListener{addr: addr, handler: handler, limiter: limiter, logger: logger, stopCh: make(chan struct{})}
}

// Start binds the UDP socket and begins serving queries in the background.
func (t *UDPListener) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("udp listener already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("resolve udp address %s: %w", t.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind udp socket on %s: %w", t.addr, err)
	}

	t.conn = conn
	t.running = true
	t.logger.Info(map[string]any{"transport": "udp", "address": t.addr}, "dns listener started")

	go t.acceptLoop(ctx)
	return nil
}

// Stop closes the socket and stops serving new queries.
func (t *UDPListener) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	close(t.stopCh)
	t.running = false

	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	t.logger.Info(map[string]any{"transport": "udp", "address": t.addr}, "dns listener stopped")
	return err
}

func (t *UDPListener) acceptLoop(ctx context.Context) {
	buf := make([]byte, udpReadBufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		n, clientAddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.RLock()
			running := t.running
			t.mu.RUnlock()
			if !running {
				return
			}
			t.logger.Warn(map[string]any{"error": err.Error()}, "failed to read udp packet")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		go t.handlePacket(ctx, packet, clientAddr)
	}
}

func (t *UDPListener) handlePacket(ctx context.Context, data []byte, clientAddr *net.UDPAddr) {
	if t.limiter != nil && !t.limiter.Allow(clientAddr.IP.String()) {
		return
	}

	resp, err := t.handler.Resolve(ctx, data, true)
	if err != nil {
		t.logger.Debug(map[string]any{"client": clientAddr.String(), "error": err.Error()}, "dropping unanswerable query")
		return
	}

	if _, err := t.conn.WriteToUDP(resp, clientAddr); err != nil {
		t.logger.Warn(map[string]any{"client": clientAddr.String(), "error": err.Error()}, "failed to send udp response")
	}
}
