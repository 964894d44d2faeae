package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/coredrift/dnsproxyd/internal/log"
	"github.com/coredrift/dnsproxyd/internal/ratelimit"
	"github.com/coredrift/dnsproxyd/internal/wire"
)

// DefaultTCPIdleTimeout bounds how long a connection may sit without
// completing its one query before it is closed.
const DefaultTCPIdleTimeout = 10 * time.Second

// TCPListener serves DNS queries over a length-prefixed TCP stream (RFC
// 7766). Each accepted connection handles exactly one query, then closes —
// pipelining multiple queries per connection is not required by this design.
type TCPListener struct {
	addr        string
	listener    net.Listener
	handler     Resolver
	limiter     *ratelimit.Limiter
	logger      log.Logger
	idleTimeout time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTCPListener constructs a TCPListener bound to addr once Start is called.
func NewTCPListener(addr string, handler Resolver, limiter *ratelimit.Limiter, logger log.Logger) *TCPListener {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &TCPListener{
		addr: addr, handler: handler, limiter: limiter, logger: logger,
		idleTimeout: DefaultTCPIdleTimeout, stopCh: make(chan struct{}),
	}
}

// Start binds the TCP listening socket and begins accepting connections.
func (t *TCPListener) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("tcp listener already running")
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("bind tcp socket on %s: %w", t.addr, err)
	}

	t.listener = ln
	t.running = true
	t.logger.Info(map[string]any{"transport": "tcp", "address": t.addr}, "dns listener started")

	t.wg.Add(1)
	go t.acceptLoop(ctx)
	return nil
}

// Stop closes the listening socket and waits for in-flight connections to finish.
func (t *TCPListener) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	close(t.stopCh)
	t.running = false
	err := t.listener.Close()
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info(map[string]any{"transport": "tcp", "address": t.addr}, "dns listener stopped")
	return err
}

func (t *TCPListener) acceptLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.RLock()
			running := t.running
			t.mu.RUnlock()
			if !running {
				return
			}
			t.logger.Warn(map[string]any{"error": err.Error()}, "failed to accept tcp connection")
			continue
		}

		t.wg.Add(1)
		go t.handleConn(ctx, conn)
	}
}

func (t *TCPListener) handleConn(ctx context.Context, conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(t.idleTimeout))

	remote := conn.RemoteAddr()
	if t.limiter != nil {
		host := remote.String()
		if tcpAddr, ok := remote.(*net.TCPAddr); ok {
			host = tcpAddr.IP.String()
		}
		if !t.limiter.Allow(host) {
			return
		}
	}

	raw, err := wire.ReadTCPMessage(conn)
	if err != nil {
		t.logger.Debug(map[string]any{"client": remote.String(), "error": err.Error()}, "failed to read tcp query")
		return
	}

	resp, err := t.handler.Resolve(ctx, raw, false)
	if err != nil {
		t.logger.Debug(map[string]any{"client": remote.String(), "error": err.Error()}, "dropping unanswerable tcp query")
		return
	}

	if err := wire.WriteTCPMessage(conn, resp); err != nil {
		t.logger.Warn(map[string]any{"client": remote.String(), "error": err.Error()}, "failed to send tcp response")
	}
}
