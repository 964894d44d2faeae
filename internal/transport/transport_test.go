package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/coredrift/dnsproxyd/internal/wire"
)

type echoResolver struct{}

func (echoResolver) Resolve(ctx context.Context, rawQuery []byte, udp bool) ([]byte, error) {
	out := make([]byte, len(rawQuery))
	copy(out, rawQuery)
	return out, nil
}

func TestUDPListenerRoundTrip(t *testing.T) {
	l := NewUDPListener("127.0.0.1:0", echoResolver{}, nil, nil)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	addr := l.conn.LocalAddr().(*net.UDPAddr)
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello-dns-query")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("got %q, want %q", buf[:n], payload)
	}
}

func TestTCPListenerRoundTrip(t *testing.T) {
	l := NewTCPListener("127.0.0.1:0", echoResolver{}, nil, nil)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	addr := l.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	payload := make([]byte, 20)
	copy(payload, "dns-query-over-tcp!")
	if err := wire.WriteTCPMessage(conn, payload); err != nil {
		t.Fatalf("WriteTCPMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := wire.ReadTCPMessage(conn)
	if err != nil {
		t.Fatalf("ReadTCPMessage: %v", err)
	}
	if string(resp) != string(payload) {
		t.Errorf("got %q, want %q", resp, payload)
	}
}
