package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	dnscache "github.com/coredrift/dnsproxyd/internal/cache"
	"github.com/coredrift/dnsproxyd/internal/clock"
	"github.com/coredrift/dnsproxyd/internal/domain"
	"github.com/coredrift/dnsproxyd/internal/rrdata"
	"github.com/coredrift/dnsproxyd/internal/selector"
	"github.com/coredrift/dnsproxyd/internal/upstream"
	"github.com/coredrift/dnsproxyd/internal/wire"
)

// answerFunc builds the canned upstream answer for a decoded question.
type answerFunc func(q domain.Question, now time.Time) domain.Message

func newTestResolver(t *testing.T, cfg Config, answer answerFunc) (*Resolver, *int) {
	t.Helper()
	codec := wire.NewCodec(nil)
	queryCount := 0

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		queryCount++
		clientSide, serverSide := net.Pipe()
		go func() {
			defer serverSide.Close()
			buf := make([]byte, 512)
			n, err := serverSide.Read(buf)
			if err != nil {
				return
			}
			q, err := codec.DecodeQuery(buf[:n])
			if err != nil {
				return
			}
			resp := answer(q, time.Now())
			data, err := codec.EncodeMessage(resp, time.Now())
			if err != nil {
				return
			}
			serverSide.Write(data)
		}()
		return clientSide, nil
	}

	client, err := upstream.New(upstream.Options{Codec: codec, Dial: dial})
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}

	c, err := dnscache.New(dnscache.Options{MaxSize: 100, Clock: clock.RealClock{}})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	sel := selector.New(selector.RoundRobin, 1)

	r, err := New(Options{
		Cache:    c,
		Codec:    codec,
		Client:   client,
		Selector: sel,
		Upstreams: []UpstreamConfig{
			{Name: "u1", Address: "127.0.0.1", Port: 53, Weight: 1, Priority: 1, Timeout: time.Second},
		},
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	return r, &queryCount
}

func encodeTestQuery(t *testing.T, codec wire.Codec, name string, rrtype domain.RRType) []byte {
	t.Helper()
	q := domain.Question{ID: 42, Name: name, Type: rrtype, Class: domain.RRClassIN}
	data, err := codec.EncodeQuery(q)
	if err != nil {
		t.Fatalf("EncodeQuery: %v", err)
	}
	return data
}

// encodeRawQuery hand-builds a raw query message outside of wire.Codec, which
// always emits RD=1 and a single question on the wire — the only way to
// exercise a client that asks otherwise.
func encodeRawQuery(t *testing.T, id uint16, rd bool, qdcount int, name string, rrtype domain.RRType) []byte {
	t.Helper()
	var data []byte
	data = append(data, byte(id>>8), byte(id))
	var flags byte
	if rd {
		flags = 0x01
	}
	data = append(data, flags, 0x00)
	data = append(data, byte(qdcount>>8), byte(qdcount))
	data = append(data, 0x00, 0x00) // ANCOUNT
	data = append(data, 0x00, 0x00) // NSCOUNT
	data = append(data, 0x00, 0x00) // ARCOUNT

	encodedName, err := rrdata.EncodeName(name)
	if err != nil {
		t.Fatalf("rrdata.EncodeName(%q): %v", name, err)
	}
	typeBytes := []byte{byte(rrtype >> 8), byte(rrtype)}
	for i := 0; i < qdcount; i++ {
		data = append(data, encodedName...)
		data = append(data, typeBytes...)
		data = append(data, 0x00, 0x01) // QCLASS IN
	}
	return data
}

func TestResolveHonorsClientRDBit(t *testing.T) {
	answer := func(q domain.Question, now time.Time) domain.Message {
		rr, _ := domain.NewResourceRecord(q.Name, domain.RRTypeA, domain.RRClassIN, 60, []byte{93, 184, 216, 34}, now)
		resp := domain.NewResponse(q, domain.FlagRD, domain.RCodeNOERROR)
		resp.Answer = []domain.ResourceRecord{rr}
		return resp
	}
	r, _ := newTestResolver(t, Config{}, answer)
	codec := wire.NewCodec(nil)
	raw := encodeRawQuery(t, 99, false, 1, "example.com.", domain.RRTypeA)

	out, err := r.Resolve(context.Background(), raw, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	decoded, err := codec.DecodeMessage(out, time.Now())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Flags&domain.FlagRD != 0 {
		t.Error("response carries RD=1 though the client query asked with RD=0")
	}
	if decoded.Flags&domain.FlagQR == 0 || decoded.Flags&domain.FlagRA == 0 {
		t.Errorf("expected QR=1 and RA=1 on the response, got flags=%016b", decoded.Flags)
	}
}

func TestResolveRejectsExcessiveQuestionCount(t *testing.T) {
	answer := func(q domain.Question, now time.Time) domain.Message {
		t.Fatal("upstream must not be queried when question count is out of bounds")
		return domain.Message{}
	}
	r, queryCount := newTestResolver(t, Config{}, answer)
	codec := wire.NewCodec(nil)
	raw := encodeRawQuery(t, 7, true, 11, "example.com.", domain.RRTypeA)

	out, err := r.Resolve(context.Background(), raw, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	decoded, err := codec.DecodeMessage(out, time.Now())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.RCode != domain.RCodeFORMERR {
		t.Errorf("RCode = %v, want FORMERR", decoded.RCode)
	}
	if *queryCount != 0 {
		t.Errorf("expected upstream to never be queried, got %d calls", *queryCount)
	}
}

func TestResolveServesSecondQueryFromCache(t *testing.T) {
	answer := func(q domain.Question, now time.Time) domain.Message {
		rr, _ := domain.NewResourceRecord(q.Name, domain.RRTypeA, domain.RRClassIN, 60, []byte{93, 184, 216, 34}, now)
		resp := domain.NewResponse(q, domain.FlagRD, domain.RCodeNOERROR)
		resp.Answer = []domain.ResourceRecord{rr}
		return resp
	}
	r, queryCount := newTestResolver(t, Config{}, answer)
	codec := wire.NewCodec(nil)
	raw := encodeTestQuery(t, codec, "example.com.", domain.RRTypeA)

	if _, err := r.Resolve(context.Background(), raw, true); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background(), raw, true); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if *queryCount != 1 {
		t.Errorf("expected upstream to be queried once, got %d", *queryCount)
	}
	stats := r.cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected hits=1 misses=1, got %+v", stats)
	}
}

func TestResolveFlattensCNAMEChain(t *testing.T) {
	answer := func(q domain.Question, now time.Time) domain.Message {
		cnameData, _ := rrdata.EncodeCNAME("foo.test.")
		cname, _ := domain.NewResourceRecord(q.Name, domain.RRTypeCNAME, domain.RRClassIN, 300, cnameData, now)
		a, _ := domain.NewResourceRecord("foo.test.", domain.RRTypeA, domain.RRClassIN, 120, []byte{10, 0, 0, 1}, now)
		resp := domain.NewResponse(q, domain.FlagRD, domain.RCodeNOERROR)
		resp.Answer = []domain.ResourceRecord{cname, a}
		return resp
	}
	r, _ := newTestResolver(t, Config{}, answer)
	codec := wire.NewCodec(nil)
	raw := encodeTestQuery(t, codec, "www.foo.test.", domain.RRTypeA)

	respData, err := r.Resolve(context.Background(), raw, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	decoded, err := codec.DecodeMessage(respData, time.Now())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}

	if len(decoded.Answer) != 1 {
		t.Fatalf("expected exactly 1 answer after flattening, got %d", len(decoded.Answer))
	}
	if decoded.Answer[0].Name != "www.foo.test." {
		t.Errorf("answer name = %q, want www.foo.test.", decoded.Answer[0].Name)
	}
	if decoded.Answer[0].Type != domain.RRTypeA {
		t.Errorf("answer type = %v, want A", decoded.Answer[0].Type)
	}
	if len(decoded.Authority) != 0 || len(decoded.Additional) != 0 {
		t.Error("expected authority and additional sections to be cleared")
	}
}

func TestResolveSuppressesAAAAOnAQuery(t *testing.T) {
	answer := func(q domain.Question, now time.Time) domain.Message {
		a, _ := domain.NewResourceRecord(q.Name, domain.RRTypeA, domain.RRClassIN, 60, []byte{10, 0, 0, 2}, now)
		aaaa, _ := domain.NewResourceRecord(q.Name, domain.RRTypeAAAA, domain.RRClassIN, 60, net16(), now)
		resp := domain.NewResponse(q, domain.FlagRD, domain.RCodeNOERROR)
		resp.Answer = []domain.ResourceRecord{a, aaaa}
		return resp
	}
	r, _ := newTestResolver(t, Config{AAAASuppression: true}, answer)
	codec := wire.NewCodec(nil)
	raw := encodeTestQuery(t, codec, "bar.test.", domain.RRTypeA)

	respData, err := r.Resolve(context.Background(), raw, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	decoded, err := codec.DecodeMessage(respData, time.Now())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if len(decoded.Answer) != 1 || decoded.Answer[0].Type != domain.RRTypeA {
		t.Fatalf("expected exactly 1 A record, got %+v", decoded.Answer)
	}
}

func TestResolveStatsQueryNeverCached(t *testing.T) {
	answer := func(q domain.Question, now time.Time) domain.Message {
		return domain.NewResponse(q, domain.FlagRD, domain.RCodeNOERROR)
	}
	r, queryCount := newTestResolver(t, Config{}, answer)
	codec := wire.NewCodec(nil)
	raw := encodeTestQuery(t, codec, StatsQueryName, domain.RRTypeTXT)

	respData, err := r.Resolve(context.Background(), raw, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	decoded, err := codec.DecodeMessage(respData, time.Now())
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if len(decoded.Answer) == 0 {
		t.Error("expected at least one TXT answer in stats response")
	}
	if *queryCount != 0 {
		t.Errorf("expected stats query to never reach upstream, got %d calls", *queryCount)
	}
	if r.cache.Len() != 0 {
		t.Error("expected stats response to never be cached")
	}
}

func net16() []byte {
	return []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
}
