// Package resolver implements the proxy's core pipeline: validate a decoded
// query, serve it from cache when possible, otherwise forward it to an
// upstream, transform the response (CNAME flattening, AAAA suppression),
// cache it, and serialize it back for the transport layer.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coredrift/dnsproxyd/internal/apex"
	"github.com/coredrift/dnsproxyd/internal/cache"
	"github.com/coredrift/dnsproxyd/internal/clock"
	"github.com/coredrift/dnsproxyd/internal/domain"
	"github.com/coredrift/dnsproxyd/internal/health"
	"github.com/coredrift/dnsproxyd/internal/log"
	"github.com/coredrift/dnsproxyd/internal/selector"
	"github.com/coredrift/dnsproxyd/internal/upstream"
	"github.com/coredrift/dnsproxyd/internal/validator"
	"github.com/coredrift/dnsproxyd/internal/wire"
)

// StatsQueryName is the pseudo-domain used to request proxy statistics
// in-band, as a TXT query. Never cached.
const StatsQueryName = "_dns-proxy-stats.local."

// maxRetryUpstreams is K in "try up to K distinct upstreams before giving up".
const maxRetryUpstreams = 3

// maxUDPResponseSize is the wire-size ceiling before a UDP response must be
// truncated (additional RRs popped, TC set).
const maxUDPResponseSize = 512

// Config tunes the resolver's transform and cache-insert behavior.
type Config struct {
	AAAASuppression bool
	MaxRecursion    int
	NegativeTTL     uint32
	MaxPositiveTTL  uint32
}

func (c *Config) setDefaults() {
	if c.NegativeTTL == 0 {
		c.NegativeTTL = 60
	}
	if c.MaxPositiveTTL == 0 {
		c.MaxPositiveTTL = 86400
	}
}

// Resolver orchestrates the full query pipeline.
type Resolver struct {
	cache     *cache.Cache
	codec     wire.Codec
	client    *upstream.Client
	selector  *selector.Selector
	monitor   *health.Monitor
	upstreams []UpstreamConfig
	clock     clock.Clock
	logger    log.Logger
	cfg       Config
}

// UpstreamConfig is the static configuration of one upstream as used by
// candidate selection; its live health comes from the Monitor.
type UpstreamConfig struct {
	Name     string
	Address  string
	Port     int
	Weight   int
	Priority int
	Timeout  time.Duration
}

// Options constructs a Resolver.
type Options struct {
	Cache     *cache.Cache
	Codec     wire.Codec
	Client    *upstream.Client
	Selector  *selector.Selector
	Monitor   *health.Monitor
	Upstreams []UpstreamConfig
	Clock     clock.Clock
	Logger    log.Logger
	Config    Config
}

// New constructs a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.Cache == nil || opts.Codec == nil || opts.Client == nil || opts.Selector == nil {
		return nil, fmt.Errorf("resolver: cache, codec, client, and selector are required")
	}
	if len(opts.Upstreams) == 0 {
		return nil, fmt.Errorf("resolver: at least one upstream is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	opts.Config.setDefaults()

	return &Resolver{
		cache:     opts.Cache,
		codec:     opts.Codec,
		client:    opts.Client,
		selector:  opts.Selector,
		monitor:   opts.Monitor,
		upstreams: opts.Upstreams,
		clock:     opts.Clock,
		logger:    opts.Logger,
		cfg:       opts.Config,
	}, nil
}

// Resolve processes one raw client query and returns the raw response to
// send back. udp indicates the transport the query arrived on, which governs
// whether an oversized response must be truncated with TC set.
func (r *Resolver) Resolve(ctx context.Context, rawQuery []byte, udp bool) ([]byte, error) {
	if udp {
		if err := validator.ValidateRawUDP(rawQuery); err != nil {
			return nil, err
		}
	} else {
		if err := validator.ValidateRawTCP(rawQuery); err != nil {
			return nil, err
		}
	}

	q, err := r.codec.DecodeQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}

	now := r.clock.Now()
	r.logger.Debug(map[string]any{
		"question": q.Name, "apex": apex.Of(q.Name), "type": q.Type.String(),
	}, "resolving query")

	if err := validator.ValidateQuestionCount(q.QDCount); err != nil {
		return r.encodeFinal(r.errorResponse(q, domain.RCodeFORMERR), now, udp)
	}

	if q.Name == StatsQueryName && q.Type == domain.RRTypeTXT {
		return r.encodeFinal(r.statsResponse(q, now), now, udp)
	}

	if err := validator.ValidateQuestion(q); err != nil {
		return r.encodeFinal(r.errorResponse(q, domain.RCodeFORMERR), now, udp)
	}

	key := q.CacheKey()
	if cached, ok := r.cache.Get(key); ok {
		resp := cached.WithID(q.ID)
		resp.Question = q
		resp.Flags = responseFlags(q)
		return r.encodeFinal(resp, now, udp)
	}

	resp, err := r.forward(ctx, q)
	if err != nil {
		r.logger.Warn(map[string]any{"question": q.Name, "error": err.Error()}, "upstream forwarding exhausted")
		return r.encodeFinal(r.errorResponse(q, domain.RCodeSERVFAIL), now, udp)
	}

	isAddressQuery := q.Type == domain.RRTypeA || q.Type == domain.RRTypeAAAA
	if isAddressQuery && containsCNAME(resp) && !hasTailAddress(resp, q.Type) {
		resp = r.chaseChain(ctx, q, resp, now)
	}

	transformed := r.transform(q, resp)

	if err := validator.ValidateResponseRecordCount(transformed); err != nil {
		return r.encodeFinal(r.errorResponse(q, domain.RCodeSERVFAIL), now, udp)
	}

	r.cacheInsert(key, transformed, now)

	transformed = transformed.WithID(q.ID)
	transformed.Question = q
	transformed.Flags = responseFlags(q)
	return r.encodeFinal(transformed, now, udp)
}

// responseFlags builds the response header flags per the pipeline's final
// step: QR=1, RA=1, and RD copied from the client's own query.
func responseFlags(q domain.Question) uint16 {
	return domain.FlagQR | domain.FlagRA | q.Flags()
}

func (r *Resolver) errorResponse(q domain.Question, rcode domain.RCode) domain.Message {
	return domain.NewResponse(q, q.Flags(), rcode)
}

// candidates builds the selector's view of every configured upstream, using
// the monitor's live health stats when a monitor is wired in.
func (r *Resolver) candidates() []selector.Candidate {
	out := make([]selector.Candidate, 0, len(r.upstreams))
	for _, u := range r.upstreams {
		stats := health.ServerStats{Healthy: true, HealthScore: 1.0}
		if r.monitor != nil {
			if s, ok := r.monitor.Stats(u.Name); ok {
				stats = s
			}
		}
		out = append(out, selector.Candidate{
			Name: u.Name, Address: u.Address, Port: u.Port,
			Weight: u.Weight, Priority: u.Priority, Stats: stats,
		})
	}
	return out
}

func (r *Resolver) upstreamByName(name string) (UpstreamConfig, bool) {
	for _, u := range r.upstreams {
		if u.Name == name {
			return u, true
		}
	}
	return UpstreamConfig{}, false
}

// forward selects and queries up to maxRetryUpstreams distinct upstreams in
// turn, returning the first successful response.
func (r *Resolver) forward(ctx context.Context, q domain.Question) (domain.Message, error) {
	picks := r.selector.SelectMultiple(r.candidates(), maxRetryUpstreams)
	if len(picks) == 0 {
		return domain.Message{}, fmt.Errorf("no upstream candidates available")
	}

	var lastErr error
	for _, pick := range picks {
		cfg, ok := r.upstreamByName(pick.Name)
		if !ok {
			continue
		}
		server := upstream.Server{Name: cfg.Name, Address: cfg.Address, Port: cfg.Port, Timeout: cfg.Timeout}

		resp, rtt, err := r.client.Query(ctx, server, q)
		if err != nil {
			lastErr = err
			if r.monitor != nil {
				r.monitor.RecordResult(cfg.Name, classifyErr(err), rtt)
			}
			continue
		}
		if r.monitor != nil {
			r.monitor.RecordResult(cfg.Name, health.ResultSuccess, rtt)
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all upstream candidates exhausted")
	}
	return domain.Message{}, lastErr
}

func classifyErr(err error) health.QueryResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return health.ResultTimeout
	}
	return health.ResultError
}

// cacheInsert stores resp under key with the TTL the data model calls for:
// negative_ttl for an empty answer, otherwise the minimum answer-record TTL
// capped at MaxPositiveTTL. The stats pseudo-response is never cached by the
// caller (it never reaches this function).
func (r *Resolver) cacheInsert(key string, resp domain.Message, now time.Time) {
	if len(resp.Answer) == 0 {
		r.cache.Set(key, resp, time.Duration(r.cfg.NegativeTTL)*time.Second)
		return
	}
	minTTL := resp.Answer[0].TTL(now)
	for _, rr := range resp.Answer[1:] {
		if t := rr.TTL(now); t < minTTL {
			minTTL = t
		}
	}
	if minTTL > r.cfg.MaxPositiveTTL {
		minTTL = r.cfg.MaxPositiveTTL
	}
	r.cache.Set(key, resp, time.Duration(minTTL)*time.Second)
}

// encodeFinal serializes m, whose header flags the caller has already set.
// For UDP, a response over the size ceiling gets TC set and has additional
// RRs popped until it fits or none remain.
func (r *Resolver) encodeFinal(m domain.Message, now time.Time, udp bool) ([]byte, error) {
	data, err := r.codec.EncodeMessage(m, now)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	if !udp || len(data) <= maxUDPResponseSize {
		return data, nil
	}

	truncated := m
	truncated.Flags |= domain.FlagTC
	for {
		data, err = r.codec.EncodeMessage(truncated, now)
		if err != nil {
			return nil, fmt.Errorf("encode truncated response: %w", err)
		}
		if len(data) <= maxUDPResponseSize || len(truncated.Additional) == 0 {
			break
		}
		truncated.Additional = truncated.Additional[:len(truncated.Additional)-1]
	}
	return data, nil
}
