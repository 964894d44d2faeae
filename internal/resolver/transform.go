package resolver

import (
	"context"
	"time"

	"github.com/coredrift/dnsproxyd/internal/domain"
	"github.com/coredrift/dnsproxyd/internal/rrdata"
)

// transform applies the response transformation rules: CNAME flattening for
// address queries whose answer contains a CNAME chain, CNAME stripping (and
// optional AAAA suppression) for non-address queries, and plain AAAA
// suppression for address queries answered without any CNAME.
func (r *Resolver) transform(q domain.Question, resp domain.Message) domain.Message {
	isAddressQuery := q.Type == domain.RRTypeA || q.Type == domain.RRTypeAAAA

	if isAddressQuery && containsCNAME(resp) {
		return r.flatten(q, resp)
	}

	if !isAddressQuery {
		resp.Answer = dropType(resp.Answer, domain.RRTypeCNAME)
		resp.Authority = dropType(resp.Authority, domain.RRTypeCNAME)
		resp.Additional = dropType(resp.Additional, domain.RRTypeCNAME)
		if r.cfg.AAAASuppression {
			resp.Answer = dropType(resp.Answer, domain.RRTypeAAAA)
			resp.Authority = dropType(resp.Authority, domain.RRTypeAAAA)
			resp.Additional = dropType(resp.Additional, domain.RRTypeAAAA)
		}
		return resp
	}

	if r.cfg.AAAASuppression && q.Type == domain.RRTypeA {
		resp.Answer = dropType(resp.Answer, domain.RRTypeAAAA)
		resp.Authority = dropType(resp.Authority, domain.RRTypeAAAA)
		resp.Additional = dropType(resp.Additional, domain.RRTypeAAAA)
	}
	return resp
}

// flatten implements the CNAME-flattening algorithm: the answer section
// becomes exactly the tail address records, re-homed under the originally
// queried name and keeping the tail's own TTL; authority and additional are
// cleared. If no tail address exists, the caller is expected to have already
// attempted chain-walking (chaseChain); an empty answer is returned here.
func (r *Resolver) flatten(q domain.Question, resp domain.Message) domain.Message {
	var tails []domain.ResourceRecord
	for _, rr := range resp.Answer {
		if rr.Type == q.Type {
			tails = append(tails, rr.WithName(q.Name))
		}
	}

	if len(tails) == 0 {
		r.logger.Warn(map[string]any{
			"question": q.Name, "type": q.Type.String(),
		}, "cname chain has no terminal address record")
	}

	flattened := resp
	flattened.Answer = tails
	flattened.Authority = nil
	flattened.Additional = nil
	flattened.RCode = domain.RCodeNOERROR
	return flattened
}

func containsCNAME(m domain.Message) bool {
	return hasType(m.Answer, domain.RRTypeCNAME) || hasType(m.Authority, domain.RRTypeCNAME) || hasType(m.Additional, domain.RRTypeCNAME)
}

func hasTailAddress(m domain.Message, t domain.RRType) bool {
	return hasType(m.Answer, t)
}

func hasType(rrs []domain.ResourceRecord, t domain.RRType) bool {
	for _, rr := range rrs {
		if rr.Type == t {
			return true
		}
	}
	return false
}

func dropType(rrs []domain.ResourceRecord, t domain.RRType) []domain.ResourceRecord {
	var out []domain.ResourceRecord
	for _, rr := range rrs {
		if rr.Type != t {
			out = append(out, rr)
		}
	}
	return out
}

func lastCNAMETarget(m domain.Message) string {
	var target string
	for _, rr := range m.Answer {
		if rr.Type == domain.RRTypeCNAME {
			if name, err := rrdata.DecodeCNAME(rr.Data); err == nil {
				target = name
			}
		}
	}
	return target
}

// chaseChain resolves the tail of a CNAME chain the upstream left unresolved:
// it iteratively queries for the chain's current target until a terminal
// address record is found or max_recursion hops are exhausted. visited
// bounds cycles in addition to the hop-count limit.
func (r *Resolver) chaseChain(ctx context.Context, q domain.Question, resp domain.Message, now time.Time) domain.Message {
	if r.cfg.MaxRecursion <= 0 {
		return resp
	}

	visited := map[string]bool{q.Name: true}
	target := lastCNAMETarget(resp)
	current := resp

	for hops := 0; target != "" && hops < r.cfg.MaxRecursion; hops++ {
		if visited[target] {
			r.logger.Warn(map[string]any{"question": q.Name, "target": target}, "cname chain cycle detected")
			break
		}
		visited[target] = true

		subQ := domain.Question{ID: q.ID, Name: target, Type: q.Type, Class: q.Class}
		subResp, err := r.forward(ctx, subQ)
		if err != nil {
			break
		}

		current.Answer = append(current.Answer, subResp.Answer...)
		if hasTailAddress(current, q.Type) {
			break
		}
		target = lastCNAMETarget(subResp)
	}

	return current
}
