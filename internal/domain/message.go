package domain

import "fmt"

// Header flag bits relevant to this proxy; the full RFC 1035 flag word also
// carries opcode and Z bits this proxy neither inspects nor sets.
const (
	FlagQR = uint16(1 << 15) // query (0) / response (1)
	FlagAA = uint16(1 << 10) // authoritative answer - never set by this proxy
	FlagTC = uint16(1 << 9)  // truncated
	FlagRD = uint16(1 << 8)  // recursion desired
	FlagRA = uint16(1 << 7)  // recursion available
)

// Message represents a full DNS message: header fields, the single question
// this proxy supports, and the three RR sections. The core mutates only
// response messages built from a Question; the original question is copied,
// never mutated in place.
type Message struct {
	ID         uint16
	Flags      uint16
	RCode      RCode
	Question   Question
	Answer     []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// NewResponse builds a bare response message for q carrying rcode, with the
// QR and RA flags set and RD copied from the originating query flags.
func NewResponse(q Question, queryFlags uint16, rcode RCode) Message {
	return Message{
		ID:       q.ID,
		Flags:    FlagQR | FlagRA | (queryFlags & FlagRD),
		RCode:    rcode,
		Question: q,
	}
}

// Validate checks whether the Message's RCode and RR sections are structurally valid.
func (m Message) Validate() error {
	if !m.RCode.IsValid() {
		return fmt.Errorf("invalid RCode: %d", m.RCode)
	}
	for i, rr := range m.Answer {
		if err := rr.Validate(); err != nil {
			return fmt.Errorf("invalid answer record at index %d: %w", i, err)
		}
	}
	for i, rr := range m.Authority {
		if err := rr.Validate(); err != nil {
			return fmt.Errorf("invalid authority record at index %d: %w", i, err)
		}
	}
	for i, rr := range m.Additional {
		if err := rr.Validate(); err != nil {
			return fmt.Errorf("invalid additional record at index %d: %w", i, err)
		}
	}
	return nil
}

// TotalRRCount returns the combined answer + authority + additional record count.
func (m Message) TotalRRCount() int {
	return len(m.Answer) + len(m.Authority) + len(m.Additional)
}

// IsTruncated reports whether the TC flag is set.
func (m Message) IsTruncated() bool {
	return m.Flags&FlagTC != 0
}

// WithID returns a copy of m bearing a new message id, used when rewriting a
// cached response to match an incoming query's id.
func (m Message) WithID(id uint16) Message {
	m.ID = id
	return m
}
