// Package wire implements the DNS message codec: parsing raw bytes into
// domain.Message and serializing domain.Message back to wire format,
// including name compression on encode and pointer resolution on decode,
// per RFC 1035.
package wire

import (
	"time"

	"github.com/coredrift/dnsproxyd/internal/domain"
)

// Codec encodes and decodes DNS wire messages.
type Codec interface {
	// DecodeQuery parses a raw client query into a Question.
	DecodeQuery(data []byte) (domain.Question, error)
	// EncodeQuery serializes a Question into a query message suitable for
	// sending to an upstream.
	EncodeQuery(q domain.Question) ([]byte, error)
	// DecodeMessage parses a raw wire message (query or response) into a
	// domain.Message, populating every RR section present. now is used to
	// convert wire TTLs into absolute expiry times.
	DecodeMessage(data []byte, now time.Time) (domain.Message, error)
	// EncodeMessage serializes a full response message, including the
	// answer, authority, and additional sections, applying name compression.
	EncodeMessage(m domain.Message, now time.Time) ([]byte, error)
}

// ParseError indicates the input could not be decoded as a DNS message.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "dns: parse error: " + e.Reason }

// EncodeError indicates a message could not be serialized to wire format.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string { return "dns: encode error: " + e.Reason }
