// Package validator rejects malformed or oversized DNS input before any
// resource is allocated on its behalf, per the pre- and post-decode checks
// named in the component design.
package validator

import (
	"fmt"

	"github.com/coredrift/dnsproxyd/internal/domain"
)

// MaxQuestions bounds the number of questions a decoded message may carry.
const MaxQuestions = 10

// MaxResponseRecords bounds answer+authority+additional record count on a
// decoded response (not enforced on outbound client queries, which carry none).
const MaxResponseRecords = 100

const (
	minUDPSize = 12
	maxUDPSize = 512
	minTCPSize = 12
	maxTCPSize = 65535
)

// ValidationError is returned for any input that fails a validation check.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "dns: validation error: " + e.Reason }

// ValidateRawUDP checks the size of a raw UDP datagram before decoding.
func ValidateRawUDP(data []byte) error {
	if len(data) < minUDPSize || len(data) > maxUDPSize {
		return &ValidationError{Reason: fmt.Sprintf("udp packet size %d out of bounds [%d, %d]", len(data), minUDPSize, maxUDPSize)}
	}
	return nil
}

// ValidateRawTCP checks the size of a raw TCP-framed message before decoding.
func ValidateRawTCP(data []byte) error {
	if len(data) < minTCPSize || len(data) > maxTCPSize {
		return &ValidationError{Reason: fmt.Sprintf("tcp message size %d out of bounds [%d, %d]", len(data), minTCPSize, maxTCPSize)}
	}
	return nil
}

// ValidateQuestion checks a decoded question against the name rules and the
// allowed query-type set.
func ValidateQuestion(q domain.Question) error {
	if err := domain.ValidateName(q.Name); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if !q.Type.IsQuestionAllowed() {
		return &ValidationError{Reason: fmt.Sprintf("query type %s not allowed", q.Type)}
	}
	if !q.Class.IsValid() {
		return &ValidationError{Reason: fmt.Sprintf("query class %s not allowed", q.Class)}
	}
	return nil
}

// ValidateQuestionCount checks the number of questions in a decoded message.
func ValidateQuestionCount(n int) error {
	if n < 1 || n > MaxQuestions {
		return &ValidationError{Reason: fmt.Sprintf("question count %d out of bounds [1, %d]", n, MaxQuestions)}
	}
	return nil
}

// ValidateResponseRecordCount checks the combined answer+authority+additional
// count of a decoded response.
func ValidateResponseRecordCount(m domain.Message) error {
	total := m.TotalRRCount()
	if total > MaxResponseRecords {
		return &ValidationError{Reason: fmt.Sprintf("response record count %d exceeds max %d", total, MaxResponseRecords)}
	}
	return nil
}
