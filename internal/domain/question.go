package domain

import "fmt"

// Question represents the single question section of a DNS query: the name,
// type, and class being asked about, tagged with the message id it arrived
// under so the resolver can echo it back unchanged. RD carries the client's
// recursion-desired bit from the query header, and QDCount the total number
// of questions the raw message declared (normally 1; a decoded query may
// legally declare up to the validator's bound even though only the first
// question is ever answered).
type Question struct {
	ID      uint16
	Name    string
	Type    RRType
	Class   RRClass
	RD      bool
	QDCount int
}

// NewQuestion constructs a Question and validates its fields.
func NewQuestion(id uint16, name string, rrtype RRType, class RRClass) (Question, error) {
	q := Question{ID: id, Name: CanonicalName(name), Type: rrtype, Class: class, QDCount: 1}
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

// Flags returns the subset of query header flags this Question carries,
// for use constructing a response header that echoes them back (RD).
func (q Question) Flags() uint16 {
	if q.RD {
		return FlagRD
	}
	return 0
}

// Validate checks whether the Question fields are structurally and semantically valid.
func (q Question) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("question name must not be empty")
	}
	if !q.Type.IsValid() {
		return fmt.Errorf("unsupported RRType: %d", q.Type)
	}
	if !q.Class.IsValid() {
		return fmt.Errorf("unsupported RRClass: %d", q.Class)
	}
	return nil
}

// CacheKey returns the cache key string derived from the question's name, type,
// and class. The class is included deliberately: a name/type collision across
// classes must not collide in the cache.
func (q Question) CacheKey() string {
	return GenerateCacheKey(q.Name, q.Type, q.Class)
}
