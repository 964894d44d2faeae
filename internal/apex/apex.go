// Package apex extracts the registrable (apex) domain from a query name,
// used to tag resolver log lines with a grepable domain grouping.
package apex

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Of returns the registrable domain for name, e.g. "www.example.co.uk."
// becomes "example.co.uk". Falls back to the trimmed input if the public
// suffix list can't parse it (single-label names, unknown TLDs).
func Of(name string) string {
	trimmed := strings.TrimSuffix(name, ".")
	apexDomain, err := publicsuffix.EffectiveTLDPlusOne(trimmed)
	if err != nil {
		return trimmed
	}
	return apexDomain
}
