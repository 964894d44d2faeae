package domain

import (
	"fmt"
	"strings"
)

// MaxNameOctets is the maximum wire length of a fully qualified DNS name.
const MaxNameOctets = 255

// MaxLabelOctets is the maximum length of a single DNS label.
const MaxLabelOctets = 63

// CanonicalName returns name in canonical form: lowercased, trimmed, and
// always ending in a trailing dot.
func CanonicalName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	if name != "" && !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name
}

// ValidateName checks name against the label and length rules in the data model:
// length <= 255 octets, each label 1-63 octets, label charset [A-Za-z0-9-]
// with no leading or trailing hyphen.
func ValidateName(name string) error {
	if len(name) > MaxNameOctets {
		return fmt.Errorf("name exceeds %d octets: %d", MaxNameOctets, len(name))
	}
	trimmed := strings.TrimSuffix(name, ".")
	if trimmed == "" {
		return fmt.Errorf("name must not be empty")
	}
	for _, label := range strings.Split(trimmed, ".") {
		if err := validateLabel(label); err != nil {
			return err
		}
	}
	return nil
}

func validateLabel(label string) error {
	if len(label) == 0 {
		return fmt.Errorf("empty label")
	}
	if len(label) > MaxLabelOctets {
		return fmt.Errorf("label exceeds %d octets: %q", MaxLabelOctets, label)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q has leading or trailing hyphen", label)
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return fmt.Errorf("label %q contains disallowed character %q", label, r)
		}
	}
	return nil
}
