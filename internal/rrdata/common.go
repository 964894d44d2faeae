// Package rrdata encodes and decodes the wire rdata of the record types this
// proxy constructs directly (A, AAAA, CNAME, TXT) and renders the rdata of
// pass-through types (NS, PTR, MX, SRV) to human-readable text; any other
// type, SOA included, renders as a hex dump. Types the proxy never constructs are
// relayed as opaque bytes by the wire codec and never reach this package.
package rrdata

import (
	"fmt"
	"net"
	"strings"
)

// EncodeName encodes a domain name into wire format: length-prefixed labels
// terminated by a zero-length label. It does not attempt compression; rdata
// names are short and compression inside rdata is rarely honored by clients.
func EncodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	var encoded []byte
	if name == "" {
		return []byte{0}, nil
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 {
			continue
		}
		if len(label) > 63 {
			return nil, fmt.Errorf("label too long: %s", label)
		}
		encoded = append(encoded, byte(len(label)))
		encoded = append(encoded, label...)
	}
	encoded = append(encoded, 0)
	return encoded, nil
}

// DecodeName decodes a domain name starting at offset within data, without
// following compression pointers (rdata names inside this proxy's own
// constructed records are never compressed). Returns the name and the offset
// immediately after it.
func DecodeName(data []byte, offset int) (string, int, error) {
	var labels []string
	for {
		if offset >= len(data) {
			return "", 0, fmt.Errorf("offset out of bounds decoding name")
		}
		length := int(data[offset])
		if length == 0 {
			offset++
			break
		}
		if length&0xC0 == 0xC0 {
			return "", 0, fmt.Errorf("unexpected compression pointer in rdata name")
		}
		offset++
		if offset+length > len(data) {
			return "", 0, fmt.Errorf("label length out of bounds")
		}
		labels = append(labels, string(data[offset:offset+length]))
		offset += length
	}
	return strings.Join(labels, "."), offset, nil
}

func isIPv4(ip net.IP) bool {
	return ip != nil && ip.To4() != nil
}

func isIPv6(ip net.IP) bool {
	return ip != nil && ip.To16() != nil && ip.To4() == nil
}
