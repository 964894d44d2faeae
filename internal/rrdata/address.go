package rrdata

import (
	"fmt"
	"net"
)

// EncodeA encodes an IPv4 address string into A record rdata.
func EncodeA(addr string) ([]byte, error) {
	ip := net.ParseIP(addr)
	if ip == nil || !isIPv4(ip) {
		return nil, fmt.Errorf("invalid A record address: %s", addr)
	}
	return ip.To4(), nil
}

// DecodeA decodes A record rdata into its dotted-quad string form.
func DecodeA(data []byte) (string, error) {
	if len(data) != 4 {
		return "", fmt.Errorf("invalid A record length: %d", len(data))
	}
	return net.IP(data).String(), nil
}

// EncodeAAAA encodes an IPv6 address string into AAAA record rdata.
func EncodeAAAA(addr string) ([]byte, error) {
	ip := net.ParseIP(addr)
	if ip == nil || !isIPv6(ip) {
		return nil, fmt.Errorf("invalid AAAA record address: %s", addr)
	}
	return ip.To16(), nil
}

// DecodeAAAA decodes AAAA record rdata into its string form.
func DecodeAAAA(data []byte) (string, error) {
	if len(data) != 16 {
		return "", fmt.Errorf("invalid AAAA record length: %d", len(data))
	}
	return net.IP(data).String(), nil
}
