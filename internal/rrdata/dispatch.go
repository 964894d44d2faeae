package rrdata

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/coredrift/dnsproxyd/internal/domain"
)

// Decode renders the rdata of rrType into a human-readable string. Types
// this proxy doesn't specially
// render fall back to a hex dump rather than failing, since this path is
// never used to reconstruct wire bytes.
func Decode(rrType domain.RRType, data []byte) (string, error) {
	switch rrType {
	case domain.RRTypeA:
		return DecodeA(data)
	case domain.RRTypeAAAA:
		return DecodeAAAA(data)
	case domain.RRTypeCNAME:
		return DecodeCNAME(data)
	case domain.RRTypeNS:
		return DecodeNS(data)
	case domain.RRTypePTR:
		return DecodePTR(data)
	case domain.RRTypeTXT:
		return DecodeTXT(data)
	case domain.RRTypeMX:
		return decodeMX(data)
	case domain.RRTypeSRV:
		return decodeSRV(data)
	default:
		return hex.EncodeToString(data), nil
	}
}

func decodeMX(data []byte) (string, error) {
	if len(data) < 3 {
		return "", fmt.Errorf("invalid MX record length: %d", len(data))
	}
	pref := binary.BigEndian.Uint16(data[0:2])
	name, _, err := DecodeName(data, 2)
	if err != nil {
		return "", fmt.Errorf("invalid MX exchange: %w", err)
	}
	return fmt.Sprintf("%d %s", pref, name), nil
}

func decodeSRV(data []byte) (string, error) {
	if len(data) < 6 {
		return "", fmt.Errorf("invalid SRV record length: %d", len(data))
	}
	priority := binary.BigEndian.Uint16(data[0:2])
	weight := binary.BigEndian.Uint16(data[2:4])
	port := binary.BigEndian.Uint16(data[4:6])
	target, _, err := DecodeName(data, 6)
	if err != nil {
		return "", fmt.Errorf("invalid SRV target: %w", err)
	}
	return fmt.Sprintf("%d %d %d %s", priority, weight, port, target), nil
}
