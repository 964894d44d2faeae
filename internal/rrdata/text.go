package rrdata

import "fmt"

// EncodeTXT encodes a single text segment into TXT record rdata. Segments
// longer than 255 bytes are split across multiple character-strings.
func EncodeTXT(text string) ([]byte, error) {
	var encoded []byte
	for len(text) > 0 {
		n := len(text)
		if n > 255 {
			n = 255
		}
		segment := text[:n]
		text = text[n:]
		encoded = append(encoded, byte(len(segment)))
		encoded = append(encoded, segment...)
	}
	if len(encoded) == 0 {
		encoded = []byte{0}
	}
	return encoded, nil
}

// DecodeTXT decodes TXT record rdata, concatenating all character-strings.
func DecodeTXT(data []byte) (string, error) {
	var sb []byte
	offset := 0
	for offset < len(data) {
		n := int(data[offset])
		offset++
		if offset+n > len(data) {
			return "", fmt.Errorf("truncated TXT segment")
		}
		sb = append(sb, data[offset:offset+n]...)
		offset += n
	}
	return string(sb), nil
}
