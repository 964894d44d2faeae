package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/coredrift/dnsproxyd/internal/domain"
	"github.com/coredrift/dnsproxyd/internal/log"
)

// maxPointerJumps bounds the number of compression-pointer hops followed
// while decoding a single name, so a malicious or corrupt pointer loop fails
// fast instead of recursing without bound.
const maxPointerJumps = 32

// dnsCodec implements Codec for DNS over UDP/TCP wire format.
type dnsCodec struct {
	logger log.Logger
}

// NewCodec returns a Codec that logs decode/encode diagnostics through logger.
func NewCodec(logger log.Logger) Codec {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &dnsCodec{logger: logger}
}

// EncodeQuery serializes a Question into a standard recursive query.
func (c *dnsCodec) EncodeQuery(q domain.Question) ([]byte, error) {
	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.BigEndian, q.ID)
	_ = binary.Write(&buf, binary.BigEndian, domain.FlagRD)
	_ = binary.Write(&buf, binary.BigEndian, uint16(1)) // QDCOUNT
	_ = binary.Write(&buf, binary.BigEndian, uint16(0)) // ANCOUNT
	_ = binary.Write(&buf, binary.BigEndian, uint16(0)) // NSCOUNT
	_ = binary.Write(&buf, binary.BigEndian, uint16(0)) // ARCOUNT

	name, err := encodeName(q.Name)
	if err != nil {
		return nil, &EncodeError{Reason: err.Error()}
	}
	buf.Write(name)
	_ = binary.Write(&buf, binary.BigEndian, uint16(q.Type))
	_ = binary.Write(&buf, binary.BigEndian, uint16(q.Class))

	return buf.Bytes(), nil
}

// DecodeQuery parses a raw client query into a Question. A message may
// legally declare more than one question (QDCOUNT > 1); every declared
// question is decoded so the offset tracking stays correct, but only the
// first is returned — the count itself is surfaced via QDCount so the
// caller can enforce the [1, MaxQuestions] bound.
func (c *dnsCodec) DecodeQuery(data []byte) (domain.Question, error) {
	if len(data) < 12 {
		return domain.Question{}, &ParseError{Reason: "message shorter than header"}
	}
	id := binary.BigEndian.Uint16(data[0:2])
	flags := binary.BigEndian.Uint16(data[2:4])
	qdCount := binary.BigEndian.Uint16(data[4:6])
	if qdCount == 0 {
		return domain.Question{}, &ParseError{Reason: "query declares zero questions"}
	}

	offset := 12
	var name string
	var qtype, qclass uint16
	for i := 0; i < int(qdCount); i++ {
		n, t, cl, newOffset, err := decodeQuestion(data, offset)
		if err != nil {
			return domain.Question{}, &ParseError{Reason: fmt.Sprintf("question %d: %v", i, err)}
		}
		if i == 0 {
			name, qtype, qclass = n, t, cl
		}
		offset = newOffset
	}

	return domain.Question{
		ID: id, Name: name, Type: domain.RRType(qtype), Class: domain.RRClass(qclass),
		RD: flags&domain.FlagRD != 0, QDCount: int(qdCount),
	}, nil
}

// DecodeMessage parses a raw wire message into a domain.Message, populating
// every RR section present.
func (c *dnsCodec) DecodeMessage(data []byte, now time.Time) (domain.Message, error) {
	if len(data) < 12 {
		return domain.Message{}, &ParseError{Reason: "message shorter than header"}
	}
	id := binary.BigEndian.Uint16(data[0:2])
	flags := binary.BigEndian.Uint16(data[2:4])
	rcode := domain.RCode(uint8(flags & 0x000F))

	qdCount := binary.BigEndian.Uint16(data[4:6])
	anCount := binary.BigEndian.Uint16(data[6:8])
	nsCount := binary.BigEndian.Uint16(data[8:10])
	arCount := binary.BigEndian.Uint16(data[10:12])

	offset := 12
	var question domain.Question
	for i := 0; i < int(qdCount); i++ {
		name, qtype, qclass, newOffset, err := decodeQuestion(data, offset)
		if err != nil {
			return domain.Message{}, &ParseError{Reason: fmt.Sprintf("question %d: %v", i, err)}
		}
		if i == 0 {
			question = domain.Question{
				ID: id, Name: name, Type: domain.RRType(qtype), Class: domain.RRClass(qclass),
				RD: flags&domain.FlagRD != 0, QDCount: int(qdCount),
			}
		}
		offset = newOffset
	}

	answer, offset, err := decodeRRSet(data, offset, int(anCount), now)
	if err != nil {
		return domain.Message{}, &ParseError{Reason: "answer section: " + err.Error()}
	}
	authority, offset, err := decodeRRSet(data, offset, int(nsCount), now)
	if err != nil {
		return domain.Message{}, &ParseError{Reason: "authority section: " + err.Error()}
	}
	additional, offset, err := decodeRRSet(data, offset, int(arCount), now)
	if err != nil {
		return domain.Message{}, &ParseError{Reason: "additional section: " + err.Error()}
	}

	if offset < len(data) {
		c.logger.Debug(map[string]any{"trailing_bytes": len(data) - offset}, "ignoring trailing bytes after declared sections")
	}

	return domain.Message{
		ID:         id,
		Flags:      flags,
		RCode:      rcode,
		Question:   question,
		Answer:     answer,
		Authority:  authority,
		Additional: additional,
	}, nil
}

// EncodeMessage serializes a full response message with name compression
// against the question name, writing all three RR sections.
func (c *dnsCodec) EncodeMessage(m domain.Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.BigEndian, m.ID)
	flags := (m.Flags &^ 0x000F) | uint16(m.RCode&0x0F)
	_ = binary.Write(&buf, binary.BigEndian, flags)
	_ = binary.Write(&buf, binary.BigEndian, uint16(1))

	if n := len(m.Answer); n > 65535 {
		return nil, &EncodeError{Reason: fmt.Sprintf("too many answer records: %d", n)}
	}
	if n := len(m.Authority); n > 65535 {
		return nil, &EncodeError{Reason: fmt.Sprintf("too many authority records: %d", n)}
	}
	if n := len(m.Additional); n > 65535 {
		return nil, &EncodeError{Reason: fmt.Sprintf("too many additional records: %d", n)}
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(m.Answer)))
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(m.Authority)))
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(m.Additional)))

	qname, err := encodeName(m.Question.Name)
	if err != nil {
		return nil, &EncodeError{Reason: err.Error()}
	}
	qnameOffset := buf.Len()
	buf.Write(qname)
	_ = binary.Write(&buf, binary.BigEndian, uint16(m.Question.Type))
	_ = binary.Write(&buf, binary.BigEndian, uint16(m.Question.Class))

	c.logger.Debug(map[string]any{
		"id": m.ID, "an": len(m.Answer), "ns": len(m.Authority), "ar": len(m.Additional),
	}, "encoding dns response")

	for _, section := range [][]domain.ResourceRecord{m.Answer, m.Authority, m.Additional} {
		if err := encodeRRSet(&buf, section, m.Question.Name, qnameOffset, now); err != nil {
			return nil, &EncodeError{Reason: err.Error()}
		}
	}

	return buf.Bytes(), nil
}

func encodeRRSet(buf *bytes.Buffer, rrs []domain.ResourceRecord, qname string, qnameOffset int, now time.Time) error {
	for _, rr := range rrs {
		if rr.Name == qname {
			buf.Write([]byte{0xC0 | byte(qnameOffset>>8), byte(qnameOffset & 0xFF)})
		} else {
			name, err := encodeName(rr.Name)
			if err != nil {
				return err
			}
			buf.Write(name)
		}
		_ = binary.Write(buf, binary.BigEndian, uint16(rr.Type))
		_ = binary.Write(buf, binary.BigEndian, uint16(rr.Class))
		_ = binary.Write(buf, binary.BigEndian, rr.TTL(now))

		if len(rr.Data) > 65535 {
			return fmt.Errorf("rdata too large: %d bytes", len(rr.Data))
		}
		_ = binary.Write(buf, binary.BigEndian, uint16(len(rr.Data)))
		buf.Write(rr.Data)
	}
	return nil
}

func decodeRRSet(data []byte, offset, count int, now time.Time) ([]domain.ResourceRecord, int, error) {
	rrs := make([]domain.ResourceRecord, 0, count)
	for i := 0; i < count; i++ {
		rr, newOffset, err := decodeResourceRecord(data, offset, now)
		if err != nil {
			return nil, 0, fmt.Errorf("record %d: %w", i, err)
		}
		rrs = append(rrs, rr)
		offset = newOffset
	}
	return rrs, offset, nil
}

func decodeResourceRecord(data []byte, offset int, now time.Time) (domain.ResourceRecord, int, error) {
	name, offset, err := decodeName(data, offset)
	if err != nil {
		return domain.ResourceRecord{}, 0, fmt.Errorf("name: %w", err)
	}
	if offset+10 > len(data) {
		return domain.ResourceRecord{}, 0, fmt.Errorf("truncated record fixed fields")
	}
	typ := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	class := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	ttl := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	rdLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2

	if offset+int(rdLen) > len(data) {
		return domain.ResourceRecord{}, 0, fmt.Errorf("truncated rdata")
	}
	rdata := make([]byte, rdLen)
	copy(rdata, data[offset:offset+int(rdLen)])
	offset += int(rdLen)

	rr, err := domain.NewResourceRecord(name, domain.RRType(typ), domain.RRClass(class), ttl, rdata, now)
	if err != nil {
		return domain.ResourceRecord{}, 0, fmt.Errorf("invalid record: %w", err)
	}
	return rr, offset, nil
}

// decodeQuestion decodes a single question entry (name, type, class) at offset.
func decodeQuestion(data []byte, offset int) (string, uint16, uint16, int, error) {
	name, offset, err := decodeName(data, offset)
	if err != nil {
		return "", 0, 0, 0, err
	}
	if offset+4 > len(data) {
		return "", 0, 0, 0, fmt.Errorf("truncated question fixed fields")
	}
	qtype := binary.BigEndian.Uint16(data[offset : offset+2])
	qclass := binary.BigEndian.Uint16(data[offset+2 : offset+4])
	return name, qtype, qclass, offset + 4, nil
}

// decodeName decodes a domain name starting at offset, following
// compression pointers per RFC 1035 section 4.1.4 with a bounded hop count
// so a pointer loop fails instead of recursing unboundedly.
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string
	jumps := 0
	cursor := offset
	endOffset := -1 // offset immediately after the name as first encountered, before following any pointer

	for {
		if cursor >= len(data) {
			return "", 0, fmt.Errorf("offset out of bounds decoding name")
		}
		length := int(data[cursor])
		if length == 0 {
			cursor++
			if endOffset == -1 {
				endOffset = cursor
			}
			break
		}
		if length&0xC0 == 0xC0 {
			if cursor+1 >= len(data) {
				return "", 0, fmt.Errorf("compression pointer out of bounds")
			}
			if endOffset == -1 {
				endOffset = cursor + 2
			}
			jumps++
			if jumps > maxPointerJumps {
				return "", 0, fmt.Errorf("too many compression pointer jumps, likely a loop")
			}
			ptr := int(binary.BigEndian.Uint16(data[cursor:cursor+2]) & 0x3FFF)
			if ptr >= cursor {
				return "", 0, fmt.Errorf("compression pointer does not point backward")
			}
			cursor = ptr
			continue
		}
		cursor++
		if cursor+length > len(data) {
			return "", 0, fmt.Errorf("label length out of bounds")
		}
		labels = append(labels, string(data[cursor:cursor+length]))
		cursor += length
	}
	return domain.CanonicalName(strings.Join(labels, ".")), endOffset, nil
}

// encodeName encodes a domain name into wire format without compression
// against earlier occurrences; callers that want compression do it at the
// call site (see encodeRRSet's pointer-to-question-name optimization).
func encodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	var buf bytes.Buffer
	if name == "" {
		buf.WriteByte(0)
		return buf.Bytes(), nil
	}
	total := 0
	for _, label := range strings.Split(name, ".") {
		if len(label) > domain.MaxLabelOctets {
			return nil, fmt.Errorf("label too long: %s", label)
		}
		total += len(label) + 1
		buf.WriteByte(byte(len(label)))
		buf.WriteString(label)
	}
	if total+1 > domain.MaxNameOctets {
		return nil, fmt.Errorf("name too long: %d octets", total+1)
	}
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

var _ Codec = (*dnsCodec)(nil)
