package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxTCPMessageSize is the largest message this proxy will accept or emit
// over a length-prefixed TCP stream (RFC 7766), matching the validator's
// [12, 65535] bound for TCP-carried queries.
const MaxTCPMessageSize = 65535

// ReadTCPMessage reads one length-prefixed DNS message from r: a 2-byte
// big-endian length followed by that many bytes of message.
func ReadTCPMessage(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n < 12 {
		return nil, fmt.Errorf("tcp message too short: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	return buf, nil
}

// WriteTCPMessage writes msg to w prefixed with its 2-byte big-endian length.
func WriteTCPMessage(w io.Writer, msg []byte) error {
	if len(msg) > MaxTCPMessageSize {
		return fmt.Errorf("message too large for tcp framing: %d bytes", len(msg))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message body: %w", err)
	}
	return nil
}
