// Package frame implements the wire framing shared by server and client:
// each message is a 4-byte big-endian payload length followed by that many
// bytes of JSON.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length prefix size in bytes.
const HeaderSize = 4

// ErrTooLarge reports a frame exceeding the reader's limit.
var ErrTooLarge = errors.New("frame exceeds size limit")

// Write writes one framed payload.
func Write(w io.Writer, payload []byte) error {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// Read reads one framed payload. Frames larger than max are refused before
// any payload is read, so a hostile length prefix cannot force a huge
// allocation.
func Read(r io.Reader, max int) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if max > 0 && size > uint32(max) {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, size, max)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}
