package proto

import (
	"errors"
	"fmt"
	"io"
)

// Field terminators on the wire.
const (
	SepSpace   byte = ' '
	SepNewline byte = '\n'
)

// ErrFieldTooLong is returned by ReadWord when more than maxLen bytes
// arrive before a terminator.
var ErrFieldTooLong = errors.New("field exceeds maximum length")

// FieldReader reads protocol fields from a byte stream. A single read from
// the underlying source may return less than a full field, so every
// primitive loops until its length requirement is met or the peer closes.
type FieldReader struct {
	r   io.Reader
	one [1]byte
}

// NewFieldReader wraps r. The reader does no internal buffering beyond a
// single byte, so it never consumes stream bytes past the field it was
// asked for.
func NewFieldReader(r io.Reader) *FieldReader {
	return &FieldReader{r: r}
}

// ReadFixed reads exactly n bytes, blocking until they arrive or the peer
// closes the stream.
func (fr *FieldReader) ReadFixed(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, fmt.Errorf("reading %d bytes: %w", n, err)
	}
	return buf, nil
}

// ReadByte reads the next single byte from the stream.
func (fr *FieldReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(fr.r, fr.one[:]); err != nil {
		return 0, err
	}
	return fr.one[0], nil
}

// ReadWord accumulates bytes one at a time until a space or newline is
// consumed, and returns the word with the terminator that ended it. The
// terminator is consumed but excluded from the word. More than maxLen
// bytes before a terminator is a framing error.
func (fr *FieldReader) ReadWord(maxLen int) (string, byte, error) {
	buf := make([]byte, 0, maxLen)
	for {
		c, err := fr.ReadByte()
		if err != nil {
			return "", 0, fmt.Errorf("reading word: %w", err)
		}
		if c == SepSpace || c == SepNewline {
			return string(buf), c, nil
		}
		if len(buf) >= maxLen {
			return "", 0, ErrFieldTooLong
		}
		buf = append(buf, c)
	}
}

// ReadBytes copies exactly n bytes from the stream into sink. It is used
// for declared-length payloads: the message text and the attachment body.
func (fr *FieldReader) ReadBytes(n int64, sink io.Writer) error {
	copied, err := io.CopyN(sink, fr.r, n)
	if err != nil {
		return fmt.Errorf("reading %d payload bytes (got %d): %w", n, copied, err)
	}
	return nil
}
