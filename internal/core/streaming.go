package core

// streaming.go wraps source file readers so encoding/csv only ever sees
// UTF-8 without a BOM, without loading the whole file in memory.
//
// Bytes are never substituted: two names that differ only in a non-UTF-8
// byte must stay distinct, since they feed the patient id. Files in a
// legacy code page are decoded from their declared encoding instead.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrInvalidUTF8 is returned for source bytes that are not UTF-8 when no
// other encoding was declared.
var ErrInvalidUTF8 = errors.New("invalid utf-8")

// Source encodings by configured name. A nil Encoding means UTF-8.
var sourceEncodings = map[string]encoding.Encoding{
	"utf-8":        nil,
	"utf8":         nil,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
}

// LookupEncoding returns the decoder for a configured encoding name.
// UTF-8 (and the empty name) returns nil.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, nil
	}
	enc, ok := sourceEncodings[name]
	if !ok {
		return nil, fmt.Errorf("unsupported source encoding %q", name)
	}
	return enc, nil
}

// ValidatingReader strips a leading UTF-8 BOM and fails with
// ErrInvalidUTF8 at the first byte that does not belong to a valid rune.
type ValidatingReader struct {
	src        *bufio.Reader
	bomChecked bool
	offset     int64  // bytes consumed from src
	pending    []byte // tail of a rune that did not fit the last p
}

// NewValidatingReader wraps r.
func NewValidatingReader(r io.Reader) *ValidatingReader {
	return &ValidatingReader{src: bufio.NewReader(r)}
}

func (v *ValidatingReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if !v.bomChecked {
		v.bomChecked = true
		if head, err := v.src.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			if _, err := v.src.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
			v.offset += int64(len(utf8BOM))
		}
	}

	n := copy(p, v.pending)
	v.pending = v.pending[n:]

	for n < len(p) {
		// Fast path for ASCII.
		b, err := v.src.ReadByte()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if b < utf8.RuneSelf {
			p[n] = b
			n++
			v.offset++
			continue
		}
		if err := v.src.UnreadByte(); err != nil {
			return n, err
		}

		r, size, err := v.src.ReadRune()
		if err != nil {
			return n, err
		}
		if r == utf8.RuneError && size == 1 {
			return n, fmt.Errorf("%w at byte %d", ErrInvalidUTF8, v.offset)
		}
		v.offset += int64(size)

		if n+size > len(p) {
			var buf [utf8.UTFMax]byte
			utf8.EncodeRune(buf[:], r)
			c := copy(p[n:], buf[:size])
			v.pending = append(v.pending[:0], buf[c:size]...)
			return n + c, nil
		}
		n += utf8.EncodeRune(p[n:], r)
	}

	return n, nil
}

// WrapForStreaming returns a UTF-8 reader over r. When enc is non-nil the
// input is decoded from enc first; otherwise it must already be UTF-8.
func WrapForStreaming(r io.Reader, enc encoding.Encoding) io.Reader {
	if enc != nil {
		r = enc.NewDecoder().Reader(r)
	}
	return NewValidatingReader(r)
}
