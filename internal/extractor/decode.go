package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrDecode matches every DecodeError
var ErrDecode = errors.New("source is not valid text")

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeError reports where the content stopped being valid text
type DecodeError struct {
	Offset int // Byte offset of the first invalid sequence, -1 if unknown
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source is not valid text: %v", e.Err)
	}
	return fmt.Sprintf("source is not valid UTF-8 text: invalid byte sequence at offset %d", e.Offset)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// decodeText returns UTF-8 content without a byte order mark.
// UTF-16 content is accepted only when it starts with a BOM.
func decodeText(content []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(content, bomUTF8):
		content = content[len(bomUTF8):]
	case bytes.HasPrefix(content, bomUTF16LE), bytes.HasPrefix(content, bomUTF16BE):
		decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), content)
		if err != nil {
			return nil, &DecodeError{Offset: -1, Err: err}
		}
		content = decoded
	}

	if offset := invalidUTF8Offset(content); offset >= 0 {
		return nil, &DecodeError{Offset: offset}
	}
	return content, nil
}

func invalidUTF8Offset(content []byte) int {
	if utf8.Valid(content) {
		return -1
	}
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRune(content[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return -1
}
