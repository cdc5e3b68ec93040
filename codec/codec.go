// Package codec serializes message bodies to ASCII-safe JSON and back.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"
)

// EncodingError indicates a value that cannot be represented as JSON.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("codec: cannot encode message: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// DecodingError indicates bytes that cannot be parsed as JSON.
type DecodingError struct {
	Err error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("codec: cannot decode message: %v", e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// Encode serializes any JSON-representable value to ASCII-safe JSON bytes.
// Runes outside the ASCII range are \u-escaped so the wire body is plain
// ASCII regardless of the input.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return escapeNonASCII(data), nil
}

// Decode parses JSON bytes into the generic JSON data model: nil, bool,
// float64, string, []any, and map[string]any.
func Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &DecodingError{Err: err}
	}
	return v, nil
}

// escapeNonASCII rewrites runes above 0x7F as \uXXXX escapes. json.Marshal
// already guarantees valid JSON, so escaping is purely byte-level: non-ASCII
// runes only occur inside string literals.
func escapeNonASCII(data []byte) []byte {
	ascii := true
	for _, b := range data {
		if b > 0x7F {
			ascii = false
			break
		}
	}
	if ascii {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))
	for _, r := range string(data) {
		switch {
		case r < 0x80:
			buf.WriteByte(byte(r))
		case r > 0xFFFF:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&buf, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(&buf, `\u%04x`, r)
		}
	}
	return buf.Bytes()
}
