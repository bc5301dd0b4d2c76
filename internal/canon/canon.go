package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Encode returns the canonical JSON encoding of v: struct fields in
// declaration order, map keys sorted, no insignificant whitespace, no HTML
// escaping and no trailing newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Digest is the SHA-256 of the canonical encoding of v.
func Digest(v any) ([32]byte, error) {
	b, err := Encode(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}
