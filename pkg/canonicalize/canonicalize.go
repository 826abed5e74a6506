// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic content hashing of kernel records.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// Struct json tags are honoured; HTML escaping is disabled.
func JCS(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// MustHash is Hash for values built entirely from strings, numbers and
// decimals, which cannot fail to marshal.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashParts hashes the concatenation of parts.
func HashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Text normalizes free text (memos, reasons, titles) to NFC so that visually
// identical inputs hash identically.
func Text(s string) string {
	return norm.NFC.String(s)
}
