// Package encoding provides text decoding utilities for SGM string fields.
package encoding

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultLegacyCharset is used for names that are not valid UTF-8.
const DefaultLegacyCharset = "windows-1252"

// ErrUnknownCharset is returned when a charset label cannot be resolved.
var ErrUnknownCharset = errors.New("unknown charset")

// ValidateCharset reports whether the label names a charset we can decode.
func ValidateCharset(label string) error {
	if _, err := htmlindex.Get(label); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownCharset, label)
	}
	return nil
}

// DecodeText converts raw string bytes to UTF-8.
// Valid UTF-8 is returned unchanged; anything else is decoded with the
// legacy charset. An empty label selects DefaultLegacyCharset.
func DecodeText(data []byte, legacyCharset string) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	if legacyCharset == "" {
		legacyCharset = DefaultLegacyCharset
	}
	enc, err := htmlindex.Get(legacyCharset)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCharset, legacyCharset)
	}
	result, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("decoding %s text: %w", legacyCharset, err)
	}
	return string(result), nil
}

// NormalizeTexturePath converts backslashes to forward slashes so that
// texture references written on Windows resolve on other platforms.
func NormalizeTexturePath(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}
