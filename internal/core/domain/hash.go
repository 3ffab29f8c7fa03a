package domain

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// HashBytes returns the xxhash of b rendered as 16 hex digits.
func HashBytes(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// HashString returns the xxhash of s rendered as 16 hex digits.
func HashString(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// RequestHash computes the cache key for a subcall. The provider is part of
// the key, so the same prompt against two providers never collides.
func RequestHash(prompt, provider string) string {
	h := xxhash.New()
	_, _ = h.WriteString(prompt)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(provider)
	return fmt.Sprintf("%016x", h.Sum64())
}
