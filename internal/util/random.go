// Package util provides utility functions for the uranaibot application.
package util

import (
	"math/rand/v2"
	"strings"
	"time"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; not for cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// JitteredBackoff returns base*2^attempt plus up to 50% random jitter,
// capped at max. Attempt is zero-based.
func JitteredBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	backoff := base << uint(attempt)
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2 + 1))
	total := backoff + jitter
	if total > max {
		total = max
	}
	return total
}
