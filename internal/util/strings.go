// Package util provides common utility functions used across the trustgate
// library: secure random material, string truncation for safe logging, and
// hashing of sensitive identifiers.
package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. Returns the original string if it's shorter than maxLen. This
// prevents index out of bounds errors when logging sensitive data like
// tokens, where only a prefix should be shown.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// HashForLogging creates a short SHA-256 digest of sensitive data so that
// identifiers can be correlated in logs without exposing the raw value.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

// SHA256Hex returns the full hex-encoded SHA-256 digest of s.
func SHA256Hex(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}
