package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// RandomToken generates a cryptographically secure random token of n bytes
// of entropy, encoded as an unpadded base64url string. It is used for CSRF
// tokens, session identifiers, and audit correlation IDs.
//
// The function panics if the system's random number generator fails, which
// indicates a critical system-level security failure.
func RandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}
