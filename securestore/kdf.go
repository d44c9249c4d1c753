package securestore

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KDFParams configures Argon2id key derivation.
type KDFParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
}

// DefaultKDFParams returns the production Argon2id parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// InteractiveKDFParams returns sub-second parameters for tests and
// development. Not suitable for production key derivation.
func InteractiveKDFParams() KDFParams {
	return KDFParams{
		Time:        1,
		MemoryKiB:   8 * 1024,
		Parallelism: 1,
		KeyLen:      32,
	}
}

// ValidateKDFParams checks that the given parameters meet the minimum
// acceptable thresholds.
func ValidateKDFParams(p KDFParams) error {
	if p.KeyLen != 32 {
		return fmt.Errorf("kdf key length must be 32 bytes, got %d", p.KeyLen)
	}
	if p.Time < 1 {
		return fmt.Errorf("kdf time cost must be at least 1, got %d", p.Time)
	}
	if p.MemoryKiB < 8*1024 {
		return fmt.Errorf("kdf memory cost must be at least 8 MiB, got %d KiB", p.MemoryKiB)
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("kdf parallelism must be at least 1, got %d", p.Parallelism)
	}
	return nil
}

// kdfSaltContext versions the salt construction so a future scheme change
// can't silently decrypt old records with a differently derived key.
const kdfSaltContext = "trustgate:kdf:v1:"

// deriveKey derives the per-subject symmetric key from the subject ID and
// identity proof. The salt is bound to the subject ID so two subjects with
// the same proof material never share a key.
func deriveKey(subjectID, identityProof string, params KDFParams) []byte {
	salt := sha256.Sum256([]byte(kdfSaltContext + subjectID))
	return argon2.IDKey([]byte(identityProof), salt[:], params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
}
