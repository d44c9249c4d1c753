// Package securestore provides encrypted key/value persistence scoped to a
// single authenticated subject. A symmetric key is derived from the
// subject's identity proof with Argon2id, values are sealed with
// AES-256-GCM (nonce prepended to ciphertext), and slots are namespaced as
// prefix:subjectID:logicalKey so two subjects' data never collide.
//
// The derived key is held in a memguard locked buffer for the lifetime of
// a session and wiped, not merely dereferenced, on Reset.
package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/manglanigaurav01-jpg/trustgate/internal/util"
	"github.com/manglanigaurav01-jpg/trustgate/storage"
)

var (
	// ErrNotInitialized is returned when an operation runs before
	// Initialize has derived key material.
	ErrNotInitialized = errors.New("securestore: not initialized")

	// ErrDecryptionFailed is returned when the authentication tag does
	// not verify: wrong or rotated key, or corrupted ciphertext. No
	// partially decoded data is ever returned alongside it.
	ErrDecryptionFailed = errors.New("securestore: decryption failed")
)

const defaultPrefix = "trustgate"

// Store is an encrypted key/value store bound to one subject at a time.
type Store struct {
	mu        sync.RWMutex
	backend   storage.Backend
	logger    *slog.Logger
	prefix    string
	kdfParams KDFParams

	opsCounter metric.Int64Counter
	opDuration metric.Float64Histogram

	subjectID string
	key       *memguard.LockedBuffer
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-sensitive diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKDFParams overrides the Argon2id parameters. Tests use
// InteractiveKDFParams to keep key derivation sub-second.
func WithKDFParams(params KDFParams) Option {
	return func(s *Store) { s.kdfParams = params }
}

// WithPrefix overrides the namespace prefix for stored slots.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMetrics records an operation count and latency sample for every
// Put, Get, Take, and Remove. Either instrument may be nil.
func WithMetrics(ops metric.Int64Counter, duration metric.Float64Histogram) Option {
	return func(s *Store) {
		s.opsCounter = ops
		s.opDuration = duration
	}
}

// New creates a Store persisting through the given backend. The store is
// unusable until Initialize derives key material for a subject.
func New(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		logger:    slog.Default(),
		prefix:    defaultPrefix,
		kdfParams: DefaultKDFParams(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize derives the subject's symmetric key from the identity proof
// and readies the store. Re-initializing replaces (and wipes) any prior
// key material.
func (s *Store) Initialize(_ context.Context, subjectID, identityProof string) error {
	if subjectID == "" {
		return fmt.Errorf("securestore: subject ID must not be empty")
	}
	if identityProof == "" {
		return fmt.Errorf("securestore: identity proof must not be empty")
	}
	if err := ValidateKDFParams(s.kdfParams); err != nil {
		return fmt.Errorf("securestore: %w", err)
	}

	key := deriveKey(subjectID, identityProof, s.kdfParams)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		s.key.Destroy()
	}
	// NewBufferFromBytes wipes the source slice after copying it into
	// guarded memory.
	s.key = memguard.NewBufferFromBytes(key)
	s.subjectID = subjectID

	s.logger.Debug("secure store initialized",
		"subject_hash", util.HashForLogging(subjectID))
	return nil
}

// IsReady reports whether key material is available.
func (s *Store) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// SubjectID returns the subject the store is currently bound to, or "".
func (s *Store) SubjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subjectID
}

// Put JSON-serializes value, seals it with a fresh nonce, and stores the
// ciphertext under the subject-namespaced key.
func (s *Store) Put(ctx context.Context, key string, value any) (err error) {
	defer s.observe(ctx, "put", time.Now(), &err)

	plaintext, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("securestore: marshaling value: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return ErrNotInitialized
	}

	sealed, err := s.seal(plaintext)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, s.slot(key), sealed)
}

// Get decrypts the value stored under key into out. It reports whether
// the key existed; a missing key is (false, nil), never an error.
func (s *Store) Get(ctx context.Context, key string, out any) (found bool, err error) {
	defer s.observe(ctx, "get", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return false, ErrNotInitialized
	}

	sealed, err := s.backend.Get(ctx, s.slot(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		// Transient backend faults degrade to "no record found".
		s.logger.Warn("secure store read failed", "error", err)
		return false, nil
	}
	return true, s.openInto(sealed, out)
}

// Take atomically retrieves and removes the value stored under key,
// decrypting it into out. Backed by the substrate's atomic GetAndDelete,
// it is the one-time-use primitive consumed by anti-forgery tokens.
func (s *Store) Take(ctx context.Context, key string, out any) (found bool, err error) {
	defer s.observe(ctx, "take", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return false, ErrNotInitialized
	}

	sealed, err := s.backend.GetAndDelete(ctx, s.slot(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn("secure store take failed", "error", err)
		return false, nil
	}
	return true, s.openInto(sealed, out)
}

// Remove deletes the value stored under key.
func (s *Store) Remove(ctx context.Context, key string) (err error) {
	defer s.observe(ctx, "remove", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return ErrNotInitialized
	}
	return s.backend.Delete(ctx, s.slot(key))
}

// Keys returns the logical keys stored for the current subject.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrNotInitialized
	}

	ns := s.namespace()
	slots, err := s.backend.List(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("securestore: listing keys: %w", err)
	}

	keys := make([]string, 0, len(slots))
	for _, slot := range slots {
		keys = append(keys, strings.TrimPrefix(slot, ns))
	}
	return keys, nil
}

// ClearAll deletes every slot belonging to the current subject. Other
// subjects' ciphertext is untouched.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return ErrNotInitialized
	}

	slots, err := s.backend.List(ctx, s.namespace())
	if err != nil {
		return fmt.Errorf("securestore: listing keys: %w", err)
	}
	for _, slot := range slots {
		if err := s.backend.Delete(ctx, slot); err != nil {
			return fmt.Errorf("securestore: deleting %s: %w", slot, err)
		}
	}
	return nil
}

// Reset wipes the derived key material from memory and unbinds the
// subject. Stored ciphertext is not deleted; a subsequent Initialize with
// the same subject and proof can read it again.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		s.key.Destroy()
		s.key = nil
	}
	s.subjectID = ""
}

// observe feeds the configured instruments. err is read through a
// pointer so deferred calls see the final return value.
func (s *Store) observe(ctx context.Context, op string, start time.Time, err *error) {
	result := "ok"
	if *err != nil {
		result = "error"
	}
	if s.opsCounter != nil {
		s.opsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("result", result)))
	}
	if s.opDuration != nil {
		s.opDuration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("operation", op)))
	}
}

// slot maps a logical key to its physical backend key.
func (s *Store) slot(key string) string {
	return s.namespace() + key
}

func (s *Store) namespace() string {
	return s.prefix + ":" + s.subjectID + ":"
}

// seal encrypts plaintext with a fresh nonce. Storage format:
// nonce || ciphertext. Callers must hold at least a read lock.
func (s *Store) seal(plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("securestore: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// openInto decrypts sealed bytes and unmarshals the plaintext into out.
// A failed authentication tag surfaces as ErrDecryptionFailed with no
// partially decoded data.
func (s *Store) openInto(sealed []byte, out any) error {
	gcm, err := s.aead()
	if err != nil {
		return err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return ErrDecryptionFailed
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrDecryptionFailed
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("securestore: unmarshaling value: %w", err)
	}
	return nil
}

func (s *Store) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("securestore: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("securestore: creating GCM: %w", err)
	}
	return gcm, nil
}
