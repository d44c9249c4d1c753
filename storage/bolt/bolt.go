// Package bolt provides a bbolt-backed storage.Backend. Values survive
// process restarts, which the secure store requires for session and audit
// records in an offline-first application.
package bolt

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/manglanigaurav01-jpg/trustgate/storage"
)

var bucketName = []byte("trustgate")

// Store implements storage.Backend backed by a bbolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Backend = (*Store)(nil)

// New returns a Backend backed by the given bbolt database.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens a bbolt database at the given path and returns a Backend.
func Open(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db)
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores value under key.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}

// Get retrieves the value stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes the value stored under key.
func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// GetAndDelete atomically retrieves and removes the value under key.
// Atomicity comes from bbolt's single-writer update transaction.
func (s *Store) GetAndDelete(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		value = make([]byte, len(data))
		copy(value, data)
		return b.Delete([]byte(key))
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// List returns all keys beginning with prefix.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}
