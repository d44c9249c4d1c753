package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/manglanigaurav01-jpg/trustgate/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get() = %q, want %q", got, "v1")
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_GetAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "k1", []byte("v1"))

	got, err := s.GetAndDelete(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAndDelete() error = %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("GetAndDelete() = %q, want %q", got, "v1")
	}

	if _, err := s.GetAndDelete(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second GetAndDelete() error = %v, want ErrNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "ts:u1:a", []byte("1"))
	_ = s.Put(ctx, "ts:u1:b", []byte("2"))
	_ = s.Put(ctx, "ts:u2:a", []byte("3"))

	keys, err := s.List(ctx, "ts:u1:")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List() returned %d keys, want 2: %v", len(keys), keys)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Put(ctx, "k1", []byte("durable")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, err := s2.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("Get() = %q, want %q", got, "durable")
	}
}
