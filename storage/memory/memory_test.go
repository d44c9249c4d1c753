package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/manglanigaurav01-jpg/trustgate/storage"
)

func TestStore_PutGet(t *testing.T) {
	s := New()
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
}

func TestStore_GetMissing(t *testing.T) {
	s := New()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.Put(ctx, "k1", []byte("v1"))
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := s.Get(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestStore_GetAndDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.Put(ctx, "k1", []byte("v1"))

	got, err := s.GetAndDelete(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAndDelete() error = %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("GetAndDelete() = %q, want %q", got, "v1")
	}

	// Second take must fail: the value is gone.
	if _, err := s.GetAndDelete(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second GetAndDelete() error = %v, want ErrNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.Put(ctx, "ts:u1:a", []byte("1"))
	_ = s.Put(ctx, "ts:u1:b", []byte("2"))
	_ = s.Put(ctx, "ts:u2:a", []byte("3"))

	keys, err := s.List(ctx, "ts:u1:")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List() returned %d keys, want 2", len(keys))
	}
	for _, k := range keys {
		if k != "ts:u1:a" && k != "ts:u1:b" {
			t.Errorf("List() returned unexpected key %q", k)
		}
	}
}

func TestStore_ValueIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	original := []byte("value")
	_ = s.Put(ctx, "k1", original)
	original[0] = 'X'

	got, _ := s.Get(ctx, "k1")
	if string(got) != "value" {
		t.Error("stored value should not alias the caller's slice")
	}

	got[0] = 'Y'
	again, _ := s.Get(ctx, "k1")
	if string(again) != "value" {
		t.Error("returned value should not alias the stored slice")
	}
}
