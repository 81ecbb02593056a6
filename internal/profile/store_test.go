package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "u-1", Profile{DisplayName: "Ada", Email: "a@b.com"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	got, err := s.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != "u-1" || got.DisplayName != "Ada" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	s.PutRaw("u-2", []byte(`{"display_name":"x"}`))
	if _, err := s.Get(ctx, "u-2"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	if err := s.Delete(ctx, "u-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Get(ctx, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profiles.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	if err := s.Put(ctx, "u-1", Profile{DisplayName: "Ada", Email: "a@b.com"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() second error: %v", err)
	}
	got, err := s2.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Email != "a@b.com" {
		t.Fatalf("expected email a@b.com, got %q", got.Email)
	}

	if err := s2.Delete(ctx, "u-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s2.Delete(ctx, "u-1"); err != nil {
		t.Fatalf("second Delete() should be a no-op, got %v", err)
	}
	s3, _ := NewFileStore(path)
	if _, err := s3.Get(ctx, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after reload, got %v", err)
	}
}

func TestPutRequiresID(t *testing.T) {
	if err := NewMemoryStore().Put(context.Background(), " ", Profile{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
