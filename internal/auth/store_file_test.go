package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSessionStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := NewFileSessionStore(path)
	if err != nil {
		t.Fatalf("NewFileSessionStore() error: %v", err)
	}

	sess := &Session{UserID: "u-1", Email: "a@b.com", IDToken: "tok", ExpiresAt: time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)}
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	store2, err := NewFileSessionStore(path)
	if err != nil {
		t.Fatalf("NewFileSessionStore() second error: %v", err)
	}
	got, err := store2.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got == nil || got.UserID != "u-1" || got.IDToken != "tok" {
		t.Fatalf("unexpected loaded session: %+v", got)
	}

	if err := store2.Save(nil); err != nil {
		t.Fatalf("Save(nil) error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected state file removed, stat err=%v", err)
	}
	got, err = store2.Load()
	if err != nil || got != nil {
		t.Fatalf("expected empty load after clear, got %+v err=%v", got, err)
	}
}

func TestFileSessionStoreRequiresPath(t *testing.T) {
	if _, err := NewFileSessionStore("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
