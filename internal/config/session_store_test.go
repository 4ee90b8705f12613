// Package config provides session persistence tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSavedSession_IsEmpty(t *testing.T) {
	tests := []struct {
		name string
		sess SavedSession
		want bool
	}{
		{
			name: "empty session",
			sess: SavedSession{},
			want: true,
		},
		{
			name: "with user only",
			sess: SavedSession{UserID: "u_123"},
			want: false,
		},
		{
			name: "with token only",
			sess: SavedSession{Token: "tok_abc"},
			want: false,
		},
		{
			name: "email alone does not count",
			sess: SavedSession{Email: "sarah@example.com"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSavedSession_SetAndClear(t *testing.T) {
	var sess SavedSession
	sess.Set("u_1", "sarah@example.com", "tok_abc")

	if sess.IsEmpty() {
		t.Fatal("session should not be empty after Set")
	}
	if sess.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}

	sess.Clear()
	if !sess.IsEmpty() {
		t.Error("session should be empty after Clear")
	}
	if sess.Email != "" {
		t.Error("email should be cleared")
	}
}

func TestSavedSession_String(t *testing.T) {
	var sess SavedSession
	if got := sess.String(); got != "(not logged in)" {
		t.Errorf("String() = %q", got)
	}

	sess.Set("u_1", "sarah@example.com", "tok")
	if got := sess.String(); got != "logged in as sarah@example.com" {
		t.Errorf("String() = %q", got)
	}

	sess.Email = ""
	sess.UserID = "0123456789abcdef"
	if got := sess.String(); got != "logged in as 01234567" {
		t.Errorf("String() = %q", got)
	}
}

func TestSessionStore_LoadMissing(t *testing.T) {
	store := NewSessionStore(filepath.Join(t.TempDir(), "session.yaml"))

	sess, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !sess.IsEmpty() {
		t.Error("missing file should load as empty session")
	}
}

func TestSessionStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")
	store := NewSessionStore(path)

	var sess SavedSession
	sess.Set("u_42", "bob@example.com", "tok_xyz")

	if err := store.Save(&sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Token file must not be group or world readable.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("session file mode = %o, want 0600", perm)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.UserID != "u_42" || loaded.Email != "bob@example.com" || loaded.Token != "tok_xyz" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestSessionStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	store := NewSessionStore(path)

	var sess SavedSession
	sess.Set("u_1", "", "tok")
	if err := store.Save(&sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("session file should be removed")
	}

	// Clearing again is not an error.
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}
