package localstore

import (
	"path/filepath"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := s.Get(KeyTheme)
	if err != nil {
		t.Fatalf("Get absent: %v", err)
	}
	if got != "" {
		t.Errorf("absent key = %q, want empty", got)
	}

	if err := s.Set(KeyTheme, "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ = s.Get(KeyTheme); got != "dark" {
		t.Errorf("Get = %q, want dark", got)
	}

	// Overwrite wins
	if err := s.Set(KeyTheme, "light"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if got, _ = s.Get(KeyTheme); got != "light" {
		t.Errorf("Get after overwrite = %q, want light", got)
	}

	if err := s.Delete(KeyTheme); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ = s.Get(KeyTheme); got != "" {
		t.Errorf("Get after delete = %q, want empty", got)
	}

	// Deleting again is fine
	if err := s.Delete(KeyTheme); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(KeySessionToken, "tok-abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(KeySessionToken)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "tok-abc" {
		t.Errorf("Get after reopen = %q, want tok-abc", got)
	}
}
