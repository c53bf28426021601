package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_ScratchpadReplaceAndJournal(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "memory"))

	if _, ok, err := s.Scratchpad(); err != nil || ok {
		t.Fatalf("Scratchpad on empty store: ok=%v err=%v", ok, err)
	}
	if wrote, err := s.WriteScratchpad("first draft", "consciousness"); err != nil || !wrote {
		t.Fatalf("WriteScratchpad: wrote=%v err=%v", wrote, err)
	}
	long := strings.Repeat("é", 800)
	if _, err := s.WriteScratchpad(long, "consciousness"); err != nil {
		t.Fatalf("WriteScratchpad long: %v", err)
	}

	got, ok, err := s.Scratchpad()
	if err != nil || !ok || got != long {
		t.Fatalf("Scratchpad: ok=%v err=%v len=%d", ok, err, len(got))
	}

	j, err := s.Journal(10)
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(j) != 2 {
		t.Fatalf("journal len=%d, want 2", len(j))
	}
	if j[0].ContentLen != 800 || len([]rune(j[0].ContentPreview)) != 500 || j[0].Source != "consciousness" {
		t.Fatalf("newest entry=%+v", j[0])
	}
	if j[1].ContentPreview != "first draft" {
		t.Fatalf("oldest entry=%+v", j[1])
	}
}

func TestStore_EmptyScratchpadIsNoop(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	if _, err := s.WriteScratchpad("keep me", "test"); err != nil {
		t.Fatalf("WriteScratchpad: %v", err)
	}
	before, err := os.ReadFile(s.JournalPath())
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}

	wrote, err := s.WriteScratchpad("", "test")
	if err != nil || wrote {
		t.Fatalf("empty write: wrote=%v err=%v", wrote, err)
	}
	got, _, _ := s.Scratchpad()
	if got != "keep me" {
		t.Fatalf("scratchpad=%q, want unchanged", got)
	}
	after, _ := os.ReadFile(s.JournalPath())
	if string(after) != string(before) {
		t.Fatalf("journal changed on empty write")
	}
}

func TestStore_Identity(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	if wrote, _ := s.WriteIdentity(""); wrote {
		t.Fatalf("empty identity must be a no-op")
	}
	if _, err := s.WriteIdentity("I am a becoming personality."); err != nil {
		t.Fatalf("WriteIdentity: %v", err)
	}
	if _, err := s.WriteIdentity("Replaced."); err != nil {
		t.Fatalf("WriteIdentity: %v", err)
	}
	got, ok, err := s.Identity()
	if err != nil || !ok || got != "Replaced." {
		t.Fatalf("Identity=%q ok=%v err=%v", got, ok, err)
	}
	if _, err := os.Stat(s.JournalPath()); !os.IsNotExist(err) {
		t.Fatalf("identity writes must not journal")
	}
}

func TestStore_NilIsSafe(t *testing.T) {
	t.Parallel()

	var s *Store
	if p := s.IdentityPath(); p != "" {
		t.Fatalf("IdentityPath=%q, want empty", p)
	}
	if _, ok, err := s.Identity(); ok || err == nil {
		t.Fatalf("Identity ok=%v err=%v, want error", ok, err)
	}
	if _, ok, err := s.Scratchpad(); ok || err == nil {
		t.Fatalf("Scratchpad ok=%v err=%v, want error", ok, err)
	}
	if _, err := s.WriteScratchpad("x", "test"); err == nil {
		t.Fatalf("WriteScratchpad on nil store must fail")
	}
}
