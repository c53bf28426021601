package memory

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	identityFile   = "identity.md"
	scratchpadFile = "scratchpad.md"
	journalFile    = "scratchpad_journal.jsonl"

	journalPreviewChars = 500
)

// JournalEntry records one scratchpad replacement. The journal is for audit only and is never fed
// back into prompts in full.
type JournalEntry struct {
	TS             string `json:"ts"`
	Source         string `json:"source"`
	ContentPreview string `json:"content_preview"`
	ContentLen     int    `json:"content_len"`
}

// Store holds the identity and scratchpad documents under <state_dir>/memory.
//
// Writes always replace the whole document.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: filepath.Clean(strings.TrimSpace(dir))}
}

func (s *Store) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

func (s *Store) IdentityPath() string   { return s.path(identityFile) }
func (s *Store) ScratchpadPath() string { return s.path(scratchpadFile) }
func (s *Store) JournalPath() string    { return s.path(journalFile) }

func (s *Store) path(name string) string {
	if s == nil {
		return ""
	}
	return filepath.Join(s.dir, name)
}

// Identity returns the identity document. ok is false when it does not exist.
func (s *Store) Identity() (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil memory store")
	}
	return readOptional(s.IdentityPath())
}

// Scratchpad returns the scratchpad document. ok is false when it does not exist.
func (s *Store) Scratchpad() (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil memory store")
	}
	return readOptional(s.ScratchpadPath())
}

// WriteIdentity replaces the identity document. Empty content is a no-op.
func (s *Store) WriteIdentity(content string) (bool, error) {
	if s == nil {
		return false, errors.New("nil memory store")
	}
	if content == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.IdentityPath(), content); err != nil {
		return false, fmt.Errorf("write identity: %w", err)
	}
	return true, nil
}

// WriteScratchpad replaces the scratchpad and appends a journal entry. Empty content is a no-op
// and journals nothing.
func (s *Store) WriteScratchpad(content string, source string) (bool, error) {
	if s == nil {
		return false, errors.New("nil memory store")
	}
	if content == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.ScratchpadPath(), content); err != nil {
		return false, fmt.Errorf("write scratchpad: %w", err)
	}
	entry := JournalEntry{
		TS:             time.Now().UTC().Format(time.RFC3339Nano),
		Source:         strings.TrimSpace(source),
		ContentPreview: clipRunes(content, journalPreviewChars),
		ContentLen:     utf8.RuneCountInString(content),
	}
	if err := appendJSONL(s.JournalPath(), entry); err != nil {
		return true, fmt.Errorf("append scratchpad journal: %w", err)
	}
	return true, nil
}

// Journal returns up to limit journal entries, newest first.
func (s *Store) Journal(limit int) ([]JournalEntry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	f, err := os.Open(s.JournalPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []JournalEntry
	for sc.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func readOptional(path string) (string, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(b), true, nil
}

func writeAtomic(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func appendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func clipRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
