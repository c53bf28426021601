package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxBytes   = int64(16 << 20) // 16 MiB
	defaultMaxBackups = 3
)

// Event types written by the background scheduler and its tools.
const (
	TypeError              = "consciousness_error"
	TypeLLMError           = "consciousness_llm_error"
	TypeThought            = "consciousness_thought"
	TypeToolError          = "consciousness_tool_error"
	TypeToolSkipped        = "consciousness_tool_skipped"
	TypeProactiveMessage   = "consciousness_proactive_message"
	TypeBudgetExhausted    = "consciousness_budget_exhausted"
	TypeBudgetRestored     = "consciousness_budget_restored"
	TypeSchedulerLifecycle = "consciousness_lifecycle"
)

// Event is one line of logs/events.jsonl: {"ts":..., "type":..., <fields>}.
type Event struct {
	TS     string
	Type   string
	Fields map[string]any
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["ts"] = e.TS
	m["type"] = e.Type
	return json.Marshal(m)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	e.TS, _ = m["ts"].(string)
	e.Type, _ = m["type"].(string)
	delete(m, "ts")
	delete(m, "type")
	if len(m) == 0 {
		m = nil
	}
	e.Fields = m
	return nil
}

type Options struct {
	Logger *slog.Logger
	// Dir is the log directory (e.g. <state_dir>/logs).
	Dir string

	// MaxBytes is the rotation threshold for events.jsonl. If <= 0, a safe default is used.
	MaxBytes int64
	// MaxBackups keeps the latest N rotated files. If <= 0, a safe default is used.
	MaxBackups int
}

// Store is the append-only structured event log. Writes never fail the caller: I/O problems are
// reported through the process logger only.
type Store struct {
	log *slog.Logger

	dir        string
	activePath string

	maxBytes   int64
	maxBackups int

	mu sync.Mutex
}

func New(opts Options) (*Store, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("missing Dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	activePath := filepath.Join(dir, "events.jsonl")
	if f, err := os.OpenFile(activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	} else {
		return nil, err
	}

	return &Store{
		log:        logger,
		dir:        dir,
		activePath: activePath,
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
	}, nil
}

// Path returns the active log file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.activePath
}

// Append writes one event. A nil store is a valid no-op sink.
func (s *Store) Append(eventType string, fields map[string]any) {
	if s == nil {
		return
	}
	s.AppendEvent(Event{Type: eventType, Fields: fields})
}

func (s *Store) AppendEvent(e Event) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(e.TS) == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}

	f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.log.Warn("eventlog append failed", "type", e.Type, "error", err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		s.log.Warn("eventlog encode failed", "type", e.Type, "error", err)
		return
	}

	s.maybeRotateLocked()
}

// List returns up to limit events, newest first, across the active and rotated files.
func (s *Store) List(limit int) ([]Event, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 5000 {
		limit = 5000
	}

	s.mu.Lock()
	files := s.listFilesLocked()
	s.mu.Unlock()

	out := make([]Event, 0, limit)
	for _, path := range files {
		if len(out) >= limit {
			break
		}
		entries, err := readFileNewestFirst(path, limit-len(out))
		if err != nil {
			s.log.Warn("eventlog read failed", "path", path, "error", err)
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (s *Store) listFilesLocked() []string {
	paths := []string{s.activePath}
	return append(paths, s.rotatedLocked(true)...)
}

// rotatedLocked lists events-<unix_ms>.jsonl files; newest first when newestFirst is set.
func (s *Store) rotatedLocked(newestFirst bool) []string {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var rotated []string
	for _, ent := range ents {
		if ent == nil || ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		rotated = append(rotated, filepath.Join(s.dir, name))
	}
	sort.Strings(rotated)
	if newestFirst {
		for i, j := 0, len(rotated)-1; i < j; i, j = i+1, j-1 {
			rotated[i], rotated[j] = rotated[j], rotated[i]
		}
	}
	return rotated
}

func (s *Store) maybeRotateLocked() {
	st, err := os.Stat(s.activePath)
	if err != nil || st.Size() <= s.maxBytes {
		return
	}

	dst := filepath.Join(s.dir, fmt.Sprintf("events-%d.jsonl", time.Now().UnixMilli()))
	if err := os.Rename(s.activePath, dst); err != nil {
		s.log.Warn("eventlog rotate failed", "error", err)
		return
	}
	if f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	}

	rotated := s.rotatedLocked(false)
	if len(rotated) <= s.maxBackups {
		return
	}
	for _, path := range rotated[:len(rotated)-s.maxBackups] {
		_ = os.Remove(path)
	}
}

func readFileNewestFirst(path string, limit int) ([]Event, error) {
	if strings.TrimSpace(path) == "" || limit <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var entries []Event
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
