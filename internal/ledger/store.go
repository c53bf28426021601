package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/floegence/wakeloop/internal/llm"
)

// Store is a local SQLite ledger of LLM usage records.
//
// It is a reporting copy only: the scheduler's in-memory spend is never reloaded from it, so the
// background budget starts from zero on every process start.
type Store struct {
	db *sql.DB
}

// Record is one persisted usage row.
type Record struct {
	ID              int64     `json:"id"`
	CycleID         string    `json:"cycle_id"`
	Source          string    `json:"source"`
	Model           string    `json:"model"`
	Usage           llm.Usage `json:"usage"`
	CreatedAtUnixMs int64     `json:"created_at_unix_ms"`
}

// SourceTotal aggregates usage per source.
type SourceTotal struct {
	Source string    `json:"source"`
	Calls  int64     `json:"calls"`
	Usage  llm.Usage `json:"usage"`
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, r Record) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("ledger not ready")
	}
	if r.CreatedAtUnixMs <= 0 {
		r.CreatedAtUnixMs = time.Now().UnixMilli()
	}
	source := strings.TrimSpace(r.Source)
	if source == "" {
		source = "unknown"
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO llm_usage (cycle_id, source, model, prompt_tokens, completion_tokens, total_tokens, cost, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, strings.TrimSpace(r.CycleID), source, strings.TrimSpace(r.Model),
		r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.TotalTokens, r.Usage.Cost, r.CreatedAtUnixMs)
	if err != nil {
		return 0, fmt.Errorf("insert usage: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ledger not ready")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, cycle_id, source, model, prompt_tokens, completion_tokens, total_tokens, cost, created_at_unix_ms
FROM llm_usage
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.CycleID, &r.Source, &r.Model,
			&r.Usage.PromptTokens, &r.Usage.CompletionTokens, &r.Usage.TotalTokens, &r.Usage.Cost,
			&r.CreatedAtUnixMs); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Totals aggregates the ledger per source, ordered by source name.
func (s *Store) Totals(ctx context.Context) ([]SourceTotal, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ledger not ready")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT source, COUNT(1), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
       COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost), 0)
FROM llm_usage
GROUP BY source
ORDER BY source
`)
	if err != nil {
		return nil, fmt.Errorf("sum usage: %w", err)
	}
	defer rows.Close()

	var out []SourceTotal
	for rows.Next() {
		var t SourceTotal
		if err := rows.Scan(&t.Source, &t.Calls, &t.Usage.PromptTokens, &t.Usage.CompletionTokens,
			&t.Usage.TotalTokens, &t.Usage.Cost); err != nil {
			return nil, fmt.Errorf("scan totals: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS llm_usage (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  cycle_id TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL,
  model TEXT NOT NULL DEFAULT '',
  prompt_tokens INTEGER NOT NULL DEFAULT 0,
  completion_tokens INTEGER NOT NULL DEFAULT 0,
  total_tokens INTEGER NOT NULL DEFAULT 0,
  cost REAL NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_source ON llm_usage(source);
`); err != nil {
		return fmt.Errorf("create llm_usage: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}
