package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/floegence/wakeloop/internal/eventlog"
	"github.com/floegence/wakeloop/internal/memory"
)

// execute runs the root command against an isolated config and state dir. Commands share
// package-level flag variables, so these tests do not run in parallel.
func execute(t *testing.T, state string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WAKELOOP_STATE_DIR", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("TOTAL_BUDGET", "")
	t.Setenv("OUROBOROS_BG_BUDGET_PCT", "")
	t.Setenv("OWNER_CHAT_ID", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	full := append([]string{"--config", filepath.Join(state, "missing.yaml"), "--state-dir", state}, args...)
	rootCmd.SetArgs(full)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "wakeloop ") {
		t.Fatalf("out=%q", out)
	}
}

func TestReviewCommand(t *testing.T) {
	state := t.TempDir()
	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\n\nfunc main() {\n}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "logo.png"), []byte("\x89PNG"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, state, "review", repo)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	for _, want := range []string{"Collected 1 files", "Profile deep_review", "Files: 1", "Chunks (cap 70000 tokens):"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEventsAndJournalCommands(t *testing.T) {
	state := t.TempDir()
	events, err := eventlog.New(eventlog.Options{Dir: filepath.Join(state, "logs")})
	if err != nil {
		t.Fatal(err)
	}
	events.Append(eventlog.TypeThought, map[string]any{"preview": "hello"})
	if _, err := memory.NewStore(filepath.Join(state, "memory")).WriteScratchpad("notes", "consciousness"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, state, "events", "--limit", "5")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, eventlog.TypeThought) {
		t.Fatalf("events out=%q", out)
	}

	out, err = execute(t, state, "journal", "--limit", "5")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if !strings.Contains(out, "consciousness") || !strings.Contains(out, `"notes"`) {
		t.Fatalf("journal out=%q", out)
	}
}

func TestSecretsCommands(t *testing.T) {
	state := t.TempDir()

	if _, err := execute(t, state, "secrets", "set-key", "sk-abc"); err != nil {
		t.Fatalf("set-key: %v", err)
	}
	out, err := execute(t, state, "secrets", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "secrets file: true") {
		t.Fatalf("status out=%q", out)
	}
	if _, err := execute(t, state, "secrets", "clear-key"); err != nil {
		t.Fatalf("clear-key: %v", err)
	}
	out, err = execute(t, state, "secrets", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "secrets file: false") {
		t.Fatalf("status out=%q", out)
	}
}
