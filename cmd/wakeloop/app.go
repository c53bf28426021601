package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/floegence/wakeloop/internal/assembler"
	"github.com/floegence/wakeloop/internal/config"
	"github.com/floegence/wakeloop/internal/eventlog"
	"github.com/floegence/wakeloop/internal/ledger"
	"github.com/floegence/wakeloop/internal/llm"
	"github.com/floegence/wakeloop/internal/lockfile"
	"github.com/floegence/wakeloop/internal/memory"
	"github.com/floegence/wakeloop/internal/monitor"
	"github.com/floegence/wakeloop/internal/outbound"
	"github.com/floegence/wakeloop/internal/scheduler"
	"github.com/floegence/wakeloop/internal/settings"
	"github.com/floegence/wakeloop/internal/tools"
)

const outboundCapacity = 256

func loadConfig() (*config.Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := strings.TrimSpace(stateDir); v != "" {
		cfg.StateDir = v
	}
	if v := strings.TrimSpace(logFormat); v != "" {
		cfg.LogFormat = v
	}
	if v := strings.TrimSpace(logLevel); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	var lvl slog.Level
	switch cfg.EffectiveLogLevel() {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", cfg.LogLevel)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	var h slog.Handler
	switch cfg.EffectiveLogFormat(interactive) {
	case config.LogFormatText:
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h), nil
}

// app wires the runtime components for one command invocation.
type app struct {
	cfg *config.Config
	log *slog.Logger

	lock      *lockfile.Lock
	events    *eventlog.Store
	memory    *memory.Store
	ledger    *ledger.Store
	outbound  *outbound.Channel
	scheduler *scheduler.Scheduler
}

type appOptions struct {
	// lock takes the state-dir lock so only one process thinks against it.
	lock bool
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dir := cfg.EffectiveStateDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("init state dir: %w", err)
	}
	if opts.lock {
		lk, err := lockfile.Acquire(cfg.LockPath())
		if err != nil {
			return nil, fmt.Errorf("acquire state lock (is `wakeloop run` already active?): %w", err)
		}
		a.lock = lk
	}

	apiKey, err := settings.ResolveAPIKey(cfg.APIKey, settings.NewSecretsStore(cfg.SecretsPath()), settings.ProviderOpenRouter)
	if err != nil {
		return nil, err
	}
	client, err := llm.New(llm.Options{
		Logger:         log.With("component", "llm"),
		APIKey:         apiKey,
		BaseURL:        cfg.EffectiveBaseURL(),
		RequestTimeout: cfg.EffectiveRequestTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	a.events, err = eventlog.New(eventlog.Options{Logger: log, Dir: cfg.LogsDir()})
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	a.memory = memory.NewStore(cfg.MemoryDir())
	a.ledger, err = ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	a.outbound = outbound.NewChannel(outboundCapacity, 0)

	dispatcher := tools.NewDispatcher(tools.Options{
		Logger: log.With("component", "tools"),
		Sink:   a.outbound,
		Owner:  cfg.OwnerChatID,
		Memory: a.memory,
		Events: a.events,
	})
	builder := assembler.New(assembler.Options{
		Logger:    log,
		RepoDir:   cfg.EffectiveRepoDir(),
		Documents: a.memory,
		Host:      monitor.NewService(log),
	})
	a.scheduler, err = scheduler.New(scheduler.Options{
		Logger:          log.With("component", "scheduler"),
		LLM:             client,
		Context:         builder,
		Tools:           dispatcher,
		Observations:    assembler.NewObservationQueue(cfg.EffectiveObservationCapacity()),
		Sink:            a.outbound,
		Ledger:          a.ledger,
		Events:          a.events,
		TotalBudget:     cfg.Budget.Total,
		BackgroundPct:   cfg.EffectiveBackgroundPct(),
		InitialInterval: cfg.EffectiveInitialInterval(),
		Model:           cfg.EffectiveLightModel(),
		ReasoningEffort: llm.EffortLow,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("close ledger", "error", err)
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil && !errors.Is(err, os.ErrClosed) {
			a.log.Warn("release lock", "error", err)
		}
	}
}
