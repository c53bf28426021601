package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/floegence/wakeloop/internal/assembler"
	"github.com/floegence/wakeloop/internal/eventlog"
	"github.com/floegence/wakeloop/internal/ledger"
	"github.com/floegence/wakeloop/internal/llm"
	"github.com/floegence/wakeloop/internal/outbound"
	"github.com/floegence/wakeloop/internal/textutil"
	"github.com/floegence/wakeloop/internal/tools"
)

const (
	DefaultInterval       = 300 * time.Second
	DefaultBackgroundPct  = 10.0
	DefaultMaxTokens      = 2048
	DefaultEffort         = llm.EffortLow
	BudgetBackoff         = 3600 * time.Second
	MaxFailureInterval    = 1800 * time.Second
	UsageProvider         = "openrouter"
	UsageSource           = "consciousness"
	wakePrompt            = "Wake up. Think."
	thoughtPreviewChars   = 300
	errorPreviewChars     = 1500
	defaultLedgerDeadline = 5 * time.Second
)

var (
	// ErrRunning is returned by ThinkOnce while the background loop owns the thinking slot.
	ErrRunning = errors.New("scheduler loop is running")
	// ErrBudgetExhausted is returned by ThinkOnce when background spend reached its allotment.
	ErrBudgetExhausted = errors.New("background budget exhausted")
)

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Chatter is the request client.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.Message, llm.Usage, error)
}

// ContextBuilder assembles the prompt for one cycle.
type ContextBuilder interface {
	Build(ctx context.Context, observations []string, rt assembler.Runtime) string
}

// ToolDispatcher applies the model's tool calls.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, calls []llm.ToolCall) tools.Report
}

// UsageLedger persists a reporting copy of each usage record.
type UsageLedger interface {
	Append(ctx context.Context, r ledger.Record) (int64, error)
}

// EventRecorder appends structured events to the append-only log.
type EventRecorder interface {
	Append(eventType string, fields map[string]any)
}

type Options struct {
	Logger *slog.Logger

	LLM          Chatter
	Context      ContextBuilder
	Tools        ToolDispatcher
	Observations *assembler.ObservationQueue

	// Sink receives llm_usage events. Optional.
	Sink outbound.Sink
	// Ledger is optional; write failures are logged and ignored.
	Ledger UsageLedger
	Events EventRecorder

	// TotalBudget <= 0 disables the budget gate.
	TotalBudget float64
	// BackgroundPct is the share of TotalBudget background thinking may spend. If <= 0, DefaultBackgroundPct.
	BackgroundPct float64

	// InitialInterval is clamped to the wakeup bounds. If <= 0, DefaultInterval.
	InitialInterval time.Duration

	Model           string
	MaxTokens       int
	ReasoningEffort string
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State               State         `json:"state"`
	Interval            time.Duration `json:"interval"`
	NextWait            time.Duration `json:"next_wait"`
	Spent               float64       `json:"spent"`
	Limit               float64       `json:"limit"`
	BudgetExhausted     bool          `json:"budget_exhausted"`
	Cycles              int64         `json:"cycles"`
	Failures            int64         `json:"failures"`
	ConsecutiveFailures int64         `json:"consecutive_failures"`
	SkippedPaused       int64         `json:"skipped_paused"`
	SkippedBudget       int64         `json:"skipped_budget"`
	PendingObservations int           `json:"pending_observations"`
	LastCycleAt         time.Time     `json:"last_cycle_at,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// Scheduler runs the background wake loop: sleep for the wakeup interval, wake, check the
// budget, think, apply tool calls, repeat.
//
// Interval and spend are guarded by mu and only mutated by the goroutine doing the thinking.
// Paused is an atomic flag the foreground may flip at any time. At most one cycle runs at once.
type Scheduler struct {
	log *slog.Logger

	llm    Chatter
	ctxb   ContextBuilder
	tools  ToolDispatcher
	obs    *assembler.ObservationQueue
	sink   outbound.Sink
	ledger UsageLedger
	events EventRecorder

	limit     float64
	model     string
	maxTokens int
	effort    string

	paused atomic.Bool
	wakeCh chan struct{}

	// thinking serializes cycles between the loop and ThinkOnce.
	thinking sync.Mutex

	mu              sync.Mutex
	interval        time.Duration
	nextWait        time.Duration
	spent           float64
	budgetExhausted bool
	cycles          int64
	failures        int64
	consecutive     int64
	skippedPaused   int64
	skippedBudget   int64
	lastCycleAt     time.Time
	lastError       string

	running  bool
	stopping bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	// newTimer is replaced in tests.
	newTimer func(d time.Duration) (<-chan time.Time, func() bool)
	now      func() time.Time
}

func New(opts Options) (*Scheduler, error) {
	if opts.LLM == nil {
		return nil, errors.New("missing LLM")
	}
	if opts.Context == nil {
		return nil, errors.New("missing Context")
	}
	if opts.Tools == nil {
		return nil, errors.New("missing Tools")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := opts.Observations
	if obs == nil {
		obs = assembler.NewObservationQueue(0)
	}

	pct := opts.BackgroundPct
	if pct <= 0 {
		pct = DefaultBackgroundPct
	}
	var limit float64
	if opts.TotalBudget > 0 {
		limit = opts.TotalBudget * pct / 100
	}

	interval := opts.InitialInterval
	if interval <= 0 {
		interval = DefaultInterval
	}
	interval = tools.ClampWakeup(int64(interval / time.Second))

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = llm.DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Scheduler{
		log:       logger,
		llm:       opts.LLM,
		ctxb:      opts.Context,
		tools:     opts.Tools,
		obs:       obs,
		sink:      opts.Sink,
		ledger:    opts.Ledger,
		events:    opts.Events,
		limit:     limit,
		model:     model,
		maxTokens: maxTokens,
		effort:    llm.NormalizeReasoningEffort(opts.ReasoningEffort, DefaultEffort),
		wakeCh:    make(chan struct{}, 1),
		interval:  interval,
		nextWait:  interval,
		newTimer:  realTimer,
		now:       time.Now,
	}, nil
}

func realTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// Start launches the loop goroutine. It returns false if the loop is already running.
//
// ctx bounds the loop and every model call made by it. Stop does not cancel ctx, so a call in
// flight when Stop is requested is allowed to finish.
func (s *Scheduler) Start(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.stopping = false
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.paused.Store(false)
	s.nextWait = s.interval
	// A Resume issued while stopped must not cut the first wait short.
	select {
	case <-s.wakeCh:
	default:
	}

	go s.loop(ctx, s.stopCh, s.doneCh)
	s.log.Info("background scheduler started", "interval", s.interval, "model", s.model, "limit", s.limit)
	s.record(eventlog.TypeSchedulerLifecycle, map[string]any{"action": "start", "interval_s": s.interval.Seconds()})
	return true
}

// Stop ends the loop and waits for it to exit. It returns false if the loop was not running.
// A pending wait is interrupted at once; a cycle already thinking completes first.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return false
	}
	s.stopping = true
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.record(eventlog.TypeSchedulerLifecycle, map[string]any{"action": "stop"})
	return true
}

// Pause makes subsequent wakes skip thinking until Resume. A cycle in flight is not interrupted.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.log.Debug("background scheduler paused")
	}
}

// Resume clears Pause and forces an immediate wake check.
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.log.Debug("background scheduler resumed")
	}
	s.wake()
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// InjectObservation queues text for the next natural wake. It never forces a wake.
func (s *Scheduler) InjectObservation(text string) {
	s.obs.Push(text)
}

func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Interval returns the current wakeup interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Spent returns cumulative background spend since process start.
func (s *Scheduler) Spent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spent
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := StateStopped
	if s.running {
		state = StateRunning
		if s.paused.Load() {
			state = StatePaused
		}
	}
	return Status{
		State:               state,
		Interval:            s.interval,
		NextWait:            s.nextWait,
		Spent:               s.spent,
		Limit:               s.limit,
		BudgetExhausted:     s.budgetExhausted,
		Cycles:              s.cycles,
		Failures:            s.failures,
		ConsecutiveFailures: s.consecutive,
		SkippedPaused:       s.skippedPaused,
		SkippedBudget:       s.skippedBudget,
		PendingObservations: s.obs.Len(),
		LastCycleAt:         s.lastCycleAt,
		LastError:           s.lastError,
	}
}

// ThinkOnce runs a single cycle synchronously. It refuses while the loop is running and when the
// background budget is exhausted. Failure backoff applies as in the loop.
func (s *Scheduler) ThinkOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return ErrRunning
	}
	if !s.checkBudget() {
		return ErrBudgetExhausted
	}
	return s.runCycle(ctx)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.stopping = false
		s.mu.Unlock()
		close(doneCh)
	}()

	for {
		s.mu.Lock()
		wait := s.nextWait
		s.mu.Unlock()

		timerC, stopTimer := s.newTimer(wait)
		select {
		case <-stopCh:
			stopTimer()
			return
		case <-ctx.Done():
			stopTimer()
			return
		case <-s.wakeCh:
			stopTimer()
		case <-timerC:
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		next := s.step(ctx)
		s.mu.Lock()
		s.nextWait = next
		s.mu.Unlock()
	}
}

// step handles one wake and returns how long to wait before the next one.
func (s *Scheduler) step(ctx context.Context) time.Duration {
	if s.paused.Load() {
		s.mu.Lock()
		s.skippedPaused++
		interval := s.interval
		s.mu.Unlock()
		return interval
	}

	if !s.checkBudget() {
		s.mu.Lock()
		s.skippedBudget++
		s.mu.Unlock()
		return BudgetBackoff
	}

	_ = s.runCycle(ctx)
	return s.Interval()
}

// checkBudget reports whether thinking is allowed and logs gate transitions once.
func (s *Scheduler) checkBudget() bool {
	s.mu.Lock()
	if s.limit <= 0 {
		s.mu.Unlock()
		return true
	}
	exhausted := s.spent >= s.limit
	changed := exhausted != s.budgetExhausted
	s.budgetExhausted = exhausted
	spent, limit := s.spent, s.limit
	s.mu.Unlock()

	if changed {
		if exhausted {
			s.log.Warn("background budget exhausted", "spent", spent, "limit", limit)
			s.record(eventlog.TypeBudgetExhausted, map[string]any{"spent_usd": spent, "limit_usd": limit})
		} else {
			s.log.Info("background budget restored", "spent", spent, "limit", limit)
			s.record(eventlog.TypeBudgetRestored, map[string]any{"spent_usd": spent, "limit_usd": limit})
		}
	}
	return !exhausted
}

// runCycle thinks once and applies the failure policy. Panics are treated as cycle failures.
func (s *Scheduler) runCycle(ctx context.Context) error {
	s.thinking.Lock()
	defer s.thinking.Unlock()

	cycleID := newCycleID()
	err := s.safeThink(ctx, cycleID)

	s.mu.Lock()
	s.cycles++
	s.lastCycleAt = s.now()
	if err == nil {
		s.consecutive = 0
		s.lastError = ""
		s.mu.Unlock()
		return nil
	}
	s.failures++
	s.consecutive++
	s.lastError = err.Error()
	next := s.interval * 2
	if next > MaxFailureInterval {
		next = MaxFailureInterval
	}
	s.interval = next
	s.mu.Unlock()

	s.log.Warn("background cycle failed", "cycle_id", cycleID, "error", err, "next_interval", next)
	s.record(eventlog.TypeError, map[string]any{
		"cycle_id":   cycleID,
		"error":      textutil.Truncate(err.Error(), errorPreviewChars),
		"interval_s": next.Seconds(),
	})
	return err
}

func (s *Scheduler) safeThink(ctx context.Context, cycleID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in thinking cycle: %v", r)
		}
	}()
	return s.think(ctx, cycleID)
}

func (s *Scheduler) think(ctx context.Context, cycleID string) error {
	observations := s.obs.Drain()

	s.mu.Lock()
	rt := assembler.Runtime{Now: s.now(), Spent: s.spent, Interval: s.interval}
	s.mu.Unlock()

	prompt := s.ctxb.Build(ctx, observations, rt)
	msg, usage, err := s.llm.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: wakePrompt},
		},
		Model:           s.model,
		Tools:           tools.Definitions(),
		ReasoningEffort: s.effort,
		MaxTokens:       s.maxTokens,
		ToolChoice:      llm.DefaultToolChoice,
	})
	if err != nil {
		s.record(eventlog.TypeLLMError, map[string]any{
			"cycle_id": cycleID,
			"model":    s.model,
			"error":    textutil.Truncate(err.Error(), errorPreviewChars),
		})
		return fmt.Errorf("llm call: %w", err)
	}

	s.recordUsage(ctx, cycleID, usage)
	s.record(eventlog.TypeThought, map[string]any{
		"cycle_id":        cycleID,
		"thought_preview": textutil.Truncate(msg.Content, thoughtPreviewChars),
		"cost_usd":        usage.Cost,
		"model":           s.model,
		"tool_calls":      len(msg.ToolCalls),
	})

	if len(msg.ToolCalls) == 0 {
		return nil
	}
	rep := s.tools.Dispatch(ctx, msg.ToolCalls)
	if rep.HasWakeup {
		s.mu.Lock()
		s.interval = rep.NextWakeup
		s.mu.Unlock()
	}
	s.log.Debug("background cycle done", "cycle_id", cycleID, "applied", rep.Applied, "skipped", rep.Skipped, "failed", rep.Failed)
	return nil
}

// recordUsage adds the cost to spend and forwards the usage to the supervisor and the ledger.
func (s *Scheduler) recordUsage(ctx context.Context, cycleID string, u llm.Usage) {
	if u.Cost > 0 {
		s.mu.Lock()
		s.spent += u.Cost
		s.mu.Unlock()
	}

	if s.sink != nil {
		if err := s.sink.Push(ctx, outbound.UsageEvent(u, UsageProvider, UsageSource)); err != nil {
			s.log.Warn("usage event not delivered", "cycle_id", cycleID, "error", err)
		}
	}
	if s.ledger != nil {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultLedgerDeadline)
		defer cancel()
		if _, err := s.ledger.Append(lctx, ledger.Record{
			CycleID: cycleID,
			Source:  UsageSource,
			Model:   s.model,
			Usage:   u,
		}); err != nil {
			s.log.Warn("usage ledger append failed", "cycle_id", cycleID, "error", err)
		}
	}
}

func (s *Scheduler) record(eventType string, fields map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Append(eventType, fields)
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
