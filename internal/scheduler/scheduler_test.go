package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/floegence/wakeloop/internal/assembler"
	"github.com/floegence/wakeloop/internal/eventlog"
	"github.com/floegence/wakeloop/internal/ledger"
	"github.com/floegence/wakeloop/internal/llm"
	"github.com/floegence/wakeloop/internal/outbound"
	"github.com/floegence/wakeloop/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	msg   llm.Message
	usage llm.Usage
	err   error
	panic string
}

type scriptedChatter struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.ChatRequest
	called   chan struct{}
}

func newChatter(replies ...reply) *scriptedChatter {
	return &scriptedChatter{replies: replies, called: make(chan struct{}, 64)}
}

func (c *scriptedChatter) Chat(_ context.Context, req llm.ChatRequest) (llm.Message, llm.Usage, error) {
	c.mu.Lock()
	idx := len(c.requests)
	c.requests = append(c.requests, req)
	var r reply
	if len(c.replies) > 0 {
		if idx >= len(c.replies) {
			idx = len(c.replies) - 1
		}
		r = c.replies[idx]
	}
	c.mu.Unlock()
	defer func() { c.called <- struct{}{} }()

	if r.panic != "" {
		panic(r.panic)
	}
	return r.msg, r.usage, r.err
}

func (c *scriptedChatter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type recordingBuilder struct {
	mu   sync.Mutex
	seen [][]string
}

func (b *recordingBuilder) Build(_ context.Context, observations []string, rt assembler.Runtime) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, observations)
	return fmt.Sprintf("ctx interval=%s", rt.Interval)
}

type recordingSink struct {
	mu     sync.Mutex
	events []outbound.Event
}

func (s *recordingSink) Push(_ context.Context, e outbound.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) Append(eventType string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// manualTimer hands out a shared channel so tests decide when a wait ends.
type manualTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	fire  chan time.Time
}

func newManualTimer() *manualTimer {
	return &manualTimer{fire: make(chan time.Time)}
}

func (m *manualTimer) newTimer(d time.Duration) (<-chan time.Time, func() bool) {
	m.mu.Lock()
	m.waits = append(m.waits, d)
	m.mu.Unlock()
	return m.fire, func() bool { return true }
}

func (m *manualTimer) lastWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waits) == 0 {
		return 0
	}
	return m.waits[len(m.waits)-1]
}

func wakeupCall(seconds string) llm.Message {
	return llm.Message{
		Role:      llm.RoleAssistant,
		Content:   "thinking",
		ToolCalls: []llm.ToolCall{{ID: "c1", Name: tools.NameSetNextWakeup, Arguments: `{"seconds":` + seconds + `}`}},
	}
}

type harness struct {
	s       *Scheduler
	chat    *scriptedChatter
	builder *recordingBuilder
	sink    *recordingSink
	events  *recordingEvents
}

func newHarness(t *testing.T, chat *scriptedChatter, mutate func(*Options)) harness {
	t.Helper()
	h := harness{chat: chat, builder: &recordingBuilder{}, sink: &recordingSink{}, events: &recordingEvents{}}
	opts := Options{
		LLM:     chat,
		Context: h.builder,
		Tools:   tools.NewDispatcher(tools.Options{Sink: h.sink, Events: h.events}),
		Sink:    h.sink,
		Events:  h.events,
		Model:   "test/light",
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.s = s
	return h
}

func TestSetNextWakeupIsClamped(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"-10":    60 * time.Second,
		"0":      60 * time.Second,
		"59":     60 * time.Second,
		"61":     61 * time.Second,
		"900":    900 * time.Second,
		"3600":   3600 * time.Second,
		"100000": 3600 * time.Second,
	}
	for seconds, want := range cases {
		h := newHarness(t, newChatter(reply{msg: wakeupCall(seconds)}), nil)
		if got := h.s.step(context.Background()); got != want {
			t.Fatalf("set_next_wakeup(%s): next wait=%v, want %v", seconds, got, want)
		}
		if got := h.s.Interval(); got != want {
			t.Fatalf("set_next_wakeup(%s): interval=%v, want %v", seconds, got, want)
		}
	}
}

func TestPausedWakeDoesNotThink(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newChatter(reply{msg: wakeupCall("900")}), nil)
	h.s.Pause()
	if got := h.s.step(context.Background()); got != DefaultInterval {
		t.Fatalf("next wait=%v, want %v", got, DefaultInterval)
	}
	if h.chat.calls() != 0 {
		t.Fatalf("chat calls=%d while paused", h.chat.calls())
	}
	if h.s.Interval() != DefaultInterval || h.s.Status().SkippedPaused != 1 {
		t.Fatalf("status=%+v", h.s.Status())
	}

	h.s.Resume()
	h.s.step(context.Background())
	if h.chat.calls() != 1 || h.s.Interval() != 900*time.Second {
		t.Fatalf("after resume: calls=%d interval=%v", h.chat.calls(), h.s.Interval())
	}
}

func TestBudgetExhaustionForcesLongWait(t *testing.T) {
	t.Parallel()

	chat := newChatter(reply{msg: wakeupCall("120"), usage: llm.Usage{TotalTokens: 10, Cost: 0.06}})
	h := newHarness(t, chat, func(o *Options) {
		o.TotalBudget = 1
		o.BackgroundPct = 10
	})
	ctx := context.Background()

	if got := h.s.step(ctx); got != 120*time.Second {
		t.Fatalf("first wait=%v", got)
	}
	if got := h.s.step(ctx); got != 120*time.Second {
		t.Fatalf("second wait=%v", got)
	}
	if spent := h.s.Spent(); spent < 0.1 {
		t.Fatalf("spent=%v, want >= limit", spent)
	}

	for i := 0; i < 3; i++ {
		if got := h.s.step(ctx); got != BudgetBackoff {
			t.Fatalf("wait=%v, want %v", got, BudgetBackoff)
		}
	}
	if chat.calls() != 2 {
		t.Fatalf("chat calls=%d, want 2", chat.calls())
	}
	if got := h.s.Interval(); got != 120*time.Second {
		t.Fatalf("interval=%v, budget backoff must not change it", got)
	}
	if n := h.events.count(eventlog.TypeBudgetExhausted); n != 1 {
		t.Fatalf("budget exhausted events=%d, want 1", n)
	}
	st := h.s.Status()
	if !st.BudgetExhausted || st.SkippedBudget != 3 || st.Limit != 0.1 {
		t.Fatalf("status=%+v", st)
	}
	if err := h.s.ThinkOnce(ctx); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("ThinkOnce err=%v", err)
	}
}

func TestNoBudgetConfiguredAlwaysThinks(t *testing.T) {
	t.Parallel()

	chat := newChatter(reply{msg: llm.Message{Content: "ok"}, usage: llm.Usage{Cost: 1000}})
	h := newHarness(t, chat, nil)
	for i := 0; i < 3; i++ {
		if got := h.s.step(context.Background()); got != DefaultInterval {
			t.Fatalf("wait=%v", got)
		}
	}
	if chat.calls() != 3 {
		t.Fatalf("calls=%d", chat.calls())
	}
}

func TestConsecutiveFailuresBackOff(t *testing.T) {
	t.Parallel()

	chat := newChatter(reply{err: errors.New("connection reset")})
	h := newHarness(t, chat, nil)
	want := []time.Duration{600 * time.Second, 1200 * time.Second, 1800 * time.Second, 1800 * time.Second}
	for i, w := range want {
		if got := h.s.step(context.Background()); got != w {
			t.Fatalf("failure %d: wait=%v, want %v", i+1, got, w)
		}
	}
	st := h.s.Status()
	if st.Failures != 4 || st.ConsecutiveFailures != 4 || !strings.Contains(st.LastError, "connection reset") {
		t.Fatalf("status=%+v", st)
	}
	if h.events.count(eventlog.TypeError) != 4 || h.events.count(eventlog.TypeLLMError) != 4 {
		t.Fatalf("events=%v", h.events.events)
	}
}

func TestBackoffStartsFromModelChosenInterval(t *testing.T) {
	t.Parallel()

	chat := newChatter(
		reply{msg: wakeupCall("120")},
		reply{err: errors.New("transport fault")},
	)
	h := newHarness(t, chat, nil)
	h.s.step(context.Background())
	if got := h.s.step(context.Background()); got != 240*time.Second {
		t.Fatalf("wait=%v, want 240s", got)
	}
	if h.s.Interval() != 240*time.Second {
		t.Fatalf("interval=%v, want 240s", h.s.Interval())
	}
}

func TestSuccessWithoutWakeupKeepsInterval(t *testing.T) {
	t.Parallel()

	chat := newChatter(
		reply{msg: wakeupCall("700")},
		reply{msg: llm.Message{Content: "nothing to do"}},
	)
	h := newHarness(t, chat, nil)
	h.s.step(context.Background())
	if got := h.s.step(context.Background()); got != 700*time.Second {
		t.Fatalf("wait=%v, want sticky 700s", got)
	}
}

func TestPanicIsCycleFailure(t *testing.T) {
	t.Parallel()

	chat := newChatter(reply{panic: "nil map"}, reply{msg: llm.Message{Content: "fine"}})
	h := newHarness(t, chat, nil)
	if got := h.s.step(context.Background()); got != 600*time.Second {
		t.Fatalf("wait=%v", got)
	}
	h.s.step(context.Background())
	if st := h.s.Status(); st.ConsecutiveFailures != 0 || st.LastError != "" || st.Cycles != 2 {
		t.Fatalf("status=%+v", st)
	}
}

func TestUsageIsRecordedEverywhere(t *testing.T) {
	t.Parallel()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	usage := llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120, Cost: 0.002}
	chat := newChatter(reply{msg: llm.Message{Content: strings.Repeat("a", 400)}, usage: usage})
	h := newHarness(t, chat, func(o *Options) { o.Ledger = store })

	if err := h.s.ThinkOnce(context.Background()); err != nil {
		t.Fatalf("ThinkOnce: %v", err)
	}
	if h.s.Spent() != 0.002 {
		t.Fatalf("spent=%v", h.s.Spent())
	}

	if len(h.sink.events) != 1 {
		t.Fatalf("outbound events=%d", len(h.sink.events))
	}
	ev := h.sink.events[0]
	if ev.Type != outbound.TypeLLMUsage || ev.Fields["provider"] != "openrouter" || ev.Fields["source"] != "consciousness" || ev.Fields["usage"] != usage {
		t.Fatalf("usage event=%+v", ev)
	}

	rows, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 1 || rows[0].Usage != usage || rows[0].Source != "consciousness" || rows[0].Model != "test/light" || rows[0].CycleID == "" {
		t.Fatalf("ledger rows=%+v", rows)
	}
	if h.events.count(eventlog.TypeThought) != 1 {
		t.Fatalf("thought not logged")
	}

	req := chat.requests[0]
	if req.Model != "test/light" || req.ReasoningEffort != "low" || req.MaxTokens != 2048 || len(req.Tools) != 5 {
		t.Fatalf("request=%+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[1].Content != "Wake up. Think." {
		t.Fatalf("messages=%+v", req.Messages)
	}
}

func TestObservationsDrainedIntoNextCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newChatter(reply{msg: llm.Message{Content: "ok"}}), nil)
	h.s.InjectObservation("owner went quiet")
	h.s.InjectObservation("disk at 90%")
	if h.s.Status().PendingObservations != 2 {
		t.Fatalf("pending=%d", h.s.Status().PendingObservations)
	}
	h.s.step(context.Background())
	h.s.step(context.Background())

	h.builder.mu.Lock()
	defer h.builder.mu.Unlock()
	if len(h.builder.seen) != 2 || strings.Join(h.builder.seen[0], "|") != "owner went quiet|disk at 90%" || len(h.builder.seen[1]) != 0 {
		t.Fatalf("seen=%v", h.builder.seen)
	}
}

func TestLoopLifecycle(t *testing.T) {
	chat := newChatter(reply{msg: wakeupCall("120")})
	h := newHarness(t, chat, nil)
	timer := newManualTimer()
	h.s.newTimer = timer.newTimer

	ctx := context.Background()
	if !h.s.Start(ctx) {
		t.Fatalf("first Start returned false")
	}
	if h.s.Start(ctx) {
		t.Fatalf("second Start must be a no-op")
	}
	if h.s.Status().State != StateRunning {
		t.Fatalf("state=%s", h.s.Status().State)
	}
	if err := h.s.ThinkOnce(ctx); !errors.Is(err, ErrRunning) {
		t.Fatalf("ThinkOnce while running err=%v", err)
	}

	timer.fire <- time.Now()
	<-chat.called

	h.s.Pause()
	if h.s.Status().State != StatePaused {
		t.Fatalf("state=%s", h.s.Status().State)
	}
	timer.fire <- time.Now()
	timer.fire <- time.Now()
	if chat.calls() != 1 {
		t.Fatalf("thought while paused: calls=%d", chat.calls())
	}
	if got := timer.lastWait(); got != 120*time.Second {
		t.Fatalf("last wait=%v, want 120s", got)
	}

	h.s.Resume()
	<-chat.called

	if !h.s.Stop() {
		t.Fatalf("Stop returned false")
	}
	if h.s.Stop() {
		t.Fatalf("second Stop must be a no-op")
	}
	if h.s.Status().State != StateStopped {
		t.Fatalf("state=%s", h.s.Status().State)
	}
	if h.events.count(eventlog.TypeSchedulerLifecycle) != 2 {
		t.Fatalf("lifecycle events=%d", h.events.count(eventlog.TypeSchedulerLifecycle))
	}
}

func TestStaleResumeDoesNotWakeNextStart(t *testing.T) {
	chat := newChatter(reply{msg: wakeupCall("120")})
	h := newHarness(t, chat, nil)
	timer := newManualTimer()
	h.s.newTimer = timer.newTimer

	h.s.Resume()
	if !h.s.Start(context.Background()) {
		t.Fatalf("Start returned false")
	}
	select {
	case <-chat.called:
		t.Fatalf("thought on Start before %v elapsed", DefaultInterval)
	case <-time.After(100 * time.Millisecond):
	}
	if got := timer.lastWait(); got != DefaultInterval {
		t.Fatalf("first wait=%v, want %v", got, DefaultInterval)
	}

	timer.fire <- time.Now()
	<-chat.called
	h.s.Stop()
}

func TestStopInterruptsWait(t *testing.T) {
	h := newHarness(t, newChatter(), func(o *Options) { o.InitialInterval = time.Hour })
	if !h.s.Start(context.Background()) {
		t.Fatalf("Start returned false")
	}

	done := make(chan struct{})
	go func() {
		h.s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop did not interrupt the wait")
	}
	if h.chat.calls() != 0 {
		t.Fatalf("stop must not trigger a cycle")
	}
}

func TestContextCancelEndsLoop(t *testing.T) {
	h := newHarness(t, newChatter(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.s.Start(ctx)
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for h.s.Status().State != StateStopped {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not exit after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !h.s.Start(context.Background()) {
		t.Fatalf("restart after cancel failed")
	}
	h.s.Stop()
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing LLM")
	}
	s, err := New(Options{LLM: newChatter(), Context: &recordingBuilder{}, Tools: tools.NewDispatcher(tools.Options{}), InitialInterval: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Interval() != time.Minute {
		t.Fatalf("initial interval=%v, want clamped 60s", s.Interval())
	}
}
