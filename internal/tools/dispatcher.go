package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/floegence/wakeloop/internal/eventlog"
	"github.com/floegence/wakeloop/internal/llm"
	"github.com/floegence/wakeloop/internal/outbound"
	"github.com/floegence/wakeloop/internal/textutil"
)

const (
	journalSource       = "consciousness"
	messagePreviewChars = 200
)

// OwnerResolver returns the current owner chat id, or ok=false when no destination is known.
type OwnerResolver func() (chatID int64, ok bool)

// Memory is the writable side of the memory artifacts.
type Memory interface {
	WriteIdentity(content string) (bool, error)
	WriteScratchpad(content string, source string) (bool, error)
}

// EventRecorder appends structured events to the append-only log.
type EventRecorder interface {
	Append(eventType string, fields map[string]any)
}

type Options struct {
	Logger *slog.Logger

	Sink   outbound.Sink
	Owner  OwnerResolver
	Memory Memory
	Events EventRecorder
}

// Report summarises one batch of tool calls.
type Report struct {
	Calls   int
	Applied int
	NoOps   int
	Skipped int
	Failed  int

	// NextWakeup is the last clamped set_next_wakeup request, if HasWakeup.
	NextWakeup time.Duration
	HasWakeup  bool
}

// Dispatcher applies decoded tool calls. Each call is isolated: a decode failure, an unknown
// name, a returned error or a panic affects only that call.
type Dispatcher struct {
	log    *slog.Logger
	sink   outbound.Sink
	owner  OwnerResolver
	memory Memory
	events EventRecorder
}

func NewDispatcher(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		log:    logger,
		sink:   opts.Sink,
		owner:  opts.Owner,
		memory: opts.Memory,
		events: opts.Events,
	}
}

// Dispatch runs calls in order. set_next_wakeup is not applied here; the caller reads it from
// the report so the interval stays owned by the scheduler.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall) Report {
	rep := Report{Calls: len(calls)}
	for _, call := range calls {
		inv, err := Decode(call.Name, call.Arguments)
		if err != nil {
			rep.Skipped++
			d.log.Warn("tool call skipped", "tool", call.Name, "call_id", call.ID, "error", err)
			d.record(eventlog.TypeToolSkipped, map[string]any{
				"tool":  call.Name,
				"error": err.Error(),
			})
			continue
		}

		if w, ok := inv.(SetNextWakeup); ok {
			rep.NextWakeup = w.Interval()
			rep.HasWakeup = true
			rep.Applied++
			d.log.Debug("next wakeup requested", "seconds", w.Seconds, "interval", rep.NextWakeup)
			continue
		}

		applied, err := d.apply(ctx, inv)
		switch {
		case err != nil:
			rep.Failed++
			d.log.Warn("tool call failed", "tool", inv.ToolName(), "call_id", call.ID, "error", err)
			d.record(eventlog.TypeToolError, map[string]any{
				"tool":  inv.ToolName(),
				"error": err.Error(),
			})
		case applied:
			rep.Applied++
		default:
			rep.NoOps++
		}
	}
	return rep
}

func (d *Dispatcher) apply(ctx context.Context, inv Invocation) (applied bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			applied = false
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch v := inv.(type) {
	case SendOwnerMessage:
		return d.sendOwnerMessage(ctx, v)
	case ScheduleSelfTask:
		return d.scheduleSelfTask(ctx, v)
	case UpdateScratchpad:
		if d.memory == nil {
			return false, errors.New("memory store not configured")
		}
		return d.memory.WriteScratchpad(v.Content, journalSource)
	case UpdateIdentity:
		if d.memory == nil {
			return false, errors.New("memory store not configured")
		}
		return d.memory.WriteIdentity(v.Content)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownTool, inv.ToolName())
	}
}

func (d *Dispatcher) sendOwnerMessage(ctx context.Context, m SendOwnerMessage) (bool, error) {
	if m.Text == "" || d.owner == nil {
		return false, nil
	}
	chatID, ok := d.owner()
	if !ok || chatID == 0 {
		return false, nil
	}
	if d.sink != nil {
		if err := d.sink.Push(ctx, outbound.SendMessageEvent(chatID, m.Text)); err != nil {
			return false, fmt.Errorf("push send_message: %w", err)
		}
	}
	d.record(eventlog.TypeProactiveMessage, map[string]any{
		"reason":       strings.TrimSpace(m.Reason),
		"text_preview": textutil.Truncate(m.Text, messagePreviewChars),
	})
	return true, nil
}

func (d *Dispatcher) scheduleSelfTask(ctx context.Context, t ScheduleSelfTask) (bool, error) {
	if t.Description == "" {
		return false, nil
	}
	if d.sink == nil {
		return false, nil
	}
	if err := d.sink.Push(ctx, outbound.ScheduleTaskEvent(t.Description)); err != nil {
		return false, fmt.Errorf("push schedule_task: %w", err)
	}
	return true, nil
}

func (d *Dispatcher) record(eventType string, fields map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Append(eventType, fields)
}
