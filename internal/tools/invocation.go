package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Tool names.
const (
	NameSendOwnerMessage = "send_owner_message"
	NameScheduleSelfTask = "schedule_self_task"
	NameUpdateScratchpad = "update_scratchpad"
	NameUpdateIdentity   = "update_identity"
	NameSetNextWakeup    = "set_next_wakeup"
)

// Wakeup interval bounds.
const (
	MinWakeup           = 60 * time.Second
	MaxWakeup           = 3600 * time.Second
	DefaultWakeupSecond = 300
)

// ErrUnknownTool is returned by Decode for a name outside the declared tool set.
var ErrUnknownTool = errors.New("unknown tool")

// DecodeError reports malformed arguments for a known tool.
type DecodeError struct {
	Tool string
	Err  error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("decode %s arguments: %v", e.Tool, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Invocation is one decoded tool call. The set of implementations is closed.
type Invocation interface {
	ToolName() string
	isInvocation()
}

type SendOwnerMessage struct {
	Text string
	// Reason is logged only, never delivered.
	Reason string
}

type ScheduleSelfTask struct {
	Description string
}

type UpdateScratchpad struct {
	Content string
}

type UpdateIdentity struct {
	Content string
}

type SetNextWakeup struct {
	Seconds int64
}

func (SendOwnerMessage) ToolName() string { return NameSendOwnerMessage }
func (ScheduleSelfTask) ToolName() string { return NameScheduleSelfTask }
func (UpdateScratchpad) ToolName() string { return NameUpdateScratchpad }
func (UpdateIdentity) ToolName() string   { return NameUpdateIdentity }
func (SetNextWakeup) ToolName() string    { return NameSetNextWakeup }

func (SendOwnerMessage) isInvocation() {}
func (ScheduleSelfTask) isInvocation() {}
func (UpdateScratchpad) isInvocation() {}
func (UpdateIdentity) isInvocation()   {}
func (SetNextWakeup) isInvocation()    {}

// Interval returns the requested wakeup interval clamped to [MinWakeup, MaxWakeup].
func (s SetNextWakeup) Interval() time.Duration {
	return ClampWakeup(s.Seconds)
}

// ClampWakeup converts seconds to a duration within [MinWakeup, MaxWakeup].
func ClampWakeup(seconds int64) time.Duration {
	if seconds < int64(MinWakeup/time.Second) {
		return MinWakeup
	}
	if seconds > int64(MaxWakeup/time.Second) {
		return MaxWakeup
	}
	return time.Duration(seconds) * time.Second
}

// Decode validates the raw JSON arguments of a tool call and returns its typed invocation.
func Decode(name string, arguments string) (Invocation, error) {
	name = strings.TrimSpace(name)
	args, err := parseArgs(arguments)
	if err != nil {
		if !isKnown(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
		}
		return nil, &DecodeError{Tool: name, Err: err}
	}

	switch name {
	case NameSendOwnerMessage:
		text, err := stringArg(args, "text")
		if err != nil {
			return nil, &DecodeError{Tool: name, Err: err}
		}
		reason, err := stringArg(args, "reason")
		if err != nil {
			return nil, &DecodeError{Tool: name, Err: err}
		}
		return SendOwnerMessage{Text: text, Reason: reason}, nil
	case NameScheduleSelfTask:
		desc, err := stringArg(args, "description")
		if err != nil {
			return nil, &DecodeError{Tool: name, Err: err}
		}
		return ScheduleSelfTask{Description: desc}, nil
	case NameUpdateScratchpad:
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, &DecodeError{Tool: name, Err: err}
		}
		return UpdateScratchpad{Content: content}, nil
	case NameUpdateIdentity:
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, &DecodeError{Tool: name, Err: err}
		}
		return UpdateIdentity{Content: content}, nil
	case NameSetNextWakeup:
		seconds, err := secondsArg(args, "seconds")
		if err != nil {
			return nil, &DecodeError{Tool: name, Err: err}
		}
		return SetNextWakeup{Seconds: seconds}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

func isKnown(name string) bool {
	switch name {
	case NameSendOwnerMessage, NameScheduleSelfTask, NameUpdateScratchpad, NameUpdateIdentity, NameSetNextWakeup:
		return true
	default:
		return false
	}
}

func parseArgs(raw string) (map[string]json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]json.RawMessage{}, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]json.RawMessage{}
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func stringArg(args map[string]json.RawMessage, key string) (string, error) {
	raw, ok := args[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// secondsArg accepts a JSON number or a numeric string. Missing means the default interval.
func secondsArg(args map[string]json.RawMessage, key string) (int64, error) {
	raw, ok := args[key]
	if !ok || isNull(raw) {
		return DefaultWakeupSecond, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s must be finite", key)
	}
	if f > math.MaxInt32 {
		f = math.MaxInt32
	}
	if f < math.MinInt32 {
		f = math.MinInt32
	}
	return int64(f), nil
}
