package outbound

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/floegence/wakeloop/internal/llm"
)

// Event kinds consumed by the external supervisor.
const (
	TypeLLMUsage     = "llm_usage"
	TypeSendMessage  = "send_message"
	TypeScheduleTask = "schedule_task"
)

// Event is one supervisor-bound record: {type, ...fields, ts}.
type Event struct {
	ID     string
	Type   string
	Fields map[string]any
	TS     time.Time
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["id"] = e.ID
	m["type"] = e.Type
	m["ts"] = e.TS.UTC().Format(time.RFC3339Nano)
	return json.Marshal(m)
}

func newEvent(eventType string, fields map[string]any) Event {
	return Event{
		ID:     ulid.Make().String(),
		Type:   eventType,
		Fields: fields,
		TS:     time.Now().UTC(),
	}
}

// UsageEvent reports the cost of one LLM call. The supervisor keeps its own accounting copy.
func UsageEvent(u llm.Usage, provider string, source string) Event {
	return newEvent(TypeLLMUsage, map[string]any{
		"provider": provider,
		"source":   source,
		"usage":    u,
	})
}

// SendMessageEvent asks the supervisor to deliver text to the owner chat.
func SendMessageEvent(chatID int64, text string) Event {
	return newEvent(TypeSendMessage, map[string]any{
		"chat_id":     chatID,
		"text":        text,
		"is_progress": false,
	})
}

// ScheduleTaskEvent asks the supervisor to enqueue a foreground task.
func ScheduleTaskEvent(description string) Event {
	return newEvent(TypeScheduleTask, map[string]any{
		"description": description,
	})
}
