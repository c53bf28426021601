package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
)

type providerMock struct {
	mu sync.Mutex

	// usageCost is written inline as usage.cost when non-nil.
	usageCost *float64
	// generationAnswers are served in order by /generation; the last one repeats.
	generationAnswers []string
	generationCalls   int
	chatStatus        int

	lastChatBody map[string]any
	lastHeaders  http.Header
}

func (m *providerMock) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode chat body: %v", err)
		}
		m.mu.Lock()
		m.lastChatBody = req
		m.lastHeaders = r.Header.Clone()
		status := m.chatStatus
		cost := m.usageCost
		m.mu.Unlock()

		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}

		usage := map[string]any{"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		if cost != nil {
			usage["cost"] = *cost
		}
		resp := map[string]any{
			"id":      "gen-123",
			"object":  "chat.completion",
			"created": 1,
			"model":   req["model"],
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"role":    "assistant",
					"content": "thinking about things",
					"tool_calls": []any{map[string]any{
						"id":       "call_1",
						"type":     "function",
						"function": map[string]any{"name": "set_next_wakeup", "arguments": `{"seconds":120}`},
					}},
				},
			}},
			"usage": usage,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/v1/generation", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "gen-123" {
			t.Errorf("generation id=%q, want gen-123", got)
		}
		m.mu.Lock()
		idx := m.generationCalls
		m.generationCalls++
		answers := m.generationAnswers
		m.mu.Unlock()

		body := `{"data":null}`
		if len(answers) > 0 {
			if idx >= len(answers) {
				idx = len(answers) - 1
			}
			body = answers[idx]
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	retries := 0
	c, err := New(Options{
		APIKey:         "sk-test",
		BaseURL:        srv.URL + "/api/v1",
		HTTPClient:     srv.Client(),
		MaxRetries:     &retries,
		CostRetryDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func floatPtr(v float64) *float64 { return &v }

func TestChat_InlineCost(t *testing.T) {
	t.Parallel()

	mock := &providerMock{usageCost: floatPtr(0.0042)}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()
	c := newTestClient(t, srv)

	msg, usage, err := c.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "ctx"},
			{Role: RoleUser, Content: "Wake up. Think."},
		},
		Model:           "openai/gpt-5.2",
		Tools:           []Tool{{Name: "set_next_wakeup", Description: "d", Parameters: map[string]any{"type": "object"}}},
		ReasoningEffort: "LOW",
		MaxTokens:       2048,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if msg.Content != "thinking about things" {
		t.Fatalf("Content=%q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "set_next_wakeup" || msg.ToolCalls[0].Arguments != `{"seconds":120}` {
		t.Fatalf("ToolCalls=%+v", msg.ToolCalls)
	}
	if usage.Cost != 0.0042 || usage.TotalTokens != 150 || usage.PromptTokens != 120 || usage.CompletionTokens != 30 {
		t.Fatalf("usage=%+v", usage)
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.generationCalls != 0 {
		t.Fatalf("generationCalls=%d, want 0", mock.generationCalls)
	}
	reasoning, _ := mock.lastChatBody["reasoning"].(map[string]any)
	if reasoning["effort"] != "low" || reasoning["exclude"] != true {
		t.Fatalf("reasoning=%v", mock.lastChatBody["reasoning"])
	}
	if mock.lastChatBody["tool_choice"] != "auto" {
		t.Fatalf("tool_choice=%v", mock.lastChatBody["tool_choice"])
	}
	if mock.lastChatBody["max_tokens"] != float64(2048) {
		t.Fatalf("max_tokens=%v", mock.lastChatBody["max_tokens"])
	}
	if got := mock.lastHeaders.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("Authorization=%q", got)
	}
	if got := mock.lastHeaders.Get("X-Title"); got != "wakeloop" {
		t.Fatalf("X-Title=%q", got)
	}
}

func TestChat_NoToolsOmitsToolChoice(t *testing.T) {
	t.Parallel()

	mock := &providerMock{usageCost: floatPtr(0.001)}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()
	c := newTestClient(t, srv)

	if _, _, err := c.Chat(context.Background(), ChatRequest{
		Messages:        []Message{{Role: RoleUser, Content: "hi"}},
		Model:           "m",
		ReasoningEffort: "turbo",
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if _, ok := mock.lastChatBody["tool_choice"]; ok {
		t.Fatalf("tool_choice sent without tools")
	}
	if _, ok := mock.lastChatBody["tools"]; ok {
		t.Fatalf("tools sent when none given")
	}
	reasoning, _ := mock.lastChatBody["reasoning"].(map[string]any)
	if reasoning["effort"] != "medium" {
		t.Fatalf("effort=%v, want medium fallback", reasoning["effort"])
	}
}

func TestChat_CostFallbackRetriesOnce(t *testing.T) {
	t.Parallel()

	mock := &providerMock{generationAnswers: []string{
		`{"data":null}`,
		`{"data":{"total_cost":0.002}}`,
	}}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, usage, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}, Model: "m"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if usage.Cost != 0.002 {
		t.Fatalf("Cost=%v, want 0.002", usage.Cost)
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.generationCalls != 2 {
		t.Fatalf("generationCalls=%d, want 2", mock.generationCalls)
	}
}

func TestChat_CostFallbackGivesUpSilently(t *testing.T) {
	t.Parallel()

	mock := &providerMock{generationAnswers: []string{`{"data":{}}`}}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()
	c := newTestClient(t, srv)

	msg, usage, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}, Model: "m"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if usage.Cost != 0 {
		t.Fatalf("Cost=%v, want 0", usage.Cost)
	}
	if usage.TotalTokens != 150 || msg.Content == "" {
		t.Fatalf("completion lost: usage=%+v msg=%+v", usage, msg)
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.generationCalls != 2 {
		t.Fatalf("generationCalls=%d, want exactly 2", mock.generationCalls)
	}
}

func TestChat_ZeroTotalCostIsRetried(t *testing.T) {
	t.Parallel()

	mock := &providerMock{generationAnswers: []string{
		`{"data":{"total_cost":0}}`,
		`{"data":{"total_cost":0.003}}`,
	}}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, usage, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}, Model: "m"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if usage.Cost != 0.003 {
		t.Fatalf("Cost=%v, want 0.003", usage.Cost)
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.generationCalls != 2 {
		t.Fatalf("generationCalls=%d, want 2", mock.generationCalls)
	}
}

func TestInlineCost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		body   string
		want   float64
		wantOK bool
	}{
		{`{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2,"cost":0.5}`, 0.5, true},
		{`{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2,"cost":"0.25"}`, 0, false},
		{`{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2,"cost":null}`, 0, false},
		{`{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}`, 0, false},
	}
	for _, tc := range cases {
		var u openai.CompletionUsage
		if err := json.Unmarshal([]byte(tc.body), &u); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.body, err)
		}
		got, ok := inlineCost(u)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("inlineCost(%s)=(%v,%v), want (%v,%v)", tc.body, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestChat_UsageCostFromNestedField(t *testing.T) {
	t.Parallel()

	mock := &providerMock{generationAnswers: []string{`{"data":{"usage":{"cost":0.0031}}}`}}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, usage, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}, Model: "m"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if usage.Cost != 0.0031 {
		t.Fatalf("Cost=%v, want 0.0031", usage.Cost)
	}
}

func TestChat_TransportErrorPropagates(t *testing.T) {
	t.Parallel()

	mock := &providerMock{chatStatus: http.StatusBadGateway}
	srv := httptest.NewServer(mock.handler(t))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, _, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}, Model: "m"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "chat completion") {
		t.Fatalf("err=%v", err)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{APIKey: "  "}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
