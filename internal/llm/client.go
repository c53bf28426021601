package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is the OpenRouter OpenAI-compatible endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	defaultRequestTimeout    = 5 * time.Minute
	defaultCostLookupTimeout = 5 * time.Second
	defaultCostRetryDelay    = 500 * time.Millisecond
	defaultAppTitle          = "wakeloop"
)

type Options struct {
	Logger *slog.Logger

	APIKey string
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// HTTPClient overrides the transport (tests, proxies).
	HTTPClient *http.Client

	// RequestTimeout bounds one chat call including SDK retries. If <= 0, a default is used.
	RequestTimeout time.Duration
	// MaxRetries overrides the SDK retry count for chat calls. Nil keeps the SDK default.
	MaxRetries *int

	// CostLookupTimeout bounds each generation-cost lookup attempt. If <= 0, a default is used.
	CostLookupTimeout time.Duration
	// CostRetryDelay is the pause between the two lookup attempts. If <= 0, a default is used.
	CostRetryDelay time.Duration

	// AppTitle and Referer are sent as X-Title / HTTP-Referer attribution headers.
	AppTitle string
	Referer  string
}

// Client issues chat-completion requests and guarantees a usage record (with cost) for every
// successful call.
type Client struct {
	log *slog.Logger
	api openai.Client

	requestTimeout    time.Duration
	costLookupTimeout time.Duration
	costRetryDelay    time.Duration
}

func New(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("missing provider api key")
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	title := strings.TrimSpace(opts.AppTitle)
	if title == "" {
		title = defaultAppTitle
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHeader("X-Title", title),
	}
	if ref := strings.TrimSpace(opts.Referer); ref != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", ref))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(*opts.MaxRetries))
	}

	c := &Client{
		log:               logger,
		api:               openai.NewClient(reqOpts...),
		requestTimeout:    opts.RequestTimeout,
		costLookupTimeout: opts.CostLookupTimeout,
		costRetryDelay:    opts.CostRetryDelay,
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.costLookupTimeout <= 0 {
		c.costLookupTimeout = defaultCostLookupTimeout
	}
	if c.costRetryDelay <= 0 {
		c.costRetryDelay = defaultCostRetryDelay
	}
	return c, nil
}

// Chat performs one chat-completion call.
//
// Transport and API errors are returned as-is (wrapped). A missing cost never fails the call:
// the client falls back to the generation lookup and, failing that, reports cost 0.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Message, Usage, error) {
	if c == nil {
		return Message{}, Usage{}, errors.New("nil llm client")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return Message{}, Usage{}, errors.New("missing model")
	}
	effort := NormalizeReasoningEffort(req.ReasoningEffort, EffortMedium)

	params := openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  toMessageParams(req.Messages),
		MaxTokens: openai.Int(req.effectiveMaxTokens()),
	}
	params.SetExtraFields(map[string]any{
		"reasoning": map[string]any{"effort": effort, "exclude": true},
	})
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(req.effectiveToolChoice()),
		}
	}

	resp, err := c.api.Chat.Completions.New(ctx, params, option.WithRequestTimeout(c.requestTimeout))
	if err != nil {
		return Message{}, Usage{}, fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil {
		return Message{}, Usage{}, errors.New("chat completion: empty response")
	}

	msg := Message{Role: RoleAssistant}
	if len(resp.Choices) > 0 {
		m := resp.Choices[0].Message
		msg.Content = m.Content
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if cost, ok := inlineCost(resp.Usage); ok && cost != 0 {
		usage.Cost = cost
	} else if id := strings.TrimSpace(resp.ID); id != "" {
		if cost, ok := c.fetchGenerationCost(ctx, id); ok {
			usage.Cost = cost
		}
	}
	return msg, usage, nil
}

// inlineCost reads the provider's non-standard usage.cost field.
func inlineCost(u openai.CompletionUsage) (float64, bool) {
	f, ok := u.JSON.ExtraFields["cost"]
	if !ok {
		return 0, false
	}
	// Undeclared fields never report Valid(); only the raw text is meaningful.
	raw := strings.TrimSpace(f.Raw())
	if raw == "" || raw == "null" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func toMessageParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toToolParams(tools []Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		fn := openai.FunctionDefinitionParam{
			Name:       name,
			Parameters: openai.FunctionParameters(t.Parameters),
		}
		if d := strings.TrimSpace(t.Description); d != "" {
			fn.Description = openai.String(d)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}
