package llm

// Usage is the token and cost record produced by exactly one chat call.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Add accumulates other into u. Cost is only added when other carries one.
func (u *Usage) Add(other Usage) {
	if u == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	if other.Cost != 0 {
		u.Cost += other.Cost
	}
}
