package llm

import "strings"

// Reasoning effort levels accepted by the provider, lowest first.
const (
	EffortNone    = "none"
	EffortMinimal = "minimal"
	EffortLow     = "low"
	EffortMedium  = "medium"
	EffortHigh    = "high"
	EffortXHigh   = "xhigh"
)

var effortRanks = map[string]int{
	EffortNone:    0,
	EffortMinimal: 1,
	EffortLow:     2,
	EffortMedium:  3,
	EffortHigh:    4,
	EffortXHigh:   5,
}

// NormalizeReasoningEffort lower-cases and trims value and returns it if it is a known level,
// otherwise def.
func NormalizeReasoningEffort(value string, def string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if _, ok := effortRanks[v]; ok {
		return v
	}
	return def
}

// ReasoningRank orders effort levels. Unknown values rank as medium.
func ReasoningRank(value string) int {
	if r, ok := effortRanks[strings.ToLower(strings.TrimSpace(value))]; ok {
		return r
	}
	return effortRanks[EffortMedium]
}
