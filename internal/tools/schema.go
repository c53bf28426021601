package tools

import "github.com/floegence/wakeloop/internal/llm"

// Definitions returns the function-call contracts offered to the model, in declaration order.
func Definitions() []llm.Tool {
	return []llm.Tool{
		{
			Name:        NameSendOwnerMessage,
			Description: "Send a proactive message to the owner. Use sparingly, only when you have something genuinely worth saying.",
			Parameters: objectSchema(map[string]any{
				"text":   stringProp("Message text"),
				"reason": stringProp("Why you're reaching out (logged, not sent to owner)"),
			}, "text"),
		},
		{
			Name:        NameScheduleSelfTask,
			Description: "Schedule a task for yourself to work on.",
			Parameters: objectSchema(map[string]any{
				"description": stringProp("Task description"),
			}, "description"),
		},
		{
			Name:        NameUpdateScratchpad,
			Description: "Update your working memory. Write freely.",
			Parameters: objectSchema(map[string]any{
				"content": stringProp("Full scratchpad content"),
			}, "content"),
		},
		{
			Name:        NameUpdateIdentity,
			Description: "Update your identity manifest (who you are, who you want to become).",
			Parameters: objectSchema(map[string]any{
				"content": stringProp("Full identity content"),
			}, "content"),
		},
		{
			Name:        NameSetNextWakeup,
			Description: "Set how many seconds until your next thinking cycle. Default 300. Range: 60-3600.",
			Parameters: objectSchema(map[string]any{
				"seconds": map[string]any{
					"type":        "integer",
					"description": "Seconds until next wakeup (60-3600)",
					"minimum":     int64(MinWakeup.Seconds()),
					"maximum":     int64(MaxWakeup.Seconds()),
				},
			}, "seconds"),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
