package llm

import "strings"

// DefaultModel is used when no primary model is configured.
const DefaultModel = "openai/gpt-5.2"

// Profile names.
const (
	ProfileDefaultTask   = "default_task"
	ProfileCodeTask      = "code_task"
	ProfileEvolutionTask = "evolution_task"
	ProfileDeepReview    = "deep_review"
)

// Profile is a {model, effort} pair for one kind of task.
type Profile struct {
	Model  string `json:"model"`
	Effort string `json:"effort"`
}

// Profiles maps task profiles to models. Profiles are looked up by name, never inferred from
// prompt content.
type Profiles struct {
	// Model is the primary model. Empty means DefaultModel.
	Model string
	// CodeModel is the optional secondary model for code-heavy work. Empty means Model.
	CodeModel string
}

func (p Profiles) primary() string {
	if m := strings.TrimSpace(p.Model); m != "" {
		return m
	}
	return DefaultModel
}

func (p Profiles) code() string {
	if m := strings.TrimSpace(p.CodeModel); m != "" {
		return m
	}
	return p.primary()
}

// Lookup returns the profile registered under name, or the default task profile.
func (p Profiles) Lookup(name string) Profile {
	switch strings.TrimSpace(name) {
	case ProfileCodeTask:
		return Profile{Model: p.code(), Effort: EffortHigh}
	case ProfileEvolutionTask:
		return Profile{Model: p.code(), Effort: EffortHigh}
	case ProfileDeepReview:
		return Profile{Model: p.primary(), Effort: EffortXHigh}
	default:
		return Profile{Model: p.primary(), Effort: EffortMedium}
	}
}

// SelectTaskProfile maps a task type to a profile name.
func SelectTaskProfile(taskType string) string {
	switch strings.ToLower(strings.TrimSpace(taskType)) {
	case "review":
		return ProfileDeepReview
	case "evolution":
		return ProfileEvolutionTask
	case "code":
		return ProfileCodeTask
	default:
		return ProfileDefaultTask
	}
}

// ForTask is Lookup(SelectTaskProfile(taskType)).
func (p Profiles) ForTask(taskType string) Profile {
	return p.Lookup(SelectTaskProfile(taskType))
}
