// Package profile defines the profile capability set: the pluggable object
// that builds prompts and parses responses for a particular code-generation
// style. The engine treats profiles as opaque; everything prompt- and
// parsing-shaped lives behind this interface.
package profile

import (
	"github.com/aiwf/aiwf/internal/errors"
	"github.com/aiwf/aiwf/internal/session"
)

// Process result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metadata describes a profile.
type Metadata struct {
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	ContextSchema        Schema `json:"contextSchema"`
	CanRegeneratePrompts bool   `json:"canRegeneratePrompts"`
}

// PromptInput bundles what a profile needs to build a prompt.
type PromptInput struct {
	// Context is the session's validated context.
	Context map[string]any
	// Iteration is the current iteration, starting at 1.
	Iteration int
	// SessionDir is the absolute session directory, for profiles that read
	// prior artifacts.
	SessionDir string
	// Feedback carries reviewer or approver feedback into revision and
	// regenerated prompts. Empty elsewhere.
	Feedback string
}

// WriteEntry is one file of a write plan.
type WriteEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ProcessResult is the outcome of parsing a planning, generation, or
// revision response.
type ProcessResult struct {
	// Status is StatusOK or StatusError.
	Status string
	// Messages are progress notes for the session log.
	Messages []string
	// WritePlan lists the files to materialize. Only set for generation and
	// revision responses.
	WritePlan []WriteEntry
}

// ReviewResult is the outcome of parsing a review response.
type ReviewResult struct {
	Status   string
	Approved bool
	// Verdict is "PASS" or "FAIL".
	Verdict  string
	Metadata map[string]any
}

// Profile is the capability set every profile implements.
type Profile interface {
	// Metadata describes the profile, including its context schema.
	Metadata() Metadata

	// ValidateContext checks the context against the schema. A non-empty
	// result fails initialization.
	ValidateContext(context map[string]any) []errors.FieldError

	// DefaultStandardsProviderKey names the standards provider used when the
	// caller does not pick one.
	DefaultStandardsProviderKey() string

	// StandardsConfig is passed to the standards provider's CreateBundle.
	StandardsConfig() map[string]any

	// Prompt builders, one per active phase.
	GeneratePlanningPrompt(in PromptInput) (string, error)
	GenerateGenerationPrompt(in PromptInput) (string, error)
	GenerateReviewPrompt(in PromptInput) (string, error)
	GenerateRevisionPrompt(in PromptInput) (string, error)

	// Response parsers.
	ProcessPlanningResponse(text string) (ProcessResult, error)
	ProcessGenerationResponse(text string, sessionDir string, iteration int) (ProcessResult, error)
	ProcessReviewResponse(text string) (ReviewResult, error)
	ProcessRevisionResponse(text string, sessionDir string, iteration int) (ProcessResult, error)

	// RegeneratePrompt rebuilds a prompt from gate feedback. Profiles that
	// do not support regeneration return a NOT_IMPLEMENTED error; the gate
	// falls through to its manual path.
	RegeneratePrompt(phase session.Phase, feedback string, in PromptInput) (string, error)
}

// PromptFor dispatches to the phase's prompt builder.
func PromptFor(p Profile, phase session.Phase, in PromptInput) (string, error) {
	switch phase {
	case session.PhasePlan:
		return p.GeneratePlanningPrompt(in)
	case session.PhaseGenerate:
		return p.GenerateGenerationPrompt(in)
	case session.PhaseReview:
		return p.GenerateReviewPrompt(in)
	case session.PhaseRevise:
		return p.GenerateRevisionPrompt(in)
	default:
		return "", errors.ErrInternal("no prompt builder for phase "+string(phase), nil)
	}
}

// ProcessFor dispatches to the phase's response parser for the
// write-plan-producing phases and planning.
func ProcessFor(p Profile, phase session.Phase, text, sessionDir string, iteration int) (ProcessResult, error) {
	switch phase {
	case session.PhasePlan:
		return p.ProcessPlanningResponse(text)
	case session.PhaseGenerate:
		return p.ProcessGenerationResponse(text, sessionDir, iteration)
	case session.PhaseRevise:
		return p.ProcessRevisionResponse(text, sessionDir, iteration)
	default:
		return ProcessResult{}, errors.ErrInternal("no response parser for phase "+string(phase), nil)
	}
}
