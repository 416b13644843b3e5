// Package session provides the session state model for aiwf: the Session
// aggregate, its enumerated vocabularies, and the declarative transition
// table that drives the workflow.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Phase is a coarse step in the plan/generate/review/revise pipeline.
type Phase string

const (
	PhaseInit      Phase = "INIT"
	PhasePlan      Phase = "PLAN"
	PhaseGenerate  Phase = "GENERATE"
	PhaseReview    Phase = "REVIEW"
	PhaseRevise    Phase = "REVISE"
	PhaseComplete  Phase = "COMPLETE"
	PhaseCancelled Phase = "CANCELLED"
	PhaseError     Phase = "ERROR"
)

// ValidPhases returns all valid phase values.
func ValidPhases() []Phase {
	return []Phase{
		PhaseInit, PhasePlan, PhaseGenerate, PhaseReview,
		PhaseRevise, PhaseComplete, PhaseCancelled, PhaseError,
	}
}

// IsValidPhase returns true if the phase is a valid phase value.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseInit, PhasePlan, PhaseGenerate, PhaseReview,
		PhaseRevise, PhaseComplete, PhaseCancelled, PhaseError:
		return true
	default:
		return false
	}
}

// IsActive returns true for the four working phases that carry a stage.
func (p Phase) IsActive() bool {
	switch p {
	case PhasePlan, PhaseGenerate, PhaseReview, PhaseRevise:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for phases that admit no further commands.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseComplete, PhaseCancelled, PhaseError:
		return true
	default:
		return false
	}
}

// Slug returns the lowercase file-name stem used for the phase's prompt and
// response files (planning-prompt.md, review-response.md, ...).
func (p Phase) Slug() string {
	switch p {
	case PhasePlan:
		return "planning"
	case PhaseGenerate:
		return "generation"
	case PhaseReview:
		return "review"
	case PhaseRevise:
		return "revision"
	default:
		return strings.ToLower(string(p))
	}
}

// Stage is the position within an active phase. The zero value means the
// stage is absent, which is the case for INIT and all terminal phases.
type Stage string

const (
	StageNone     Stage = ""
	StagePrompt   Stage = "PROMPT"
	StageResponse Stage = "RESPONSE"
)

// ValidStages returns the two non-absent stage values.
func ValidStages() []Stage {
	return []Stage{StagePrompt, StageResponse}
}

// IsValidStage returns true for PROMPT, RESPONSE, or absent.
func IsValidStage(s Stage) bool {
	switch s {
	case StageNone, StagePrompt, StageResponse:
		return true
	default:
		return false
	}
}

// Status is the session's execution status.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusError      Status = "ERROR"
	StatusCancelled  Status = "CANCELLED"
	// StatusFailed is part of the persisted vocabulary and accepted on load,
	// but the engine's own flows never assign it.
	StatusFailed Status = "FAILED"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{StatusInProgress, StatusSuccess, StatusError, StatusCancelled, StatusFailed}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusInProgress, StatusSuccess, StatusError, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Command is an externally-issued instruction to the workflow.
type Command string

const (
	CommandInit            Command = "init"
	CommandApprove         Command = "approve"
	CommandApproveComplete Command = "approve_complete"
	CommandApproveRevise   Command = "approve_revise"
	CommandReject          Command = "reject"
	CommandCancel          Command = "cancel"
)

// ValidCommands returns all valid command values.
func ValidCommands() []Command {
	return []Command{
		CommandInit, CommandApprove, CommandApproveComplete,
		CommandApproveRevise, CommandReject, CommandCancel,
	}
}

// IsValidCommand returns true if the command is a valid command value.
func IsValidCommand(c Command) bool {
	switch c {
	case CommandInit, CommandApprove, CommandApproveComplete,
		CommandApproveRevise, CommandReject, CommandCancel:
		return true
	default:
		return false
	}
}

// IsApproveFamily returns true for commands that carry approval semantics
// (pre-transition side effects run before the state moves).
func (c Command) IsApproveFamily() bool {
	switch c {
	case CommandApprove, CommandApproveComplete, CommandApproveRevise:
		return true
	default:
		return false
	}
}

// Action is the work unit the transition table assigns to a state entry.
type Action string

const (
	ActionCreatePrompt Action = "CREATE_PROMPT"
	ActionCallAI       Action = "CALL_AI"
	ActionCheckVerdict Action = "CHECK_VERDICT"
	ActionFinalize     Action = "FINALIZE"
	ActionHalt         Action = "HALT"
	ActionCancel       Action = "CANCEL"
)

// Role names a provider slot on the session.
type Role string

const (
	RolePlanner   Role = "planner"
	RoleGenerator Role = "generator"
	RoleReviewer  Role = "reviewer"
	RoleReviser   Role = "reviser"
)

// ValidRoles returns all provider roles a session must bind.
func ValidRoles() []Role {
	return []Role{RolePlanner, RoleGenerator, RoleReviewer, RoleReviser}
}

// IsValidRole returns true if the role is a valid role value.
func IsValidRole(r Role) bool {
	switch r {
	case RolePlanner, RoleGenerator, RoleReviewer, RoleReviser:
		return true
	default:
		return false
	}
}

// RoleForPhase returns the provider role that produces responses in a phase.
func RoleForPhase(p Phase) (Role, bool) {
	switch p {
	case PhasePlan:
		return RolePlanner, true
	case PhaseGenerate:
		return RoleGenerator, true
	case PhaseReview:
		return RoleReviewer, true
	case PhaseRevise:
		return RoleReviser, true
	default:
		return "", false
	}
}

// Artifact is an immutable record of a file the engine wrote or approved.
type Artifact struct {
	RelativePath string `json:"relativePath"`
	Phase        Phase  `json:"phase"`
	Iteration    int    `json:"iteration"`
	SHA256       string `json:"sha256"`
}

// PhaseApproval records the approval state of the plan or review document.
type PhaseApproval struct {
	Approved bool   `json:"approved"`
	Hash     string `json:"hash,omitempty"`
}

// ApprovalState tracks the in-flight approval gate for the current state.
type ApprovalState struct {
	Pending          bool   `json:"pending"`
	Feedback         string `json:"feedback,omitempty"`
	SuggestedContent string `json:"suggestedContent,omitempty"`
	RetryCount       int    `json:"retryCount"`
}

// Clear resets the approval state after a granted approval.
func (a *ApprovalState) Clear() {
	*a = ApprovalState{}
}

// Message is a timestamped progress note appended to the session.
type Message struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Session is the aggregate for one end-to-end run of the pipeline.
type Session struct {
	ID                   string          `json:"sessionId"`
	Profile              string          `json:"profile"`
	Providers            map[Role]string `json:"providers"`
	StandardsProviderKey string          `json:"standardsProviderKey"`
	Context              map[string]any  `json:"context"`
	Phase                Phase           `json:"phase"`
	Stage                Stage           `json:"stage,omitempty"`
	Status               Status          `json:"status"`
	CurrentIteration     int             `json:"currentIteration"`
	Plan                 PhaseApproval   `json:"plan"`
	Review               PhaseApproval   `json:"review"`
	StandardsHash        string          `json:"standardsHash,omitempty"`
	Artifacts            []Artifact      `json:"artifacts"`
	Approval             ApprovalState   `json:"approval"`
	LastError            string          `json:"lastError,omitempty"`
	Messages             []Message       `json:"messages"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`

	// extras holds fields present in session.json that this version does not
	// know about. They are ignored but written back on save.
	extras map[string]json.RawMessage
}

// New creates a session in the INIT phase.
func New(id, profile string, providers map[Role]string, standardsKey string, context map[string]any) *Session {
	now := time.Now().UTC()
	p := make(map[Role]string, len(providers))
	for role, key := range providers {
		p[role] = key
	}
	return &Session{
		ID:                   id,
		Profile:              profile,
		Providers:            p,
		StandardsProviderKey: standardsKey,
		Context:              context,
		Phase:                PhaseInit,
		Stage:                StageNone,
		Status:               StatusInProgress,
		CurrentIteration:     1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// IsTerminal returns true once the session has reached a terminal phase.
func (s *Session) IsTerminal() bool {
	return s.Phase.IsTerminal()
}

// StateString renders the current state for messages and errors,
// e.g. "PLAN[PROMPT]" or "INIT".
func (s *Session) StateString() string {
	if s.Stage == StageNone {
		return string(s.Phase)
	}
	return fmt.Sprintf("%s[%s]", s.Phase, s.Stage)
}

// Touch bumps the updatedAt timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// AppendMessage appends a timestamped progress note.
func (s *Session) AppendMessage(text string) {
	s.Messages = append(s.Messages, Message{Time: time.Now().UTC(), Text: text})
}

// ProviderFor returns the provider key bound to the role.
func (s *Session) ProviderFor(role Role) string {
	return s.Providers[role]
}

// CheckInvariants verifies the structural invariants of the state model.
// It is used by tests and debugging tools, not by the load path: an invariant
// breach in a stored session is surfaced by behavior, not silently repaired.
func (s *Session) CheckInvariants() error {
	if !IsValidPhase(s.Phase) {
		return fmt.Errorf("invalid phase %q", s.Phase)
	}
	if !IsValidStage(s.Stage) {
		return fmt.Errorf("invalid stage %q", s.Stage)
	}
	if !IsValidStatus(s.Status) {
		return fmt.Errorf("invalid status %q", s.Status)
	}

	// Stage is absent exactly when the phase is INIT or terminal.
	if s.Phase.IsActive() && s.Stage == StageNone {
		return fmt.Errorf("phase %s requires a stage", s.Phase)
	}
	if !s.Phase.IsActive() && s.Stage != StageNone {
		return fmt.Errorf("phase %s must not carry a stage (got %s)", s.Phase, s.Stage)
	}

	// Status pairing for terminal phases.
	switch s.Phase {
	case PhaseComplete:
		if s.Status != StatusSuccess {
			return fmt.Errorf("phase COMPLETE requires status SUCCESS, got %s", s.Status)
		}
	case PhaseCancelled:
		if s.Status != StatusCancelled {
			return fmt.Errorf("phase CANCELLED requires status CANCELLED, got %s", s.Status)
		}
	case PhaseError:
		if s.Status != StatusError {
			return fmt.Errorf("phase ERROR requires status ERROR, got %s", s.Status)
		}
		if s.LastError == "" {
			return fmt.Errorf("phase ERROR requires lastError")
		}
	}

	if s.Plan.Approved && s.Plan.Hash == "" {
		return fmt.Errorf("plan approved without a hash")
	}
	if s.Review.Approved && s.Review.Hash == "" {
		return fmt.Errorf("review approved without a hash")
	}
	if s.Phase != PhaseInit && s.StandardsHash == "" {
		return fmt.Errorf("standardsHash missing after initialization")
	}
	if s.CurrentIteration < 1 {
		return fmt.Errorf("currentIteration must be positive, got %d", s.CurrentIteration)
	}

	for _, a := range s.Artifacts {
		prefix := fmt.Sprintf("iteration-%d/code/", a.Iteration)
		if !strings.HasPrefix(a.RelativePath, prefix) {
			return fmt.Errorf("artifact %q is outside %s", a.RelativePath, prefix)
		}
		if strings.Contains(a.RelativePath, "..") {
			return fmt.Errorf("artifact %q contains a parent segment", a.RelativePath)
		}
	}

	return nil
}

// knownSessionFields lists the JSON keys owned by this version of the model.
var knownSessionFields = []string{
	"sessionId", "profile", "providers", "standardsProviderKey", "context",
	"phase", "stage", "status", "currentIteration", "plan", "review",
	"standardsHash", "artifacts", "approval", "lastError", "messages",
	"createdAt", "updatedAt",
}

// UnmarshalJSON decodes the known fields and stashes any unknown ones so a
// later save does not drop data written by a newer engine.
func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Session(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownSessionFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		s.extras = raw
	}
	return nil
}

// MarshalJSON re-emits preserved unknown fields alongside the known ones.
// Known fields win on key collision.
func (s *Session) MarshalJSON() ([]byte, error) {
	type alias Session
	base, err := json.Marshal((*alias)(s))
	if err != nil {
		return nil, err
	}
	if len(s.extras) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.extras {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
