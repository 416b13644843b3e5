// Package errors provides structured error types for aiwf.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for aiwf.
const (
	// Initialization errors
	CodeContextInvalid     Code = "CONTEXT_INVALID"
	CodeProfileNotFound    Code = "PROFILE_NOT_FOUND"
	CodeProviderNotFound   Code = "PROVIDER_NOT_FOUND"
	CodeProviderValidation Code = "PROVIDER_VALIDATION"

	// Run errors
	CodeProviderError  Code = "PROVIDER_ERROR"
	CodePathInvalid    Code = "PATH_INVALID"
	CodePathEscape     Code = "PATH_ESCAPE"
	CodeInvalidCommand Code = "INVALID_COMMAND"
	CodeGateError      Code = "GATE_ERROR"
	CodeTimeout        Code = "TIMEOUT"
	CodeNotImplemented Code = "NOT_IMPLEMENTED"

	// Store errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionCorrupt  Code = "SESSION_CORRUPT"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"

	// Catch-all
	CodeInternal Code = "INTERNAL"
)

// FieldError describes a single context-schema validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// EngineError is the structured error type for aiwf.
type EngineError struct {
	Code    Code         `json:"code"`
	What    string       `json:"what"`
	Why     string       `json:"why,omitempty"`
	Fix     string       `json:"fix,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
	DocsURL string       `json:"docs_url,omitempty"`
	Cause   error        `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *EngineError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	for _, f := range e.Fields {
		b.WriteString("\n  - ")
		b.WriteString(f.String())
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	if e.DocsURL != "" {
		b.WriteString("\n\nDocs: ")
		b.WriteString(e.DocsURL)
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	type alias EngineError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an EngineError with the same code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *EngineError) WithCause(err error) *EngineError {
	clone := *e
	clone.Cause = err
	return &clone
}

// --- Error constructors ---

// ErrContextInvalid returns an error for failed context-schema validation.
func ErrContextInvalid(fields []FieldError) *EngineError {
	return &EngineError{
		Code:   CodeContextInvalid,
		What:   fmt.Sprintf("context validation failed with %d error(s)", len(fields)),
		Fields: fields,
		Fix:    "Correct the listed context fields and create the session again",
	}
}

// ErrProfileNotFound returns an error when no profile is registered under key.
func ErrProfileNotFound(key string) *EngineError {
	return &EngineError{
		Code:    CodeProfileNotFound,
		What:    fmt.Sprintf("profile %q not found", key),
		Why:     "No profile with this key is registered",
		Fix:     "Run 'aiwf profiles' to list available profiles",
		DocsURL: "https://github.com/aiwf/aiwf#profiles",
	}
}

// ErrProviderNotFound returns an error when no provider is registered under key.
func ErrProviderNotFound(key string) *EngineError {
	return &EngineError{
		Code:    CodeProviderNotFound,
		What:    fmt.Sprintf("provider %q not found", key),
		Why:     "No response provider with this key is registered",
		Fix:     "Run 'aiwf providers' to list available providers, or add one to .aiwf/config.yaml",
		DocsURL: "https://github.com/aiwf/aiwf#providers",
	}
}

// ErrProviderValidation returns an error when a provider fails its validate check.
func ErrProviderValidation(key string, cause error) *EngineError {
	return &EngineError{
		Code:  CodeProviderValidation,
		What:  fmt.Sprintf("provider %q failed validation", key),
		Fix:   "Check the provider's configuration and credentials",
		Cause: cause,
	}
}

// ErrProviderFailed returns an error for a provider failure during generate,
// createBundle, or evaluate. The provider's message is preserved verbatim in Why.
func ErrProviderFailed(key, message string) *EngineError {
	return &EngineError{
		Code: CodeProviderError,
		What: fmt.Sprintf("provider %q failed", key),
		Why:  message,
	}
}

// ErrPathInvalid returns an error for an unsafe artifact path.
func ErrPathInvalid(path, reason string) *EngineError {
	return &EngineError{
		Code: CodePathInvalid,
		What: fmt.Sprintf("invalid artifact path %q", path),
		Why:  reason,
		Fix:  "Artifact paths must be relative, with components matching [A-Za-z0-9_-.]",
	}
}

// ErrPathEscape returns an error when a path resolves outside its root.
func ErrPathEscape(path, root string) *EngineError {
	return &EngineError{
		Code: CodePathEscape,
		What: fmt.Sprintf("path %q escapes %q", path, root),
		Why:  "The resolved path is not contained within the expected directory",
	}
}

// ErrInvalidCommand returns an error for a command the current state does not accept.
func ErrInvalidCommand(phase, stage, command string) *EngineError {
	state := phase
	if stage != "" {
		state = phase + "[" + stage + "]"
	}
	return &EngineError{
		Code: CodeInvalidCommand,
		What: fmt.Sprintf("command %q is not valid in state %s", command, state),
		Fix:  "Run 'aiwf status <sessionId>' to see the current state and valid commands",
	}
}

// ErrSessionNotFound returns an error when a session does not exist.
func ErrSessionNotFound(id string) *EngineError {
	return &EngineError{
		Code:    CodeSessionNotFound,
		What:    fmt.Sprintf("session %s not found", id),
		Why:     "No session directory with this ID exists under the sessions root",
		Fix:     "Run 'aiwf sessions' to list available sessions",
		DocsURL: "https://github.com/aiwf/aiwf#sessions",
	}
}

// ErrSessionCorrupt returns an error when a session record cannot be decoded.
func ErrSessionCorrupt(id string, cause error) *EngineError {
	return &EngineError{
		Code:  CodeSessionCorrupt,
		What:  fmt.Sprintf("session %s is corrupt", id),
		Why:   "session.json exists but could not be decoded",
		Fix:   "Inspect the session directory by hand; the engine does not repair corrupted state",
		Cause: cause,
	}
}

// ErrGateFailed returns an error when an approver fails during evaluation.
func ErrGateFailed(phase, stage string, cause error) *EngineError {
	return &EngineError{
		Code:  CodeGateError,
		What:  fmt.Sprintf("approval gate failed at %s[%s]", phase, stage),
		Fix:   "Fix the approver configuration, then approve or reject the pending state",
		Cause: cause,
	}
}

// ErrTimeout returns an error for a timed-out provider or approver call.
func ErrTimeout(what string, seconds int) *EngineError {
	return &EngineError{
		Code: CodeTimeout,
		What: fmt.Sprintf("%s timed out", what),
		Why:  fmt.Sprintf("No result after %d seconds", seconds),
		Fix:  "Increase the timeout in the provider configuration, or use a faster provider",
	}
}

// ErrNotImplemented returns an error for an optional capability the
// implementation does not provide.
func ErrNotImplemented(op string) *EngineError {
	return &EngineError{
		Code: CodeNotImplemented,
		What: fmt.Sprintf("%s is not implemented", op),
	}
}

// ErrConfigInvalid returns an error for invalid engine configuration.
func ErrConfigInvalid(field, reason string) *EngineError {
	return &EngineError{
		Code:    CodeConfigInvalid,
		What:    fmt.Sprintf("invalid configuration: %s", field),
		Why:     reason,
		Fix:     "Check .aiwf/config.yaml and fix the invalid field",
		DocsURL: "https://github.com/aiwf/aiwf#configuration",
	}
}

// ErrInternal returns a catch-all error for invariant violations.
func ErrInternal(what string, cause error) *EngineError {
	return &EngineError{
		Code:  CodeInternal,
		What:  what,
		Cause: cause,
	}
}

// AsEngineError attempts to convert an error to an EngineError.
// Returns nil if the error is not an EngineError.
func AsEngineError(err error) *EngineError {
	var engErr *EngineError
	if As(err, &engErr) {
		return engErr
	}
	return nil
}

// HasCode reports whether err is (or wraps) an EngineError with the given code.
func HasCode(err error, code Code) bool {
	e := AsEngineError(err)
	return e != nil && e.Code == code
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

// asError implements errors.As behavior.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if engErr, ok := err.(*EngineError); ok {
		if t, ok := target.(**EngineError); ok {
			*t = engErr
			return true
		}
	}
	// Check unwrapped error
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into an EngineError with unknown code.
func Wrap(err error, what string) *EngineError {
	return &EngineError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
