package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *EngineError
		wantErr  string
		wantUser string
	}{
		{
			name:     "what only",
			err:      &EngineError{What: "something broke"},
			wantErr:  "something broke",
			wantUser: "Error: something broke",
		},
		{
			name:     "what and why",
			err:      &EngineError{What: "something broke", Why: "bad input"},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input",
		},
		{
			name: "full error",
			err: &EngineError{
				What:    "something broke",
				Why:     "bad input",
				Fix:     "try again",
				DocsURL: "https://example.com",
			},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input\n\nFix: try again\n\nDocs: https://example.com",
		},
		{
			name: "with cause",
			err: &EngineError{
				What:  "something broke",
				Cause: errors.New("underlying error"),
			},
			wantErr:  "something broke: underlying error",
			wantUser: "Error: something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantErr {
				t.Errorf("Error() = %q, want %q", got, tt.wantErr)
			}
			if got := tt.err.UserMessage(); got != tt.wantUser {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantUser)
			}
		})
	}
}

func TestEngineErrorIs(t *testing.T) {
	err := ErrSessionNotFound("20250101-120000-abcd1234")
	if !errors.Is(err, &EngineError{Code: CodeSessionNotFound}) {
		t.Error("expected Is to match on code")
	}
	if errors.Is(err, &EngineError{Code: CodeSessionCorrupt}) {
		t.Error("expected Is to reject a different code")
	}
}

func TestEngineErrorUnwrap(t *testing.T) {
	cause := errors.New("disk on fire")
	err := ErrSessionCorrupt("s1", cause)
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap chain to reach the cause")
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := ErrProviderNotFound("missing")
	wrapped := fmt.Errorf("resolving role planner: %w", inner)

	if !HasCode(wrapped, CodeProviderNotFound) {
		t.Error("expected HasCode to see through fmt.Errorf wrapping")
	}
	if HasCode(wrapped, CodeProviderError) {
		t.Error("unexpected code match")
	}
	if got := AsEngineError(wrapped); got == nil || got.Code != CodeProviderNotFound {
		t.Errorf("AsEngineError = %v, want provider-not-found", got)
	}
}

func TestContextInvalidCarriesFields(t *testing.T) {
	fields := []FieldError{
		{Field: "entity", Message: "required field missing"},
		{Field: "scope", Message: "must be one of [domain app]"},
	}
	err := ErrContextInvalid(fields)
	if len(err.Fields) != 2 {
		t.Fatalf("Fields len = %d, want 2", len(err.Fields))
	}
	user := err.UserMessage()
	for _, f := range fields {
		if want := f.String(); !strings.Contains(user, want) {
			t.Errorf("UserMessage missing %q:\n%s", want, user)
		}
	}
}

func TestProviderFailedPreservesMessage(t *testing.T) {
	err := ErrProviderFailed("claude", "Connection refused")
	if err.Why != "Connection refused" {
		t.Errorf("Why = %q, want verbatim provider message", err.Why)
	}
	if !strings.Contains(err.Error(), "Connection refused") {
		t.Errorf("Error() should include the provider message: %q", err.Error())
	}
}

func TestMarshalJSONIncludesCause(t *testing.T) {
	err := ErrSessionCorrupt("s1", errors.New("unexpected EOF"))
	data, merr := json.Marshal(err)
	if merr != nil {
		t.Fatalf("marshal: %v", merr)
	}
	var decoded map[string]any
	if uerr := json.Unmarshal(data, &decoded); uerr != nil {
		t.Fatalf("unmarshal: %v", uerr)
	}
	if decoded["code"] != string(CodeSessionCorrupt) {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["cause"] != "unexpected EOF" {
		t.Errorf("cause = %v", decoded["cause"])
	}
}

func TestWrapGenericError(t *testing.T) {
	cause := errors.New("fsnotify: queue overflowed")
	err := Wrap(cause, "waiting for the response file failed")

	if err.Cause != cause {
		t.Errorf("Cause = %v", err.Cause)
	}
	if !strings.Contains(err.UserMessage(), "waiting for the response file failed") {
		t.Errorf("UserMessage() = %q", err.UserMessage())
	}
	if got := AsEngineError(err); got != err {
		t.Errorf("AsEngineError = %v", got)
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Errorf("Unwrap = %v", errors.Unwrap(err))
	}
}
