// Package provider defines the response-provider capability set, the
// process-wide provider registries, and the execution service that invokes
// providers under timeout discipline.
package provider

import (
	"context"
	"time"
)

// Filesystem abilities a provider may declare.
const (
	FSNone       = "none"
	FSLocalRead  = "local-read"
	FSLocalWrite = "local-write"
)

// Metadata describes a provider. Timeouts are in seconds: nil means "use the
// provider's own default", zero means "no timeout".
type Metadata struct {
	Name                 string `json:"name"`
	ConnectionTimeout    *int   `json:"connectionTimeout,omitempty"`
	ResponseTimeout      *int   `json:"responseTimeout,omitempty"`
	FSAbility            string `json:"fsAbility"`
	SupportsSystemPrompt bool   `json:"supportsSystemPrompt"`
}

// GenerateRequest carries one prompt to a provider. The timeout hints mirror
// the provider's metadata; enforcement is the provider's responsibility.
type GenerateRequest struct {
	Prompt            string
	Context           map[string]any
	SystemPrompt      string
	ConnectionTimeout *int
	ResponseTimeout   *int
}

// GenerateResult is the normalized outcome of a provider invocation.
type GenerateResult struct {
	// AwaitingResponse is true when the provider produced nothing and the
	// workflow must suspend until a human supplies the response file.
	AwaitingResponse bool
	// ResponseText is the provider's textual response.
	ResponseText string
	// Files maps relative paths to contents the provider wants written. A
	// nil content means the provider already wrote the file itself.
	Files map[string]*string
	// Raw preserves the provider's unprocessed result for diagnostics.
	Raw any
}

// ResponseProvider is the capability set every provider implements.
type ResponseProvider interface {
	// Metadata describes the provider and its timeout defaults.
	Metadata() Metadata
	// Validate checks the provider is usable (binary present, key set, ...).
	Validate(ctx context.Context) error
	// Generate produces a response for the prompt.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// timeoutContext applies a response-timeout hint to a context. A nil or zero
// hint leaves the context untouched.
func timeoutContext(ctx context.Context, seconds *int) (context.Context, context.CancelFunc) {
	if seconds == nil || *seconds <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(*seconds)*time.Second)
}
