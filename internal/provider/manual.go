package provider

import (
	"context"
)

// Manual is the zero-config provider: it never produces a response itself.
// Generate returns an awaiting-response result and the workflow suspends
// until a human writes the response file into the session directory.
type Manual struct{}

// NewManual returns a manual provider.
func NewManual() *Manual { return &Manual{} }

func newManualFromConfig(_ map[string]any) (ResponseProvider, error) {
	return NewManual(), nil
}

func (m *Manual) Metadata() Metadata {
	return Metadata{
		Name:      "manual",
		FSAbility: FSNone,
	}
}

func (m *Manual) Validate(_ context.Context) error { return nil }

func (m *Manual) Generate(_ context.Context, _ GenerateRequest) (*GenerateResult, error) {
	return &GenerateResult{AwaitingResponse: true}, nil
}
