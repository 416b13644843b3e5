package provider

import (
	"context"

	"github.com/aiwf/aiwf/internal/errors"
)

// Executor runs prompts against registered providers, normalizing results
// and failures so callers only ever see engine errors.
type Executor struct {
	registry *Registry
}

// NewExecutor returns an executor over the given registry, or the default
// registry when nil.
func NewExecutor(registry *Registry) *Executor {
	if registry == nil {
		registry = Default()
	}
	return &Executor{registry: registry}
}

// Execute resolves the provider by key and invokes it. The provider's
// metadata timeouts travel as hints in the request; the provider message is
// preserved verbatim inside the PROVIDER_ERROR wrapper.
func (e *Executor) Execute(ctx context.Context, key, prompt string, callCtx map[string]any, systemPrompt string) (*GenerateResult, error) {
	p, err := e.registry.Get(key)
	if err != nil {
		return nil, err
	}
	meta := p.Metadata()

	req := GenerateRequest{
		Prompt:            prompt,
		Context:           callCtx,
		ConnectionTimeout: meta.ConnectionTimeout,
		ResponseTimeout:   meta.ResponseTimeout,
	}
	if meta.SupportsSystemPrompt {
		req.SystemPrompt = systemPrompt
	} else if systemPrompt != "" {
		req.Prompt = systemPrompt + "\n\n" + prompt
	}

	res, err := p.Generate(ctx, req)
	if err != nil {
		if engErr := errors.AsEngineError(err); engErr != nil && engErr.Code == errors.CodeTimeout {
			return nil, engErr
		}
		return nil, errors.ErrProviderFailed(key, err.Error())
	}
	if res == nil {
		res = &GenerateResult{}
	}
	return res, nil
}

// Metadata resolves the provider by key and returns its metadata.
func (e *Executor) Metadata(key string) (Metadata, error) {
	p, err := e.registry.Get(key)
	if err != nil {
		return Metadata{}, err
	}
	return p.Metadata(), nil
}
