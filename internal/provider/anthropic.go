package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aiwf/aiwf/internal/errors"
)

const (
	anthropicDefaultModel     = string(sdk.ModelClaudeSonnet4_5)
	anthropicDefaultMaxTokens = 8192
	anthropicAPIKeyEnv        = "ANTHROPIC_API_KEY"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// provider. *sdk.MessageService satisfies it, so tests can pass a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic calls the Claude Messages API.
type Anthropic struct {
	msg             MessagesClient
	model           string
	maxTokens       int64
	responseTimeout *int
}

// NewAnthropic builds a provider over an existing Messages client.
func NewAnthropic(msg MessagesClient, model string, maxTokens int64, responseTimeout *int) *Anthropic {
	if model == "" {
		model = anthropicDefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return &Anthropic{msg: msg, model: model, maxTokens: maxTokens, responseTimeout: responseTimeout}
}

func newAnthropicFromConfig(cfg map[string]any) (ResponseProvider, error) {
	model, _ := cfg["model"].(string)
	var maxTokens int64
	if n, ok := intFromConfig(cfg["maxTokens"]); ok {
		maxTokens = int64(n)
	}
	var responseTimeout *int
	if n, ok := intFromConfig(cfg["responseTimeout"]); ok {
		responseTimeout = &n
	}

	apiKey := os.Getenv(anthropicAPIKeyEnv)
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&ac.Messages, model, maxTokens, responseTimeout), nil
}

func (a *Anthropic) Metadata() Metadata {
	return Metadata{
		Name:                 "anthropic",
		ResponseTimeout:      a.responseTimeout,
		FSAbility:            FSNone,
		SupportsSystemPrompt: true,
	}
}

// Validate checks the API key is present. No network call is made.
func (a *Anthropic) Validate(_ context.Context) error {
	if os.Getenv(anthropicAPIKeyEnv) == "" {
		return fmt.Errorf("%s is not set", anthropicAPIKeyEnv)
	}
	return nil
}

func (a *Anthropic) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	callCtx, cancel := timeoutContext(ctx, req.ResponseTimeout)
	defer cancel()

	params := sdk.MessageNewParams{
		MaxTokens: a.maxTokens,
		Model:     sdk.Model(a.model),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := a.msg.New(callCtx, params)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && req.ResponseTimeout != nil {
			return nil, errors.ErrTimeout("anthropic request", *req.ResponseTimeout)
		}
		return nil, err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return &GenerateResult{ResponseText: b.String(), Raw: msg}, nil
}
