// Package ai defines the contract shared by the LLM providers.
package ai

import (
	"context"
	"errors"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("model returned empty response")

// Generator produces text for a system instruction and a user message.
type Generator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// GenerationOptions are the sampling parameters sent with every request.
type GenerationOptions struct {
	Temperature float32 `mapstructure:"temperature"`
	TopP        float32 `mapstructure:"top-p"`
	TopK        float32 `mapstructure:"top-k"`
}

// DefaultGenerationOptions favours stable, low-variance grading output.
func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{Temperature: 0.2, TopP: 0.8, TopK: 40}
}

// WithDefaults fills unset parameters from DefaultGenerationOptions.
func (o GenerationOptions) WithDefaults() GenerationOptions {
	def := DefaultGenerationOptions()
	if o.Temperature <= 0 {
		o.Temperature = def.Temperature
	}
	if o.TopP <= 0 {
		o.TopP = def.TopP
	}
	if o.TopK <= 0 {
		o.TopK = def.TopK
	}
	return o
}
