// Package openai implements ai.Generator for OpenAI-compatible chat APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/ai"
	"github.com/spigell/grader/internal/logger"
	"github.com/spigell/grader/internal/utils"
)

const (
	defaultModel     = goopenai.GPT4oMini
	logPreviewLength = 200
)

type completer interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Config configures a Generator. BaseURL switches to any compatible endpoint.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Options ai.GenerationOptions
}

// Generator sends a system and a user message as one chat completion.
type Generator struct {
	client  completer
	model   string
	options ai.GenerationOptions
	logger  *zap.Logger
}

// NewGenerator returns a Generator for cfg.
func NewGenerator(cfg Config, log *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	config := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		config.BaseURL = baseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Generator{
		client:  goopenai.NewClientWithConfig(config),
		model:   model,
		options: cfg.Options.WithDefaults(),
		logger:  logger.WithAI(log, ai.ProviderOpenAI, model),
	}, nil
}

// GenerateContent returns the first choice of the completion. TopK has no
// counterpart in the API and is not sent.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	if g == nil || g.client == nil {
		return "", errors.New("openai generator is not initialized")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("message must not be empty")
	}

	log := g.logger
	if log == nil {
		log = zap.NewNop()
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: message})

	opts := g.options.WithDefaults()
	req := goopenai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}

	log.Debug("openai request",
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.TruncateForLog(message, logPreviewLength)),
	)

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ai.ErrEmptyResponse
	}

	output := strings.TrimSpace(resp.Choices[0].Message.Content)
	if output == "" {
		return "", ai.ErrEmptyResponse
	}

	log.Debug("openai response",
		zap.Int("response_length", utf8.RuneCountInString(output)),
		zap.String("response_preview", utils.TruncateForLog(output, logPreviewLength)),
	)

	return output, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}
