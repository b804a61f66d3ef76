// Package anthropic implements ai.Generator for the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	goanthropic "github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/ai"
	"github.com/spigell/grader/internal/logger"
	"github.com/spigell/grader/internal/utils"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 4096
	logPreviewLength = 200
)

type messenger interface {
	CreateMessages(ctx context.Context, req goanthropic.MessagesRequest) (goanthropic.MessagesResponse, error)
}

// Config configures a Generator.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Options   ai.GenerationOptions
}

// Generator sends one user message with a system prompt.
type Generator struct {
	client    messenger
	model     string
	maxTokens int
	options   ai.GenerationOptions
	logger    *zap.Logger
}

// NewGenerator returns a Generator for cfg.
func NewGenerator(cfg Config, log *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}

	var opts []goanthropic.ClientOption
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, goanthropic.WithBaseURL(baseURL))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Generator{
		client:    goanthropic.NewClient(apiKey, opts...),
		model:     model,
		maxTokens: maxTokens,
		options:   cfg.Options.WithDefaults(),
		logger:    logger.WithAI(log, ai.ProviderAnthropic, model),
	}, nil
}

// GenerateContent returns the text blocks of the reply joined by newlines.
// TopP is not sent: the API rejects it together with a temperature.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	if g == nil || g.client == nil {
		return "", errors.New("anthropic generator is not initialized")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("message must not be empty")
	}

	log := g.logger
	if log == nil {
		log = zap.NewNop()
	}

	opts := g.options.WithDefaults()
	topK := int(opts.TopK)
	req := goanthropic.MessagesRequest{
		Model:  goanthropic.Model(g.model),
		System: strings.TrimSpace(system),
		Messages: []goanthropic.Message{
			{
				Role:    goanthropic.RoleUser,
				Content: []goanthropic.MessageContent{goanthropic.NewTextMessageContent(message)},
			},
		},
		MaxTokens:   g.maxTokens,
		Temperature: &opts.Temperature,
		TopK:        &topK,
	}

	log.Debug("anthropic request",
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.TruncateForLog(message, logPreviewLength)),
	)

	resp, err := g.client.CreateMessages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create messages: %w", err)
	}

	var builder strings.Builder
	for _, content := range resp.Content {
		if content.Text == nil {
			continue
		}
		text := strings.TrimSpace(*content.Text)
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(text)
	}

	output := builder.String()
	if output == "" {
		return "", ai.ErrEmptyResponse
	}

	log.Debug("anthropic response",
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
