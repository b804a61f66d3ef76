package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/ai"
	"github.com/spigell/grader/internal/ai/anthropic"
	"github.com/spigell/grader/internal/ai/gemini"
	"github.com/spigell/grader/internal/ai/openai"
	"github.com/spigell/grader/internal/events"
	"github.com/spigell/grader/internal/grading"
	"github.com/spigell/grader/internal/logger"
	"github.com/spigell/grader/internal/model"
	"github.com/spigell/grader/internal/plagiarism"
	"github.com/spigell/grader/internal/secrets"
	"github.com/spigell/grader/internal/storage"
)

// application holds the components shared by the commands.
type application struct {
	config    *Config
	logger    *zap.Logger
	store     storage.Store
	scorer    *plagiarism.Scorer
	publisher events.Publisher
	evaluator *grading.Evaluator
}

// newApplication wires the store, the scorer, the publisher and, when
// withGenerator is set, the language model. A generator that cannot be
// created is fatal only when required is set.
func newApplication(ctx context.Context, log *zap.Logger, withGenerator, required bool) (*application, error) {
	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	store, err := storage.New(ctx, config.Storage, log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("creating a store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("initialising the store: %w", err)
	}

	a := &application{config: config, logger: log, store: store}

	a.scorer, err = newScorer(config.Plagiarism, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.publisher, err = events.New(config.Events, log.Named("events"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connecting the event publisher: %w", err)
	}

	deps := grading.Deps{
		Store:     store,
		Scorer:    a.scorer,
		Publisher: a.publisher,
		Logger:    log.Named("grading"),
	}

	if withGenerator {
		generator, err := newGenerator(ctx, config.AI, log)
		switch {
		case err == nil:
			deps.Generator = generator
		case required:
			a.Close()
			return nil, err
		default:
			log.Warn("language model is not available, only plagiarism checks will work", zap.Error(err))
		}
	}

	a.evaluator, err = grading.New(deps)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *application) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("closing the event publisher", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing the store", zap.Error(err))
		}
	}
}

func newLogger() (*zap.Logger, error) {
	return logger.New(logger.Options{
		Service: app,
		JSON:    viper.GetBool("json"),
		Debug:   viper.GetBool("debug"),
		Output:  viper.GetString("log-output"),
	})
}

// newScorer builds the plagiarism scorer. A missing model artifact degrades
// scoring to peer comparison only.
func newScorer(cfg *PlagiarismConfig, log *zap.Logger) (*plagiarism.Scorer, error) {
	deps := plagiarism.Deps{
		Normalizer: plagiarism.NewNormalizer(cfg.Stem),
		Logger:     log.Named("plagiarism"),
	}

	artifact, err := model.Load(cfg.ModelPath)
	switch {
	case errors.Is(err, model.ErrArtifactNotFound):
		log.Warn("plagiarism model is not loaded, classifier scoring is skipped",
			zap.String("path", cfg.ModelPath),
			zap.String("hint", "fit one with the 'fit' command"),
		)
	case err != nil:
		return nil, err
	default:
		// Typed nil pointers must not end up in the interfaces.
		if artifact.Vectorizer != nil {
			deps.Vectorizer = artifact.Vectorizer
		}
		if artifact.Classifier != nil {
			deps.Classifier = artifact.Classifier
		}
		log.Info("plagiarism model loaded",
			zap.String("path", cfg.ModelPath),
			zap.Bool("complete", artifact.Complete()),
		)
	}

	return plagiarism.NewScorer(cfg.Options, deps)
}

func newGenerator(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Generator, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))

	switch provider {
	case "", ai.ProviderGemini:
		g := cfg.Gemini
		if g == nil {
			g = &GeminiConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			Value: g.APIKey,
			File:  g.APIKeyFile,
			Env:   []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
		}

		generator, err := gemini.NewGenerator(ctx, gemini.Config{
			APIKey:     apiKey,
			Model:      g.Model,
			MaxRetries: g.MaxRetries,
			Options:    cfg.Generation,
		}, log)
		if err != nil {
			return nil, err
		}
		return generator, nil
	case ai.ProviderOpenAI:
		o := cfg.OpenAI
		if o == nil {
			o = &OpenAIConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:  "openai api key",
			Value: o.APIKey,
			File:  o.APIKeyFile,
			Env:   []string{"OPENAI_API_KEY"},
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.openai.api-key-file or OPENAI_API_KEY)", err)
		}

		generator, err := openai.NewGenerator(openai.Config{
			APIKey:  apiKey,
			Model:   o.Model,
			BaseURL: o.BaseURL,
			Options: cfg.Generation,
		}, log)
		if err != nil {
			return nil, err
		}
		return generator, nil
	case ai.ProviderAnthropic:
		c := cfg.Anthropic
		if c == nil {
			c = &AnthropicConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:  "anthropic api key",
			Value: c.APIKey,
			File:  c.APIKeyFile,
			Env:   []string{"ANTHROPIC_API_KEY"},
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.anthropic.api-key-file or ANTHROPIC_API_KEY)", err)
		}

		generator, err := anthropic.NewGenerator(anthropic.Config{
			APIKey:    apiKey,
			Model:     c.Model,
			BaseURL:   c.BaseURL,
			MaxTokens: c.MaxTokens,
			Options:   cfg.Generation,
		}, log)
		if err != nil {
			return nil, err
		}
		return generator, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

// redacted returns a copy of config that is safe to log.
func redacted(config *Config) *Config {
	out := *config

	if config.AI != nil {
		aiCfg := *config.AI
		if aiCfg.Gemini != nil {
			g := *aiCfg.Gemini
			g.APIKey = mask(g.APIKey)
			aiCfg.Gemini = &g
		}
		if aiCfg.OpenAI != nil {
			o := *aiCfg.OpenAI
			o.APIKey = mask(o.APIKey)
			aiCfg.OpenAI = &o
		}
		if aiCfg.Anthropic != nil {
			c := *aiCfg.Anthropic
			c.APIKey = mask(c.APIKey)
			aiCfg.Anthropic = &c
		}
		out.AI = &aiCfg
	}

	if len(config.Storage.Options) > 0 {
		options := make(map[string]any, len(config.Storage.Options))
		for key, value := range config.Storage.Options {
			lower := strings.ToLower(key)
			sensitive := strings.Contains(lower, "secret") || strings.Contains(lower, "dsn")
			if sensitive && !strings.HasSuffix(lower, "file") {
				value = "***"
			}
			options[key] = value
		}
		out.Storage.Options = options
	}

	if u, err := url.Parse(config.Events.URL); err == nil && config.Events.URL != "" {
		out.Events.URL = u.Redacted()
	}

	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
