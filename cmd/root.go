package cmd

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/grader/internal/ai"
	"github.com/spigell/grader/internal/events"
	"github.com/spigell/grader/internal/plagiarism"
	"github.com/spigell/grader/internal/server"
	"github.com/spigell/grader/internal/storage"
)

const (
	app = "grader"

	defaultModelPath = "models/plagiarism.json"
)

type Config struct {
	Storage    storage.Config    `mapstructure:"storage"`
	AI         *AIConfig         `mapstructure:"ai"`
	Plagiarism *PlagiarismConfig `mapstructure:"plagiarism"`
	Server     server.Config     `mapstructure:"server"`
	Events     events.Config     `mapstructure:"events"`
}

type AIConfig struct {
	Provider   string               `mapstructure:"provider"`
	Generation ai.GenerationOptions `mapstructure:"generation"`
	Gemini     *GeminiConfig        `mapstructure:"gemini"`
	OpenAI     *OpenAIConfig        `mapstructure:"openai"`
	Anthropic  *AnthropicConfig     `mapstructure:"anthropic"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max-retries"`
}

type OpenAIConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base-url"`
}

type AnthropicConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base-url"`
	MaxTokens  int    `mapstructure:"max-tokens"`
}

type PlagiarismConfig struct {
	plagiarism.Options `mapstructure:",squash"`

	// ModelPath points to the fitted vectorizer and classifier artifact.
	ModelPath string `mapstructure:"model-path"`
	Stem      bool   `mapstructure:"stem"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "grader evaluates assignment answers with an LLM and checks them for plagiarism against peer answers",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	for key, env := range map[string]string{
		"events.amqp-url":       "AMQP_URL",
		"storage.driver":        "GRADER_STORAGE_DRIVER",
		"server.addr":           "GRADER_ADDR",
		"plagiarism.model-path": "GRADER_MODEL_PATH",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is grader.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("log-output", "", "log destination: stderr, stdout or a file path (default stderr)")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("log-output", rootCmd.PersistentFlags().Lookup("log-output"))
}

func initConfig() {
	// .env is optional, real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		// An explicitly given config must be readable.
		if err := viper.ReadInConfig(); err != nil {
			log.Fatal(err)
		}
		return
	}

	viper.AddConfigPath(".")
	viper.SetConfigName(app)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.Plagiarism == nil {
		config.Plagiarism = &PlagiarismConfig{}
	}
	if config.Plagiarism.ModelPath == "" {
		config.Plagiarism.ModelPath = defaultModelPath
	}

	return config, nil
}
