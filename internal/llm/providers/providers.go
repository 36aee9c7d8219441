// Package providers builds an llm.Generator for a configured model name.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/resume-crew/internal/llm"
	"github.com/spigell/resume-crew/internal/llm/gemini"
	"github.com/spigell/resume-crew/internal/llm/openai"
	"github.com/spigell/resume-crew/internal/secrets"
	"go.uber.org/zap"
)

// DefaultModel is used when neither flags nor configuration select a model.
const DefaultModel = "gpt-4o-mini"

// Config describes the selectable models and provider credentials.
type Config struct {
	DefaultModel string        `mapstructure:"default-model"`
	Models       []ModelConfig `mapstructure:"models"`
	MaxRetries   int           `mapstructure:"max-retries"`
	MaxLogLength int           `mapstructure:"max-log-length"`
	OpenAI       *OpenAIConfig `mapstructure:"openai"`
	Gemini       *GeminiConfig `mapstructure:"gemini"`
}

// ModelConfig pins a model name to a provider.
type ModelConfig struct {
	Name     string `mapstructure:"name"`
	Provider string `mapstructure:"provider"`
}

// API keys are kept out of json so a config dump never prints them.
type OpenAIConfig struct {
	APIKey     string `mapstructure:"api-key" json:"-"`
	APIKeyFile string `mapstructure:"api-key-file"`
	BaseURL    string `mapstructure:"base-url"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key" json:"-"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

// ErrUnknownProvider is returned when a model cannot be mapped to a provider.
var ErrUnknownProvider = errors.New("unknown llm provider")

// Choices returns the model names offered for selection. Without explicit
// configuration the historical pair gpt-4o-mini and o1 is offered.
func (c *Config) Choices() []string {
	if c == nil || len(c.Models) == 0 {
		return []string{DefaultModel, "o1"}
	}
	names := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		if name := strings.TrimSpace(m.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Default returns the configured default model.
func (c *Config) Default() string {
	if c != nil {
		if model := strings.TrimSpace(c.DefaultModel); model != "" {
			return model
		}
	}
	return DefaultModel
}

// Resolve maps a model name to its provider and the name the provider API expects.
func (c *Config) Resolve(model string) (provider, name string, err error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = c.Default()
	}

	if c != nil {
		for _, m := range c.Models {
			if strings.EqualFold(strings.TrimSpace(m.Name), model) && strings.TrimSpace(m.Provider) != "" {
				return strings.ToLower(strings.TrimSpace(m.Provider)), llm.TrimProviderPrefix(model), nil
			}
		}
	}

	provider = llm.GuessProvider(model)
	if provider == "" {
		return "", "", fmt.Errorf("%w for model %q", ErrUnknownProvider, model)
	}
	return provider, llm.TrimProviderPrefix(model), nil
}

// New creates the generator serving model.
func New(ctx context.Context, cfg *Config, model string, log *zap.Logger) (llm.Generator, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	provider, name, err := cfg.Resolve(model)
	if err != nil {
		return nil, err
	}

	switch provider {
	case llm.ProviderOpenAI:
		oc := cfg.OpenAI
		if oc == nil {
			oc = &OpenAIConfig{}
		}
		key, err := secrets.Load(secrets.Source{
			Name:  "openai api key",
			Value: oc.APIKey,
			File:  oc.APIKeyFile,
			Env:   "OPENAI_API_KEY",
		})
		if err != nil {
			return nil, err
		}
		return openai.NewGenerator(openai.Config{
			APIKey:       key,
			Model:        name,
			BaseURL:      oc.BaseURL,
			MaxLogLength: cfg.MaxLogLength,
		}, log)
	case llm.ProviderGemini:
		gc := cfg.Gemini
		if gc == nil {
			gc = &GeminiConfig{}
		}
		key, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			Value: gc.APIKey,
			File:  gc.APIKeyFile,
			Env:   "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, err
		}
		return gemini.NewGenerator(ctx, gemini.Config{
			APIKey:       key,
			Model:        name,
			MaxRetries:   cfg.MaxRetries,
			MaxLogLength: cfg.MaxLogLength,
		}, log)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
}
