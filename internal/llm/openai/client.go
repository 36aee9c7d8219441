package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spigell/resume-crew/internal/llm"
	"github.com/spigell/resume-crew/internal/logger"
	"github.com/spigell/resume-crew/internal/metrics"
	"github.com/spigell/resume-crew/internal/utils"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const (
	defaultModel        = "gpt-4o-mini"
	defaultMaxLogLength = 200
)

type contentModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Config holds the OpenAI generator settings.
type Config struct {
	APIKey string
	Model  string
	// BaseURL points at an OpenAI compatible endpoint when set.
	BaseURL      string
	MaxLogLength int
}

// Generator talks to the OpenAI chat completions API through langchaingo.
type Generator struct {
	model     contentModel
	name      string
	maxLogLen int
	logger    *zap.Logger
}

// NewGenerator creates a Generator for the given model.
func NewGenerator(cfg Config, log *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	name := strings.TrimSpace(cfg.Model)
	if name == "" {
		name = defaultModel
	}

	opts := []lcopenai.Option{
		lcopenai.WithToken(apiKey),
		lcopenai.WithModel(name),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(baseURL))
	}

	client, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	return newGenerator(client, name, cfg.MaxLogLength, log), nil
}

func newGenerator(model contentModel, name string, maxLogLen int, log *zap.Logger) *Generator {
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}
	return &Generator{
		model:     model,
		name:      name,
		maxLogLen: maxLogLen,
		logger:    logger.WithCommonFields(log, llm.ProviderOpenAI, name),
	}
}

func (g *Generator) Provider() string { return llm.ProviderOpenAI }

func (g *Generator) Model() string { return g.name }

// Generate sends the request as a system and a human message. Reasoning
// models (o1 family) accept neither a system role nor a temperature, so the
// system prompt is prepended to the human message for them.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (string, error) {
	if g == nil || g.model == nil {
		return "", errors.New("openai generator is not initialized")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	system := strings.TrimSpace(req.System)
	reasoning := isReasoningModel(g.name)

	var messages []llms.MessageContent
	var options []llms.CallOption

	switch {
	case reasoning && system != "":
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, system+"\n\n"+prompt))
	case system != "":
		messages = append(messages,
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		)
	default:
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
	}

	if !reasoning {
		if req.Temperature != nil {
			options = append(options, llms.WithTemperature(*req.Temperature))
		}
		if req.JSON {
			options = append(options, llms.WithJSONMode())
		}
	}

	g.logger.Debug("openai request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, g.maxLogLen)),
	)

	resp, err := g.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(llm.ProviderOpenAI, g.name, metrics.StatusError).Inc()
		return "", fmt.Errorf("generate content: %w", err)
	}

	output := ""
	if resp != nil && len(resp.Choices) > 0 && resp.Choices[0] != nil {
		output = strings.TrimSpace(resp.Choices[0].Content)
	}
	if output == "" {
		metrics.LLMRequests.WithLabelValues(llm.ProviderOpenAI, g.name, metrics.StatusError).Inc()
		return "", errors.New("openai api returned empty response")
	}

	metrics.LLMRequests.WithLabelValues(llm.ProviderOpenAI, g.name, metrics.StatusOK).Inc()
	g.logger.Debug("openai response",
		zap.Int("response_length", utf8.RuneCountInString(output)),
		zap.String("response_preview", utils.TruncateForLog(output, g.maxLogLen)),
	)

	return output, nil
}

func isReasoningModel(name string) bool {
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "o1") || strings.HasPrefix(name, "o3") || strings.HasPrefix(name, "o4")
}
