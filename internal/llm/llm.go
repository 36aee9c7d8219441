// Package llm defines the text generation contract the crew agents depend on.
// Provider implementations live in the gemini and openai subpackages.
package llm

import (
	"context"
	"strings"
)

// Request is a single prompt sent to a model.
type Request struct {
	// System carries the agent persona.
	System string
	Prompt string
	// Temperature overrides the provider default when set.
	Temperature *float64
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Generator produces a text completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Provider() string
	Model() string
}

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Temperature returns a pointer to t, for use in Request.
func Temperature(t float64) *float64 {
	return &t
}

// GuessProvider infers the provider from a model name. It returns an empty
// string when the name is not recognised.
func GuessProvider(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "openai/"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "gemini"):
		return ProviderGemini
	default:
		return ""
	}
}

// TrimProviderPrefix drops a "provider/" prefix from model names such as
// "openai/gpt-4o-mini".
func TrimProviderPrefix(model string) string {
	model = strings.TrimSpace(model)
	if idx := strings.Index(model, "/"); idx != -1 {
		return model[idx+1:]
	}
	return model
}
