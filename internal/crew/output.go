package crew

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spigell/resume-crew/internal/models"
)

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// parseStructured turns a model answer into the output model value.
func parseStructured(model *models.Model, raw string) (models.Renderer, error) {
	doc, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(doc), &data); err != nil {
		return nil, fmt.Errorf("parse json answer: %w", err)
	}

	return model.Decode(data)
}

// extractJSON returns the JSON object embedded in an answer, ignoring
// reasoning blocks, code fences and surrounding prose.
func extractJSON(raw string) (string, error) {
	cleaned := stripFences(stripThinking(raw))

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end < start {
		return "", errors.New("answer does not contain a json object")
	}
	return cleaned[start : end+1], nil
}

// cleanMarkdown normalises a free-form markdown answer.
func cleanMarkdown(raw string) string {
	return stripFences(stripThinking(raw))
}

func stripThinking(raw string) string {
	raw = thinkPattern.ReplaceAllString(raw, "")
	// Some models omit the opening tag; everything before a stray closing tag is reasoning.
	if idx := strings.LastIndex(raw, "</think>"); idx != -1 {
		raw = raw[idx+len("</think>"):]
	}
	return strings.TrimSpace(raw)
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}

	firstLine := strings.IndexByte(raw, '\n')
	if firstLine == -1 {
		return strings.Trim(raw, "`")
	}
	body := raw[firstLine+1:]
	if idx := strings.LastIndex(body, "```"); idx != -1 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func describeProblems(err error) string {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return "- " + strings.Join(verr.Problems, "\n- ")
	}
	return "- " + err.Error()
}
