package models

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Renderer is implemented by every structured task output.
type Renderer interface {
	ToMarkdown() string
}

// Model describes a structured output type that a task can declare.
type Model struct {
	Name string

	schemaFile string
	newValue   func() Renderer
	defaults   func(map[string]any)

	once   sync.Once
	schema *gojsonschema.Schema
	raw    string
	err    error
}

// ValidationError lists the schema violations found in a decoded document.
type ValidationError struct {
	Model    string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s output does not match schema: %s", e.Model, strings.Join(e.Problems, "; "))
}

// ErrUnknownModel is returned by Lookup callers for names without a registered model.
var ErrUnknownModel = errors.New("unknown output model")

var registry = map[string]*Model{
	"job_requirements": {
		Name:       "job_requirements",
		schemaFile: "schemas/job_requirements.json",
		newValue:   func() Renderer { return &JobRequirements{} },
		defaults:   jobRequirementsDefaults,
	},
	"company_research": {
		Name:       "company_research",
		schemaFile: "schemas/company_research.json",
		newValue:   func() Renderer { return &CompanyResearch{} },
	},
	"resume_optimization": {
		Name:       "resume_optimization",
		schemaFile: "schemas/resume_optimization.json",
		newValue:   func() Renderer { return &ResumeOptimization{} },
	},
}

// Lookup returns the output model registered under name.
func Lookup(name string) (*Model, bool) {
	m, ok := registry[strings.TrimSpace(name)]
	return m, ok
}

// Names returns the registered model names in sorted order.
func Names() []string {
	return sortedKeys(registry)
}

func (m *Model) load() error {
	m.once.Do(func() {
		data, err := schemaFS.ReadFile(m.schemaFile)
		if err != nil {
			m.err = fmt.Errorf("reading schema %s: %w", m.schemaFile, err)
			return
		}
		m.raw = string(data)

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			m.err = fmt.Errorf("compiling schema %s: %w", m.schemaFile, err)
			return
		}
		m.schema = schema
	})
	return m.err
}

// Schema returns the JSON Schema document of the model.
func (m *Model) Schema() (string, error) {
	if err := m.load(); err != nil {
		return "", err
	}
	return m.raw, nil
}

// Decode applies defaults to data, validates it against the schema and decodes
// it into the model type. Loosely typed scalars (numbers as strings and
// similar) are accepted.
func (m *Model) Decode(data map[string]any) (Renderer, error) {
	if err := m.load(); err != nil {
		return nil, err
	}

	dropNulls(data)
	if m.defaults != nil {
		m.defaults(data)
	}

	result, err := m.schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validating %s: %w", m.Name, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		sort.Strings(problems)
		return nil, &ValidationError{Model: m.Name, Problems: problems}
	}

	value := m.newValue()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           value,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := decoder.Decode(data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", m.Name, err)
	}

	return value, nil
}

// dropNulls removes top-level null values so optional fields fall back to
// their zero value instead of failing type checks.
func dropNulls(data map[string]any) {
	for key, value := range data {
		if value == nil {
			delete(data, key)
		}
	}
}

func jobRequirementsDefaults(data map[string]any) {
	score, ok := data["match_score"].(map[string]any)
	if !ok {
		return
	}
	dropNulls(score)

	if factors, ok := score["scoring_factors"].(map[string]any); !ok || len(factors) == 0 {
		defaults := make(map[string]any)
		for key, weight := range DefaultScoringFactors() {
			defaults[key] = weight
		}
		score["scoring_factors"] = defaults
	}

	details, ok := score["skill_details"].([]any)
	if !ok {
		return
	}
	for _, item := range details {
		skill, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if skill["context_score"] == nil {
			skill["context_score"] = DefaultContextScore
		}
	}
}
