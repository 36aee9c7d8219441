package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// Keys shared by every component that logs about a run, so run logs
	// can be filtered by provider, model, run, task or agent.
	FieldProvider = "ai_provider"
	FieldModel    = "ai_model"
	FieldRun      = "run_id"
	FieldTask     = "task"
	FieldAgent    = "agent"
)

// StringField is a key and value that may still be blank.
type StringField struct {
	Key   string
	Value string
}

// StringFields turns pairs into zap.String fields. Blank keys and values are
// skipped, so callers can pass optional request data as is.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields is logger.With that tolerates a nil logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// CommonFields names the provider and model behind an LLM call.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, CommonFields(provider, model)...)
}

// TaskFields tags a log line with the crew task and its agent.
func TaskFields(task, agent string) []zap.Field {
	return StringFields(
		StringField{Key: FieldTask, Value: task},
		StringField{Key: FieldAgent, Value: agent},
	)
}
