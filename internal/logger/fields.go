package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
	// FieldAssignment is the structured log field key for the assignment ID.
	FieldAssignment = "assignment_id"
	// FieldPeer is the structured log field key for the peer ID of a submission.
	FieldPeer = "peer_id"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
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

// WithFields safely attaches the provided fields to the logger.
// If the logger is nil or no fields are supplied, the input logger is returned
// unchanged, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// AIFields returns the fields that describe the AI provider and model.
// Empty values are ignored.
func AIFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithAI attaches the AI fields to the provided logger. A nil logger becomes
// a no-op logger.
func WithAI(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, AIFields(provider, model)...)
}

// SubmissionFields returns the fields that identify a submission. The peer
// ID is unknown until the answer is stored and is omitted while empty.
func SubmissionFields(assignmentID, peerID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldAssignment, Value: assignmentID},
		StringField{Key: FieldPeer, Value: peerID},
	)
}

// WithSubmission attaches the submission fields to the provided logger.
func WithSubmission(logger *zap.Logger, assignmentID, peerID string) *zap.Logger {
	return WithFields(logger, SubmissionFields(assignmentID, peerID)...)
}
