package logging

import (
	"strings"

	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger at the given level.
// An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	if level = strings.TrimSpace(level); level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = parsed
	}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}
