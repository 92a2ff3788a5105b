package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithUser returns a logger with a user_id field
func WithUser(logger *zap.Logger, userID int64) *zap.Logger {
	return logger.With(zap.Int64("user_id", userID))
}

// WithDevice returns a logger with a device_id field
func WithDevice(logger *zap.Logger, deviceID int64) *zap.Logger {
	return logger.With(zap.Int64("device_id", deviceID))
}
