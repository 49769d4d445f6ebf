package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger. Local and test environments get the
// human readable development encoder, everything else JSON.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
