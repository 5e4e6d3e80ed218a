package zpak

import "log/slog"

// imageConfig holds configuration for opening an image.
type imageConfig struct {
	verify bool
	logger *slog.Logger
}

// ImageOption configures an opened image.
type ImageOption func(*imageConfig)

// WithVerify controls per-block digest verification on read. Enabled
// by default; disabling trades integrity checking for throughput on
// sources that are already trusted.
func WithVerify(enabled bool) ImageOption {
	return func(cfg *imageConfig) {
		cfg.verify = enabled
	}
}

// WithLogger sets the logger for image operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) ImageOption {
	return func(cfg *imageConfig) {
		cfg.logger = logger
	}
}
