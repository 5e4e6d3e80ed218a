package zpak

import "log/slog"

// DefaultMaxFiles is the default limit used when no CreateWithMaxFiles
// option is set.
const DefaultMaxFiles = 200_000

// createConfig holds configuration for image creation.
type createConfig struct {
	blockSize      int
	compression    Compression
	compressionSet bool
	level          int
	levelSet       bool
	profiles       bool
	workers        int
	maxFiles       int
	progress       ProgressFunc
	logger         *slog.Logger
}

// CreateOption configures image creation.
type CreateOption func(*createConfig)

// CreateWithBlockSize sets the dedup block size in bytes. The default
// is DefaultBlockSize (64 KiB). Values outside [MinBlockSize,
// MaxBlockSize] are rejected by Create.
func CreateWithBlockSize(n int) CreateOption {
	return func(cfg *createConfig) {
		cfg.blockSize = n
	}
}

// CreateWithCompression forces a single compression algorithm for all
// blocks, disabling per-file profile detection.
func CreateWithCompression(c Compression) CreateOption {
	return func(cfg *createConfig) {
		cfg.compression = c
		cfg.compressionSet = true
	}
}

// CreateWithLevel sets the zstd effort level (MinLevel..MaxLevel).
// When profile detection is active, an explicit level overrides the
// profile's level but not its algorithm choice.
func CreateWithLevel(level int) CreateOption {
	return func(cfg *createConfig) {
		cfg.level = level
		cfg.levelSet = true
	}
}

// CreateWithProfileDetection enables or disables extension-based
// compression profiles. Enabled by default; ignored when
// CreateWithCompression is set.
func CreateWithProfileDetection(enabled bool) CreateOption {
	return func(cfg *createConfig) {
		cfg.profiles = enabled
	}
}

// CreateWithWorkers sets the number of concurrent file workers. The
// worker count is a throughput hint only: any value produces an
// identical container. Zero uses GOMAXPROCS; negative forces serial
// processing.
func CreateWithWorkers(n int) CreateOption {
	return func(cfg *createConfig) {
		cfg.workers = n
	}
}

// CreateWithMaxFiles limits the number of files included in the image.
// Zero uses DefaultMaxFiles. Negative means no limit.
func CreateWithMaxFiles(n int) CreateOption {
	return func(cfg *createConfig) {
		cfg.maxFiles = n
	}
}

// CreateWithProgress sets a callback for progress updates. The
// callback must be safe for concurrent calls.
func CreateWithProgress(fn ProgressFunc) CreateOption {
	return func(cfg *createConfig) {
		cfg.progress = fn
	}
}

// CreateWithLogger sets the logger for creation operations.
// If not set, logging is disabled.
func CreateWithLogger(logger *slog.Logger) CreateOption {
	return func(cfg *createConfig) {
		cfg.logger = logger
	}
}
