package zpak

import (
	"github.com/meigma/zpak/internal/chunk"
	"github.com/meigma/zpak/internal/imagetype"
	"github.com/meigma/zpak/internal/zcodec"
)

// Re-export types from internal packages for the public API.
type (
	// Digest is the 32-byte BLAKE3 fingerprint identifying a block's
	// content.
	Digest = imagetype.Digest

	// BlockID identifies a unique block within a single image.
	BlockID = imagetype.BlockID

	// FileEntry describes one file in the metadata tree.
	FileEntry = imagetype.FileEntry

	// DirEntry describes one directory in the metadata tree.
	DirEntry = imagetype.DirEntry

	// Compression identifies the algorithm used to store a block.
	Compression = zcodec.Tag

	// ProgressEvent represents a progress update during operations.
	ProgressEvent = imagetype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = imagetype.ProgressStage

	// ProgressFunc receives progress updates during operations.
	ProgressFunc = imagetype.ProgressFunc
)

// ParseDigest parses the canonical hex form of a block digest.
var ParseDigest = imagetype.ParseDigest

// ParseCompression parses a compression name ("none", "lz4", "zstd").
var ParseCompression = zcodec.ParseTag

// Re-export compression constants.
const (
	CompressionNone = zcodec.TagNone
	CompressionLZ4  = zcodec.TagLZ4
	CompressionZstd = zcodec.TagZstd
)

// Re-export progress stage constants.
const (
	StageScanning      = imagetype.StageScanning
	StageDeduplicating = imagetype.StageDeduplicating
	StageWriting       = imagetype.StageWriting
	StageExtracting    = imagetype.StageExtracting
)

// Block size and compression level bounds.
const (
	// DefaultBlockSize is the standard dedup block size (64 KiB).
	DefaultBlockSize = chunk.DefaultBlockSize

	// MinBlockSize and MaxBlockSize bound configurable block sizes.
	MinBlockSize = chunk.MinBlockSize
	MaxBlockSize = chunk.MaxBlockSize

	// MinLevel, MaxLevel and DefaultLevel bound zstd effort levels.
	MinLevel     = zcodec.MinLevel
	MaxLevel     = zcodec.MaxLevel
	DefaultLevel = zcodec.DefaultLevel
)
