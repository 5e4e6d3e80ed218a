package zpak

import (
	"errors"

	"github.com/meigma/zpak/internal/imagetype"
)

// Sentinel errors re-exported from internal/imagetype.
var (
	// ErrCorrupt is returned when a container fails structural
	// validation: bad magic, checksum, section offsets, or a
	// truncated index or metadata region.
	ErrCorrupt = imagetype.ErrCorrupt

	// ErrDanglingBlock is returned when file metadata references a
	// block id absent from the block index.
	ErrDanglingBlock = imagetype.ErrDanglingBlock

	// ErrPathRejected is returned when a path could escape the
	// output root and was refused.
	ErrPathRejected = imagetype.ErrPathRejected

	// ErrCompression is returned when compressing a block fails.
	ErrCompression = imagetype.ErrCompression

	// ErrDecompression is returned when a block payload cannot be
	// decoded back to its raw bytes.
	ErrDecompression = imagetype.ErrDecompression

	// ErrDigestMismatch is returned when a decompressed block does
	// not match the digest recorded in the index.
	ErrDigestMismatch = imagetype.ErrDigestMismatch

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = imagetype.ErrSizeOverflow
)

// Sentinel errors specific to the zpak package.
var (
	// ErrTooManyFiles is returned when the input exceeds the
	// configured file count limit.
	ErrTooManyFiles = errors.New("zpak: too many files")
)

// fs-facing errors used by the Image filesystem implementation.
var (
	errIsDirectory  = errors.New("is a directory")
	errNotDirectory = errors.New("not a directory")
)
