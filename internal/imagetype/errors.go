package imagetype

import "errors"

// Sentinel errors shared across the image engine. Callers match them
// with errors.Is; sites that raise them wrap with offset, digest, or
// path context.
var (
	// ErrCorrupt is returned when the container fails structural
	// validation: bad magic, version, checksum, section offsets, or
	// a truncated index or metadata region.
	ErrCorrupt = errors.New("zpak: corrupt container")

	// ErrDanglingBlock is returned when a file entry references a
	// block id absent from the block index.
	ErrDanglingBlock = errors.New("zpak: dangling block reference")

	// ErrPathRejected is returned when a metadata path could escape
	// the output root: absolute paths, parent-directory segments, or
	// reserved device names.
	ErrPathRejected = errors.New("zpak: path rejected")

	// ErrCompression is returned when compressing a block fails.
	ErrCompression = errors.New("zpak: compression failed")

	// ErrDecompression is returned when a block payload cannot be
	// decompressed or decompresses to the wrong length.
	ErrDecompression = errors.New("zpak: decompression failed")

	// ErrDigestMismatch is returned when a decompressed block does
	// not match the digest recorded in the index.
	ErrDigestMismatch = errors.New("zpak: block digest mismatch")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("zpak: size overflow")
)
