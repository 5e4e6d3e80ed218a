package zpak

import (
	"github.com/opencontainers/go-digest"

	"github.com/meigma/zpak/internal/container"
)

// Stats contains aggregate statistics for an image, taken from the
// container header. All values are available without reading block
// payloads.
type Stats struct {
	// BlockSize is the dedup block size in bytes.
	BlockSize int

	// UniqueBlocks and TotalBlocks describe deduplication:
	// TotalBlocks counts every block reference across all files,
	// UniqueBlocks the distinct blocks actually stored.
	UniqueBlocks uint64
	TotalBlocks  uint64

	// FileCount and DirCount size the metadata tree.
	FileCount uint64
	DirCount  uint64

	// TotalSize is the uncompressed content size; CompressedSize is
	// the stored payload size after dedup and compression.
	TotalSize      uint64
	CompressedSize uint64

	// DataDigest is the SHA-256 digest of the payload region, the
	// image's identity.
	DataDigest digest.Digest
}

func statsFromHeader(h container.Header) Stats {
	return Stats{
		BlockSize:      int(h.BlockSize),
		UniqueBlocks:   h.UniqueBlocks,
		TotalBlocks:    h.TotalBlocks,
		FileCount:      h.FileCount,
		DirCount:       h.DirCount,
		TotalSize:      h.TotalSize,
		CompressedSize: h.CompressedSize,
		DataDigest:     digest.NewDigestFromBytes(digest.SHA256, h.DataSum[:]),
	}
}

// DedupRatio returns the fraction of block references served by an
// already-stored block. Zero means no duplication was found.
func (s Stats) DedupRatio() float64 {
	if s.TotalBlocks == 0 {
		return 0
	}
	return 1 - float64(s.UniqueBlocks)/float64(s.TotalBlocks)
}

// CompressionRatio returns the ratio of stored to original bytes.
// Returns 1.0 for an empty image.
func (s Stats) CompressionRatio() float64 {
	if s.TotalSize == 0 {
		return 1.0
	}
	return float64(s.CompressedSize) / float64(s.TotalSize)
}

// SpaceSaved returns the bytes saved by dedup and compression
// combined, zero if the stored payload is larger than the input.
func (s Stats) SpaceSaved() uint64 {
	if s.CompressedSize >= s.TotalSize {
		return 0
	}
	return s.TotalSize - s.CompressedSize
}

// InspectFile opens the container at path, reads its header, index
// and metadata, and returns its statistics. The block payloads are
// not read.
func InspectFile(path string, opts ...ImageOption) (Stats, error) {
	img, err := OpenFile(path, opts...)
	if err != nil {
		return Stats{}, err
	}
	defer img.Close()
	return img.Stats(), nil
}
