// Package zcodec compresses and decompresses single blocks. It is the
// adapter between the block store and the entropy coders: each block
// carries a one-byte tag naming the algorithm used to store it.
package zcodec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/meigma/zpak/internal/imagetype"
)

// Tag identifies the compression algorithm used for a block. Tags are
// stored in the block index (1 byte each); the values are format
// constants.
type Tag uint8

const (
	// TagNone indicates an uncompressed payload. Used when the coded
	// output would not be smaller than the input.
	TagNone Tag = 0

	// TagLZ4 indicates LZ4 block compression: fast, modest ratio.
	TagLZ4 Tag = 1

	// TagZstd indicates zstd compression at a configurable level.
	TagZstd Tag = 2
)

// String returns the human-readable name of a tag.
func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagLZ4:
		return "lz4"
	case TagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// ParseTag parses a tag from its string representation.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return TagNone, nil
	case "lz4":
		return TagLZ4, nil
	case "zstd":
		return TagZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// Valid reports whether t names a known algorithm.
func (t Tag) Valid() bool {
	return t <= TagZstd
}

// Zstd level bounds, on the reference zstd scale.
const (
	MinLevel     = 1
	MaxLevel     = 22
	DefaultLevel = 12
)

// ValidateLevel checks that level is within the accepted zstd range.
func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return fmt.Errorf("compression level %d out of range [%d, %d]", level, MinLevel, MaxLevel)
	}
	return nil
}

// ErrIncompressible is returned by Compress when the coded output is
// not smaller than the input. The caller should store the raw bytes
// under TagNone instead.
var ErrIncompressible = errors.New("zcodec: data is incompressible")

// encoders caches one zstd encoder per effort level. zstd.Encoder is
// safe for concurrent EncodeAll use, so a single instance per level
// serves all workers.
var encoders sync.Map // int -> *zstd.Encoder

// decoder is the shared zstd decoder for DecodeAll calls.
var (
	decoder     *zstd.Decoder
	decoderOnce sync.Once
)

func zstdEncoder(level int) (*zstd.Encoder, error) {
	if v, ok := encoders.Load(level); ok {
		return v.(*zstd.Encoder), nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating zstd encoder (level %d): %v", imagetype.ErrCompression, level, err)
	}
	actual, _ := encoders.LoadOrStore(level, enc)
	return actual.(*zstd.Encoder), nil
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			panic("zcodec: zstd decoder initialization failed: " + err.Error())
		}
		decoder = dec
	})
	return decoder
}

// Compress codes a single block with the given tag and effort level.
// The level only applies to TagZstd. For TagNone the input is
// returned unchanged (no copy). Returns ErrIncompressible when the
// coded output would not be smaller than the input.
func Compress(data []byte, tag Tag, level int) ([]byte, error) {
	switch tag {
	case TagNone:
		return data, nil

	case TagLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", imagetype.ErrCompression, err)
		}
		// CompressBlock returns 0 when it judges the input
		// incompressible; a result no smaller than the input is
		// equally not worth storing.
		if n == 0 || n >= len(data) {
			return nil, ErrIncompressible
		}
		return dst[:n], nil

	case TagZstd:
		if err := ValidateLevel(level); err != nil {
			return nil, fmt.Errorf("%w: %v", imagetype.ErrCompression, err)
		}
		enc, err := zstdEncoder(level)
		if err != nil {
			return nil, err
		}
		out := enc.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, ErrIncompressible
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unsupported tag %d", imagetype.ErrCompression, tag)
	}
}

// Decompress decodes a block payload. rawLen must match the original
// length exactly; a mismatch is reported as a decompression failure
// rather than silently truncated or padded.
func Decompress(payload []byte, tag Tag, rawLen int) ([]byte, error) {
	switch tag {
	case TagNone:
		if len(payload) != rawLen {
			return nil, fmt.Errorf("%w: stored length %d does not match expected %d",
				imagetype.ErrDecompression, len(payload), rawLen)
		}
		return payload, nil

	case TagLZ4:
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", imagetype.ErrDecompression, err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, expected %d", imagetype.ErrDecompression, n, rawLen)
		}
		return dst, nil

	case TagZstd:
		out, err := zstdDecoder().DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", imagetype.ErrDecompression, err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, expected %d", imagetype.ErrDecompression, len(out), rawLen)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unsupported tag %d", imagetype.ErrDecompression, tag)
	}
}
