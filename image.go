package zpak

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/meigma/zpak/internal/chunk"
	"github.com/meigma/zpak/internal/container"
	"github.com/meigma/zpak/internal/imagetype"
	"github.com/meigma/zpak/internal/safepath"
	"github.com/meigma/zpak/internal/zcodec"
)

// ByteSource provides random access to a container's bytes. os.File
// satisfies it via Stat; see OpenFile for the common case.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Image is an open container. It resolves paths against the metadata
// tree and fetches blocks on demand; no file content is held in
// memory beyond the blocks currently being read.
//
// Image is safe for concurrent use.
type Image struct {
	src    ByteSource
	closer io.Closer
	header container.Header
	index  []container.IndexEntry
	root   *imagetype.DirEntry
	verify bool
	logger *slog.Logger
}

// New opens an image over an arbitrary ByteSource. The header, block
// index and metadata tree are read and fully validated up front, so a
// truncated or corrupted container fails here rather than partway
// through an extraction.
func New(src ByteSource, opts ...ImageOption) (*Image, error) {
	cfg := imageConfig{verify: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	header, err := container.ReadHeader(src, src.Size())
	if err != nil {
		return nil, err
	}
	index, err := container.ReadIndex(src, header)
	if err != nil {
		return nil, err
	}
	root, err := container.ReadMetadata(src, header, index)
	if err != nil {
		return nil, err
	}

	img := &Image{
		src:    src,
		header: header,
		index:  index,
		root:   root,
		verify: cfg.verify,
		logger: cfg.logger,
	}
	img.log().Debug("image opened",
		"block_size", header.BlockSize,
		"unique_blocks", header.UniqueBlocks,
		"files", header.FileCount)
	return img, nil
}

// OpenFile opens the container at path. Close releases the file.
func OpenFile(path string, opts ...ImageOption) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat container: %w", err)
	}

	img, err := New(&fileSource{f: f, size: info.Size()}, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	img.closer = f
	return img, nil
}

// fileSource adapts an os.File to ByteSource with a size captured at
// open time.
type fileSource struct {
	f    *os.File
	size int64
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileSource) Size() int64                             { return s.size }

// Close releases the underlying file if the image was opened with
// OpenFile. Images opened with New leave the ByteSource to the
// caller.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	return img.closer.Close()
}

func (img *Image) log() *slog.Logger {
	if img.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return img.logger
}

// BlockSize returns the dedup block size the image was built with.
func (img *Image) BlockSize() int {
	return int(img.header.BlockSize)
}

// Stats returns summary statistics for the image.
func (img *Image) Stats() Stats {
	return statsFromHeader(img.header)
}

// Root returns the root of the metadata tree. The returned tree is
// shared and must not be modified.
func (img *Image) Root() *DirEntry {
	return img.root
}

// resolve walks the metadata tree for a slash-separated relative
// path. Exactly one of the returned entries is non-nil on success.
func (img *Image) resolve(path string) (*imagetype.DirEntry, *imagetype.FileEntry, error) {
	path = safepath.Normalize(path)
	if path == "." {
		return img.root, nil, nil
	}
	if err := safepath.CheckRel(path); err != nil {
		return nil, nil, err
	}

	dir := img.root
	for {
		name, rest, more := strings.Cut(path, "/")
		if !more {
			if child := dir.Dir(name); child != nil {
				return child, nil, nil
			}
			if f := dir.File(name); f != nil {
				return nil, f, nil
			}
			return nil, nil, os.ErrNotExist
		}
		dir = dir.Dir(name)
		if dir == nil {
			return nil, nil, os.ErrNotExist
		}
		path = rest
	}
}

// fetchBlock reads, decompresses and (unless disabled) verifies one
// block by id. The id is trusted to be in range because the metadata
// tree was validated against the index at open time.
func (img *Image) fetchBlock(id imagetype.BlockID) ([]byte, error) {
	if int(id) >= len(img.index) {
		return nil, fmt.Errorf("%w: block %d of %d", ErrDanglingBlock, id, len(img.index))
	}
	entry := img.index[id]

	payload := make([]byte, entry.CompressedLen)
	off := int64(img.header.BlocksOff) + int64(entry.Offset)
	if _, err := io.ReadFull(io.NewSectionReader(img.src, off, int64(entry.CompressedLen)), payload); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", id, err)
	}

	raw, err := zcodec.Decompress(payload, entry.Tag, int(entry.RawLen))
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", id, err)
	}
	if img.verify {
		if sum := chunk.Sum(raw); sum != entry.Digest {
			return nil, fmt.Errorf("%w: block %d: got %s, want %s",
				ErrDigestMismatch, id, sum, entry.Digest)
		}
	}
	return raw, nil
}

// Verify checks the whole container: the payload region is streamed
// through SHA-256 and compared against the header checksum, and every
// block is decompressed and checked against its index digest. It
// reads the entire container and is proportional in cost to its size.
func (img *Image) Verify(ctx context.Context) error {
	hasher := sha256.New()
	section := io.NewSectionReader(img.src, int64(img.header.BlocksOff), int64(img.header.CompressedSize))
	if _, err := io.Copy(hasher, section); err != nil {
		return fmt.Errorf("reading payload region: %w", err)
	}
	var sum [sha256.Size]byte
	hasher.Sum(sum[:0])
	if sum != img.header.DataSum {
		return fmt.Errorf("%w: payload checksum mismatch", ErrCorrupt)
	}

	for id := range img.index {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := img.index[id]
		payload := make([]byte, entry.CompressedLen)
		off := int64(img.header.BlocksOff) + int64(entry.Offset)
		if _, err := io.ReadFull(io.NewSectionReader(img.src, off, int64(entry.CompressedLen)), payload); err != nil {
			return fmt.Errorf("reading block %d: %w", id, err)
		}
		raw, err := zcodec.Decompress(payload, entry.Tag, int(entry.RawLen))
		if err != nil {
			return fmt.Errorf("block %d: %w", id, err)
		}
		if got := chunk.Sum(raw); got != entry.Digest {
			return fmt.Errorf("%w: block %d: got %s, want %s",
				ErrDigestMismatch, id, got, entry.Digest)
		}
	}
	return nil
}
