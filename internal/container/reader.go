package container

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/meigma/zpak/internal/imagetype"
)

// ReadHeader reads and validates the header of a container of the
// given total size. All section offsets are checked against the file
// size before being returned, so callers may trust them.
func ReadHeader(src io.ReaderAt, size int64) (Header, error) {
	if size < HeaderSize {
		return Header{}, fmt.Errorf("%w: file is %d bytes, header needs %d", imagetype.ErrCorrupt, size, HeaderSize)
	}
	buf := make([]byte, HeaderSize)
	if _, err := src.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return Header{}, fmt.Errorf("reading header: %w", err)
	}
	return unmarshalHeader(buf, size)
}

// ReadIndex reads the block index described by a validated header and
// checks its internal invariants: offsets increase monotonically,
// entries never overlap, the final entry ends exactly at the metadata
// section, and raw lengths respect the declared block size.
func ReadIndex(src io.ReaderAt, h Header) ([]IndexEntry, error) {
	if h.UniqueBlocks > math.MaxInt/IndexEntrySize {
		return nil, fmt.Errorf("%w: index too large (%d entries)", imagetype.ErrCorrupt, h.UniqueBlocks)
	}
	raw := make([]byte, int(h.UniqueBlocks)*IndexEntrySize)
	if _, err := src.ReadAt(raw, int64(h.IndexOff)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: reading block index at offset %d: %v", imagetype.ErrCorrupt, h.IndexOff, err)
	}

	entries := make([]IndexEntry, h.UniqueBlocks)
	var next uint64
	for i := range entries {
		e := unmarshalIndexEntry(raw[i*IndexEntrySize:])
		switch {
		case !e.Tag.Valid():
			return nil, fmt.Errorf("%w: index entry %d: unknown compression tag %d", imagetype.ErrCorrupt, i, e.Tag)
		case e.Offset != next:
			return nil, fmt.Errorf("%w: index entry %d: offset %d, want %d", imagetype.ErrCorrupt, i, e.Offset, next)
		case e.CompressedLen == 0 || e.RawLen == 0:
			return nil, fmt.Errorf("%w: index entry %d: empty block", imagetype.ErrCorrupt, i)
		case e.RawLen > uint64(h.BlockSize):
			return nil, fmt.Errorf("%w: index entry %d: raw length %d exceeds block size %d", imagetype.ErrCorrupt, i, e.RawLen, h.BlockSize)
		// e.Offset == next <= CompressedSize here, so the subtraction
		// cannot underflow and the comparison cannot wrap.
		case e.CompressedLen > h.CompressedSize-e.Offset:
			return nil, fmt.Errorf("%w: index entry %d: payload of %d bytes at %d exceeds blocks section (%d bytes)",
				imagetype.ErrCorrupt, i, e.CompressedLen, e.Offset, h.CompressedSize)
		}
		next = e.Offset + e.CompressedLen
		entries[i] = e
	}
	if next != h.CompressedSize {
		return nil, fmt.Errorf("%w: blocks section is %d bytes but index covers %d", imagetype.ErrCorrupt, h.CompressedSize, next)
	}
	return entries, nil
}

// ReadMetadata reads, decodes, and validates the metadata tree. The
// returned tree is safe to extract: paths are sanitized and every
// block reference resolves within the index.
func ReadMetadata(src io.ReaderAt, h Header, index []IndexEntry) (*imagetype.DirEntry, error) {
	if h.MetaLen > math.MaxInt {
		return nil, fmt.Errorf("%w: metadata section too large (%d bytes)", imagetype.ErrCorrupt, h.MetaLen)
	}
	raw := make([]byte, h.MetaLen)
	if _, err := src.ReadAt(raw, int64(h.MetaOff)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: reading metadata at offset %d: %v", imagetype.ErrCorrupt, h.MetaOff, err)
	}
	root, err := UnmarshalTree(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateTree(root, index, h.BlockSize); err != nil {
		return nil, err
	}

	files, dirs, totalBlocks, totalSize := count(root)
	switch {
	case files != h.FileCount:
		return nil, fmt.Errorf("%w: header claims %d files, metadata has %d", imagetype.ErrCorrupt, h.FileCount, files)
	case dirs != h.DirCount:
		return nil, fmt.Errorf("%w: header claims %d directories, metadata has %d", imagetype.ErrCorrupt, h.DirCount, dirs)
	case totalBlocks != h.TotalBlocks:
		return nil, fmt.Errorf("%w: header claims %d block references, metadata has %d", imagetype.ErrCorrupt, h.TotalBlocks, totalBlocks)
	case totalSize != h.TotalSize:
		return nil, fmt.Errorf("%w: header claims %d content bytes, metadata has %d", imagetype.ErrCorrupt, h.TotalSize, totalSize)
	}
	return root, nil
}

// count walks a tree and tallies the totals recorded in the header.
// The root directory itself is not counted.
func count(root *imagetype.DirEntry) (files, dirs, blocks, size uint64) {
	var walk func(d *imagetype.DirEntry)
	walk = func(d *imagetype.DirEntry) {
		for _, f := range d.Files {
			files++
			blocks += uint64(len(f.Blocks))
			size += f.Size
		}
		for _, child := range d.Dirs {
			dirs++
			walk(child)
		}
	}
	walk(root)
	return files, dirs, blocks, size
}
