package container

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/meigma/zpak/internal/blockstore"
	"github.com/meigma/zpak/internal/imagetype"
)

// BuildStats carries the tree-level totals the writer cannot derive
// from the block records alone.
type BuildStats struct {
	TotalBlocks uint64
	FileCount   uint64
	DirCount    uint64
	TotalSize   uint64
}

// Write serializes a complete container: placeholder header, block
// index, payloads, metadata tree, then the finalized header. The
// header is written last so that a crash mid-write leaves a file
// whose zeroed header fails validation instead of claiming sections
// it cannot back.
//
// Records must already be in final block id order; IsSorted-style
// canonicalization is the caller's concern.
func Write(ws io.WriteSeeker, records []blockstore.Record, root *imagetype.DirEntry, blockSize uint32, stats BuildStats) (Header, error) {
	meta, err := MarshalTree(root)
	if err != nil {
		return Header{}, err
	}

	var compressedSize uint64
	for _, rec := range records {
		compressedSize += uint64(len(rec.Payload))
	}

	h := Header{
		BlockSize:      blockSize,
		UniqueBlocks:   uint64(len(records)),
		TotalBlocks:    stats.TotalBlocks,
		FileCount:      stats.FileCount,
		DirCount:       stats.DirCount,
		TotalSize:      stats.TotalSize,
		CompressedSize: compressedSize,
		IndexOff:       HeaderSize,
		BlocksOff:      HeaderSize + uint64(len(records))*IndexEntrySize,
		MetaLen:        uint64(len(meta)),
	}
	h.MetaOff = h.BlocksOff + compressedSize

	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return Header{}, fmt.Errorf("seek to start: %w", err)
	}
	w := bufio.NewWriterSize(ws, 1<<20)

	// Placeholder header: all zeros, guaranteed invalid.
	var zero [HeaderSize]byte
	if _, err := w.Write(zero[:]); err != nil {
		return Header{}, fmt.Errorf("writing header placeholder: %w", err)
	}

	// Block index, in block id order. Offsets are assigned here:
	// payloads are laid out back to back in the same order.
	var offset uint64
	for id, rec := range records {
		entry := IndexEntry{
			Digest:        rec.Digest,
			Offset:        offset,
			CompressedLen: uint64(len(rec.Payload)),
			RawLen:        uint64(rec.RawLen),
			Tag:           rec.Tag,
		}
		buf := entry.marshal()
		if _, err := w.Write(buf[:]); err != nil {
			return Header{}, fmt.Errorf("writing index entry %d: %w", id, err)
		}
		offset += entry.CompressedLen
	}

	// Block payloads, hashed as written for the identity digest.
	hasher := sha256.New()
	payloads := io.MultiWriter(w, hasher)
	for id, rec := range records {
		if _, err := payloads.Write(rec.Payload); err != nil {
			return Header{}, fmt.Errorf("writing block %d (%s): %w", id, rec.Digest, err)
		}
	}
	copy(h.DataSum[:], hasher.Sum(nil))

	if _, err := w.Write(meta); err != nil {
		return Header{}, fmt.Errorf("writing metadata tree: %w", err)
	}
	if err := w.Flush(); err != nil {
		return Header{}, fmt.Errorf("flushing container: %w", err)
	}

	// Finalize the header in place.
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return Header{}, fmt.Errorf("seek to header: %w", err)
	}
	final := h.marshal()
	if _, err := ws.Write(final[:]); err != nil {
		return Header{}, fmt.Errorf("writing header: %w", err)
	}
	return h, nil
}
