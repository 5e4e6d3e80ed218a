// Package container serializes and parses the zpak container layout:
// fixed header, block index, concatenated compressed block payloads,
// and the CBOR-encoded metadata tree, in that order.
package container

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/meigma/zpak/internal/imagetype"
	"github.com/meigma/zpak/internal/zcodec"
)

// Format constants. Changing any of them breaks compatibility with
// existing containers.
const (
	// formatVersion is the container format version byte carried in
	// the magic.
	formatVersion = 1

	// HeaderSize is the fixed byte length of the container header.
	HeaderSize = 136

	// IndexEntrySize is the byte length of one block index entry:
	// 32-byte digest + 8-byte offset + 8-byte compressed length
	// + 8-byte raw length + 1-byte compression tag + 7 reserved
	// bytes for an 8-byte stride.
	IndexEntrySize = 64
)

// magic is the 8-byte container signature: "ZPAK" + version byte +
// three reserved bytes.
var magic = [8]byte{'Z', 'P', 'A', 'K', formatVersion, 0, 0, 0}

// crcTable is the Castagnoli table used for the header checksum.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Header is the container header. It is written last (the stats and
// section offsets are unknown until all blocks are finalized) but
// occupies the first HeaderSize bytes of the file. All offsets are
// absolute file offsets; all integers are little-endian.
type Header struct {
	// BlockSize is the dedup block size used to split file content.
	BlockSize uint32

	// UniqueBlocks is the number of entries in the block index.
	UniqueBlocks uint64

	// TotalBlocks counts every block reference across all files.
	TotalBlocks uint64

	// FileCount and DirCount size the metadata tree.
	FileCount uint64
	DirCount  uint64

	// TotalSize is the total uncompressed content size in bytes.
	TotalSize uint64

	// CompressedSize is the byte length of the Blocks section.
	CompressedSize uint64

	// IndexOff, BlocksOff and MetaOff locate the sections; MetaLen is
	// the metadata section length. The metadata section ends the file.
	IndexOff, BlocksOff, MetaOff, MetaLen uint64

	// DataSum is the SHA-256 sum of the Blocks section, the
	// container's identity digest.
	DataSum [32]byte
}

// marshal encodes the header, computing the trailing CRC over all
// preceding header bytes.
func (h *Header) marshal() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.BlockSize)
	// buf[12:16] reserved.
	binary.LittleEndian.PutUint64(buf[16:24], h.UniqueBlocks)
	binary.LittleEndian.PutUint64(buf[24:32], h.TotalBlocks)
	binary.LittleEndian.PutUint64(buf[32:40], h.FileCount)
	binary.LittleEndian.PutUint64(buf[40:48], h.DirCount)
	binary.LittleEndian.PutUint64(buf[48:56], h.TotalSize)
	binary.LittleEndian.PutUint64(buf[56:64], h.CompressedSize)
	binary.LittleEndian.PutUint64(buf[64:72], h.IndexOff)
	binary.LittleEndian.PutUint64(buf[72:80], h.BlocksOff)
	binary.LittleEndian.PutUint64(buf[80:88], h.MetaOff)
	binary.LittleEndian.PutUint64(buf[88:96], h.MetaLen)
	copy(buf[96:128], h.DataSum[:])
	binary.LittleEndian.PutUint32(buf[128:132], crc32.Checksum(buf[:128], crcTable))
	// buf[132:136] reserved.
	return buf
}

// unmarshalHeader decodes and structurally validates a header read
// from the first HeaderSize bytes of a container of the given total
// size. Every offset is checked against the file size before any
// caller trusts it.
func unmarshalHeader(buf []byte, fileSize int64) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", imagetype.ErrCorrupt, len(buf))
	}
	if [4]byte(buf[0:4]) != [4]byte{'Z', 'P', 'A', 'K'} {
		return Header{}, fmt.Errorf("%w: bad magic", imagetype.ErrCorrupt)
	}
	if buf[4] != formatVersion {
		return Header{}, fmt.Errorf("%w: unsupported format version %d", imagetype.ErrCorrupt, buf[4])
	}
	want := binary.LittleEndian.Uint32(buf[128:132])
	if got := crc32.Checksum(buf[:128], crcTable); got != want {
		return Header{}, fmt.Errorf("%w: header checksum mismatch (%08x != %08x)", imagetype.ErrCorrupt, got, want)
	}

	var h Header
	h.BlockSize = binary.LittleEndian.Uint32(buf[8:12])
	h.UniqueBlocks = binary.LittleEndian.Uint64(buf[16:24])
	h.TotalBlocks = binary.LittleEndian.Uint64(buf[24:32])
	h.FileCount = binary.LittleEndian.Uint64(buf[32:40])
	h.DirCount = binary.LittleEndian.Uint64(buf[40:48])
	h.TotalSize = binary.LittleEndian.Uint64(buf[48:56])
	h.CompressedSize = binary.LittleEndian.Uint64(buf[56:64])
	h.IndexOff = binary.LittleEndian.Uint64(buf[64:72])
	h.BlocksOff = binary.LittleEndian.Uint64(buf[72:80])
	h.MetaOff = binary.LittleEndian.Uint64(buf[80:88])
	h.MetaLen = binary.LittleEndian.Uint64(buf[88:96])
	copy(h.DataSum[:], buf[96:128])

	// Each case bounds a field before the next case does arithmetic
	// with it, so none of the sums below can wrap around uint64. A
	// header that only satisfies the section equations modulo 2^64
	// fails the range check instead.
	size := uint64(fileSize)
	indexLen := h.UniqueBlocks * IndexEntrySize
	switch {
	case size < HeaderSize:
		return Header{}, fmt.Errorf("%w: file is %d bytes, header needs %d", imagetype.ErrCorrupt, size, HeaderSize)
	case h.IndexOff != HeaderSize:
		return Header{}, fmt.Errorf("%w: index offset %d, want %d", imagetype.ErrCorrupt, h.IndexOff, HeaderSize)
	case h.UniqueBlocks > (size-HeaderSize)/IndexEntrySize:
		return Header{}, fmt.Errorf("%w: truncated index (%d entries)", imagetype.ErrCorrupt, h.UniqueBlocks)
	case h.BlocksOff != h.IndexOff+indexLen:
		return Header{}, fmt.Errorf("%w: blocks offset %d, want %d", imagetype.ErrCorrupt, h.BlocksOff, h.IndexOff+indexLen)
	case h.CompressedSize > size-h.BlocksOff:
		return Header{}, fmt.Errorf("%w: blocks section (%d bytes) overruns file (%d bytes)", imagetype.ErrCorrupt, h.CompressedSize, size)
	case h.MetaOff != h.BlocksOff+h.CompressedSize:
		return Header{}, fmt.Errorf("%w: metadata offset %d, want %d", imagetype.ErrCorrupt, h.MetaOff, h.BlocksOff+h.CompressedSize)
	case h.MetaLen != size-h.MetaOff:
		return Header{}, fmt.Errorf("%w: metadata section is %d bytes, file leaves %d", imagetype.ErrCorrupt, h.MetaLen, size-h.MetaOff)
	case h.TotalBlocks < h.UniqueBlocks:
		return Header{}, fmt.Errorf("%w: %d total blocks but %d unique", imagetype.ErrCorrupt, h.TotalBlocks, h.UniqueBlocks)
	}
	return h, nil
}

// IndexEntry is one block index record. Offsets are relative to the
// Blocks section start. Entries appear in block id order, which is
// also payload order: offsets increase monotonically and never
// overlap.
type IndexEntry struct {
	Digest        imagetype.Digest
	Offset        uint64
	CompressedLen uint64
	RawLen        uint64
	Tag           zcodec.Tag
}

func (e *IndexEntry) marshal() [IndexEntrySize]byte {
	var buf [IndexEntrySize]byte
	copy(buf[0:32], e.Digest[:])
	binary.LittleEndian.PutUint64(buf[32:40], e.Offset)
	binary.LittleEndian.PutUint64(buf[40:48], e.CompressedLen)
	binary.LittleEndian.PutUint64(buf[48:56], e.RawLen)
	buf[56] = byte(e.Tag)
	// buf[57:64] reserved.
	return buf
}

func unmarshalIndexEntry(buf []byte) IndexEntry {
	var e IndexEntry
	copy(e.Digest[:], buf[0:32])
	e.Offset = binary.LittleEndian.Uint64(buf[32:40])
	e.CompressedLen = binary.LittleEndian.Uint64(buf[40:48])
	e.RawLen = binary.LittleEndian.Uint64(buf[48:56])
	e.Tag = zcodec.Tag(buf[56])
	return e
}
