package imagetype

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"time"
)

// DigestSize is the width in bytes of a block content digest.
const DigestSize = 32

// Digest is the 32-byte BLAKE3 fingerprint of a block's raw bytes.
// It is the dedup key: two blocks with equal digests are treated as
// identical content. Accidental collisions at this width are accepted
// as negligible and are not detected by byte comparison.
type Digest [DigestSize]byte

// String returns the canonical hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 64-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parsing block digest: %w", err)
	}
	if len(decoded) != DigestSize {
		return d, fmt.Errorf("block digest is %d bytes, want %d", len(decoded), DigestSize)
	}
	copy(d[:], decoded)
	return d, nil
}

// BlockID identifies a unique block record within a single image.
// IDs are dense indexes into the block index, assigned at build time.
type BlockID uint32

// FileEntry describes one regular file in the metadata tree. Its
// content is the in-order concatenation of the referenced blocks'
// decompressed bytes, trimmed to Size.
type FileEntry struct {
	// Name is the final path element, never containing a separator.
	Name string `cbor:"1,keyasint"`

	// Size is the uncompressed content length in bytes.
	Size uint64 `cbor:"2,keyasint"`

	// Mode holds the permission bits recorded at image creation.
	Mode fs.FileMode `cbor:"3,keyasint"`

	// ModTime is the file's modification time.
	ModTime time.Time `cbor:"4,keyasint"`

	// Blocks is the ordered list of block references. Empty files
	// have a zero-length list.
	Blocks []BlockID `cbor:"5,keyasint"`
}

// DirEntry describes a directory in the metadata tree, including
// empty directories. Children are sorted by name.
type DirEntry struct {
	Name    string       `cbor:"1,keyasint"`
	Mode    fs.FileMode  `cbor:"2,keyasint"`
	ModTime time.Time    `cbor:"3,keyasint"`
	Dirs    []*DirEntry  `cbor:"4,keyasint,omitempty"`
	Files   []*FileEntry `cbor:"5,keyasint,omitempty"`
}

// Dir returns the child directory with the given name, or nil.
func (d *DirEntry) Dir(name string) *DirEntry {
	for _, child := range d.Dirs {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// File returns the child file with the given name, or nil.
func (d *DirEntry) File(name string) *FileEntry {
	for _, f := range d.Files {
		if f.Name == name {
			return f
		}
	}
	return nil
}
