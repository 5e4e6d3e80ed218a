package container

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/meigma/zpak/internal/imagetype"
	"github.com/meigma/zpak/internal/safepath"
)

// CBOR modes for the metadata section. Encoding uses Core
// Deterministic Encoding (RFC 8949 §4.2) so that identical trees
// always serialize to identical bytes; decoding raises the default
// nesting and array limits, which deep directory trees and large
// block lists would otherwise hit.
var (
	metaEncMode cbor.EncMode
	metaDecMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	metaEncMode, err = encOpts.EncMode()
	if err != nil {
		panic("container: cbor encode mode: " + err.Error())
	}
	metaDecMode, err = cbor.DecOptions{
		MaxNestedLevels:  65535,
		MaxArrayElements: 2147483647,
	}.DecMode()
	if err != nil {
		panic("container: cbor decode mode: " + err.Error())
	}
}

// MarshalTree encodes the metadata tree to its CBOR wire form.
func MarshalTree(root *imagetype.DirEntry) ([]byte, error) {
	data, err := metaEncMode.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata tree: %w", err)
	}
	return data, nil
}

// UnmarshalTree decodes a CBOR metadata section. The result is not
// yet trusted; callers must run ValidateTree before acting on it.
func UnmarshalTree(data []byte) (*imagetype.DirEntry, error) {
	var root imagetype.DirEntry
	if err := metaDecMode.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata tree: %v", imagetype.ErrCorrupt, err)
	}
	return &root, nil
}

// ValidateTree checks a decoded metadata tree against the block
// index: every path element must be safe to recreate under an output
// root, every block reference must name an index entry, and each
// file's referenced raw lengths must cover its recorded size.
func ValidateTree(root *imagetype.DirEntry, index []IndexEntry, blockSize uint32) error {
	if root == nil {
		return fmt.Errorf("%w: missing metadata tree", imagetype.ErrCorrupt)
	}
	if root.Name != "" {
		return fmt.Errorf("%w: root directory has name %q", imagetype.ErrCorrupt, root.Name)
	}
	return validateDir(root, "", index, blockSize)
}

func validateDir(dir *imagetype.DirEntry, prefix string, index []IndexEntry, blockSize uint32) error {
	// Names must be unique across files and subdirectories alike, or
	// extraction would resolve the same path twice.
	seen := make(map[string]struct{}, len(dir.Files)+len(dir.Dirs))
	for _, f := range dir.Files {
		path := join(prefix, f.Name)
		if err := safepath.CheckName(f.Name); err != nil {
			return fmt.Errorf("file %q: %w", path, err)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate entry %q", imagetype.ErrCorrupt, path)
		}
		seen[f.Name] = struct{}{}
		if err := validateFileBlocks(f, path, index, blockSize); err != nil {
			return err
		}
	}
	for _, child := range dir.Dirs {
		path := join(prefix, child.Name)
		if err := safepath.CheckName(child.Name); err != nil {
			return fmt.Errorf("directory %q: %w", path, err)
		}
		if _, dup := seen[child.Name]; dup {
			return fmt.Errorf("%w: duplicate entry %q", imagetype.ErrCorrupt, path)
		}
		seen[child.Name] = struct{}{}
		if err := validateDir(child, path, index, blockSize); err != nil {
			return err
		}
	}
	return nil
}

func validateFileBlocks(f *imagetype.FileEntry, path string, index []IndexEntry, blockSize uint32) error {
	var referenced uint64
	for i, id := range f.Blocks {
		if int(id) >= len(index) {
			return fmt.Errorf("file %q block %d: %w: id %d of %d", path, i, imagetype.ErrDanglingBlock, id, len(index))
		}
		entry := index[id]
		if entry.RawLen > uint64(blockSize) {
			return fmt.Errorf("file %q block %d: %w: raw length %d exceeds block size %d",
				path, i, imagetype.ErrCorrupt, entry.RawLen, blockSize)
		}
		// All blocks but the last must be full; only the final block
		// may be short. Enforcing this here keeps reconstruction a
		// straight concatenation.
		if i < len(f.Blocks)-1 && entry.RawLen != uint64(blockSize) {
			return fmt.Errorf("file %q block %d: %w: interior block is %d bytes, want %d",
				path, i, imagetype.ErrCorrupt, entry.RawLen, blockSize)
		}
		referenced += entry.RawLen
	}
	if referenced < f.Size {
		return fmt.Errorf("file %q: %w: blocks cover %d of %d bytes", path, imagetype.ErrCorrupt, referenced, f.Size)
	}
	return nil
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
