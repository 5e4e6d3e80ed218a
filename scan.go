package zpak

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ScanEntry is one filesystem object yielded by a Scanner.
//
// Paths are slash-separated and relative to the scanned root, and are
// treated as untrusted: the image builder sanitizes them before
// recording anything in metadata.
type ScanEntry struct {
	// Path is the entry's relative path, or "." for the root itself.
	Path string

	// Info carries size, permission bits, and modification time.
	Info fs.FileInfo

	// IsDir reports whether the entry is a directory.
	IsDir bool

	// Open returns the file's content stream. Nil for directories.
	// Each call opens an independent reader, so a file can be
	// processed after the scan has moved on.
	Open func() (io.ReadCloser, error)
}

// Scanner yields the contents of a directory tree in a deterministic
// order, parents before children. Create consumes a Scanner to build
// an image; DirScanner is the standard implementation over the local
// filesystem.
type Scanner interface {
	Scan(ctx context.Context, yield func(ScanEntry) error) error
}

// DirScanner scans a local directory tree. Symbolic links and other
// irregular files are skipped; entries are yielded in lexical order
// with directories before their contents.
type DirScanner struct {
	dir string
}

// NewDirScanner creates a scanner rooted at dir.
func NewDirScanner(dir string) *DirScanner {
	return &DirScanner{dir: dir}
}

// Scan implements Scanner. Walks use an os.Root so that symlinks
// inside the tree cannot escape it; file opens go through
// os.OpenInRoot for the same containment.
func (s *DirScanner) Scan(ctx context.Context, yield func(ScanEntry) error) error {
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return err
	}
	defer root.Close()

	return fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := root.Lstat(filepath.FromSlash(path))
		if err != nil {
			return err
		}
		if !d.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		entry := ScanEntry{Path: path, Info: info, IsDir: d.IsDir()}
		if !d.IsDir() {
			dir := s.dir
			entry.Open = func() (io.ReadCloser, error) {
				f, err := os.OpenInRoot(dir, filepath.FromSlash(path))
				if err != nil {
					return nil, fmt.Errorf("open %s: %w", path, err)
				}
				return f, nil
			}
		}
		return yield(entry)
	})
}
