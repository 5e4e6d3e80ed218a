// Package fsink writes extracted files to a destination directory
// with atomic temp-file-and-rename semantics.
//
// Every operation goes through an os.Root opened on the destination,
// so even a hostile path that slipped past metadata validation cannot
// write outside the extraction root.
package fsink

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Sink writes files beneath a destination directory.
//
// Files are written to a temporary file in the same directory, then
// renamed to the final path on Commit. Partially written files are
// never visible at the final path. Sink is safe for concurrent use.
type Sink struct {
	root          *os.Root
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) Option {
	return func(s *Sink) {
		s.overwrite = overwrite
	}
}

// WithPreserveMode preserves permission modes from the image.
// By default, modes are not preserved (files use umask defaults).
func WithPreserveMode(preserve bool) Option {
	return func(s *Sink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes preserves modification times from the image.
// By default, times are not preserved (files use current time).
func WithPreserveTimes(preserve bool) Option {
	return func(s *Sink) {
		s.preserveTimes = preserve
	}
}

// Open creates destDir if needed and opens a sink rooted at it.
func Open(destDir string, opts ...Option) (*Sink, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", destDir, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return nil, err
	}
	s := &Sink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the destination root.
func (s *Sink) Close() error {
	return s.root.Close()
}

// Mkdir creates the directory at the slash-separated relative path,
// including parents. The mode applies only when modes are preserved.
func (s *Sink) Mkdir(path string, mode fs.FileMode) error {
	if path == "." {
		return nil
	}
	rel := filepath.FromSlash(path)
	if err := s.root.MkdirAll(rel, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	if s.preserveMode {
		if err := s.root.Chmod(rel, mode.Perm()); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return nil
}

// Chtimes sets the modification time of an existing path when times
// are preserved. Used for directories after their contents exist, so
// file creation does not clobber the restored time.
func (s *Sink) Chtimes(path string, modTime time.Time) error {
	if !s.preserveTimes || path == "." || modTime.IsZero() {
		return nil
	}
	return s.root.Chtimes(filepath.FromSlash(path), modTime, modTime)
}

// ShouldProcess returns false if the file already exists and
// overwrite is disabled.
func (s *Sink) ShouldProcess(path string) bool {
	if s.overwrite {
		return true
	}
	_, err := s.root.Stat(filepath.FromSlash(path))
	return errors.Is(err, fs.ErrNotExist)
}

// Writer returns a Committer that writes to a temp file alongside the
// destination and renames into place on Commit. Parent directories
// are created as needed.
func (s *Sink) Writer(path string, mode fs.FileMode, modTime time.Time) (*Committer, error) {
	rel := filepath.FromSlash(path)
	if dir := filepath.Dir(rel); dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	tmpPath, f, err := s.createTemp(rel)
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", path, err)
	}
	return &Committer{
		sink:     s,
		destPath: rel,
		tmpPath:  tmpPath,
		tmp:      f,
		mode:     mode,
		modTime:  modTime,
	}, nil
}

// createTemp opens an exclusive temp file in the same directory as
// rel. os.Root has no CreateTemp, so the name is rolled by hand.
func (s *Sink) createTemp(rel string) (string, *os.File, error) {
	dir := filepath.Dir(rel)
	for range 10 {
		var suffix [8]byte
		if _, err := rand.Read(suffix[:]); err != nil {
			return "", nil, err
		}
		name := filepath.Join(dir, ".zpak-"+hex.EncodeToString(suffix[:]))
		f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return name, f, nil
	}
	return "", nil, errors.New("temp name collisions exhausted retries")
}

// Committer writes one file and makes it visible atomically.
type Committer struct {
	sink     *Sink
	destPath string
	tmpPath  string
	tmp      *os.File
	mode     fs.FileMode
	modTime  time.Time
}

// Write implements io.Writer.
func (c *Committer) Write(p []byte) (int, error) {
	return c.tmp.Write(p)
}

// Commit closes the temp file, applies metadata, and renames it to
// the final path.
func (c *Committer) Commit() error {
	if err := c.tmp.Close(); err != nil {
		c.remove()
		return fmt.Errorf("close temp file: %w", err)
	}
	if c.sink.preserveMode {
		if err := c.sink.root.Chmod(c.tmpPath, c.mode.Perm()); err != nil {
			c.remove()
			return fmt.Errorf("chmod: %w", err)
		}
	}
	if c.sink.preserveTimes && !c.modTime.IsZero() {
		if err := c.sink.root.Chtimes(c.tmpPath, c.modTime, c.modTime); err != nil {
			c.remove()
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	if err := c.sink.root.Rename(c.tmpPath, c.destPath); err != nil {
		c.remove()
		return fmt.Errorf("rename to %s: %w", c.destPath, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *Committer) Discard() error {
	_ = c.tmp.Close()
	return c.sink.root.Remove(c.tmpPath)
}

func (c *Committer) remove() {
	_ = c.sink.root.Remove(c.tmpPath)
}
