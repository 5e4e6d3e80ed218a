// Package chunk splits file content into fixed-size blocks and
// computes their dedup digests.
package chunk

import (
	"errors"
	"fmt"
	"io"
)

// Block size bounds. The default matches the historical zpak format;
// the limits bound what a container header may declare.
const (
	// DefaultBlockSize is the standard dedup block size.
	DefaultBlockSize = 64 * 1024 // 64 KiB

	// MinBlockSize is the smallest accepted block size.
	MinBlockSize = 1024 // 1 KiB

	// MaxBlockSize is the largest accepted block size.
	MaxBlockSize = 1024 * 1024 * 1024 // 1 GiB
)

// ValidateBlockSize checks that size is within the accepted range.
func ValidateBlockSize(size int) error {
	if size < MinBlockSize || size > MaxBlockSize {
		return fmt.Errorf("block size %d out of range [%d, %d]", size, MinBlockSize, MaxBlockSize)
	}
	return nil
}

// Splitter partitions a byte stream into blocks of exactly blockSize
// bytes, except the final block which holds the remainder (1 to
// blockSize bytes). A zero-length stream yields zero blocks.
//
// The splitter is a pull-based sequence: call Next repeatedly until
// it returns io.EOF. It reads forward only; restarting requires a new
// Splitter over a fresh reader. The returned slice is reused between
// calls, so at most one block's worth of raw bytes is live at a time.
type Splitter struct {
	r   io.Reader
	buf []byte
	err error
}

// NewSplitter creates a splitter over r with the given block size.
// Panics if blockSize is out of range; callers validate sizes at the
// configuration boundary.
func NewSplitter(r io.Reader, blockSize int) *Splitter {
	if err := ValidateBlockSize(blockSize); err != nil {
		panic("chunk: " + err.Error())
	}
	return &Splitter{r: r, buf: make([]byte, blockSize)}
}

// Next returns the next block of the stream. The returned slice is
// only valid until the following call to Next. After the final block,
// Next returns (nil, io.EOF).
func (s *Splitter) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
		return s.buf, nil
	case errors.Is(err, io.EOF):
		s.err = io.EOF
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Short final block; the next call reports EOF.
		s.err = io.EOF
		return s.buf[:n], nil
	default:
		s.err = err
		return nil, err
	}
}
