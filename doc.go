// Package zpak captures a directory tree into a single container
// file with content-addressed, block-level deduplication.
//
// File content is split into fixed-size blocks, each block is hashed
// with BLAKE3, and each distinct block's compressed payload is stored
// exactly once. Per-file metadata records an ordered list of block
// references, so any stored file can be reconstructed, or read
// directly through the fs.FS interface, without decompressing the
// whole archive.
//
// Create builds a container from a directory; Image reads one back:
//
//	stats, err := zpak.CreateFile(ctx, "./site", "site.zpak")
//	...
//	img, err := zpak.OpenFile("site.zpak")
//	defer img.Close()
//	_, err = img.Extract(ctx, "./restored")
//
// Containers are immutable once written. Block digests are trusted as
// content identity: digest collisions are not detected by raw byte
// comparison, an accepted property of the format.
package zpak
