package zpak

import (
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/meigma/zpak/internal/imagetype"
)

// Image implements fs.FS over the metadata tree, decompressing blocks
// on demand as files are read.
var (
	_ fs.FS         = (*Image)(nil)
	_ fs.StatFS     = (*Image)(nil)
	_ fs.ReadFileFS = (*Image)(nil)
	_ fs.ReadDirFS  = (*Image)(nil)
)

// Open opens the named file or directory within the image.
func (img *Image) Open(name string) (fs.File, error) {
	dir, file, err := img.lookup("open", name)
	if err != nil {
		return nil, err
	}
	if file != nil {
		return &imageFile{img: img, entry: file}, nil
	}
	return &imageDir{entries: img.dirEntries(dir), info: dirInfo(dir)}, nil
}

// Stat returns file information for the named file or directory.
func (img *Image) Stat(name string) (fs.FileInfo, error) {
	dir, file, err := img.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	if file != nil {
		return fileInfo(file), nil
	}
	return dirInfo(dir), nil
}

// ReadFile returns the full content of the named file.
func (img *Image) ReadFile(name string) ([]byte, error) {
	_, file, err := img.lookup("readfile", name)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: errIsDirectory}
	}

	data := make([]byte, 0, file.Size)
	for _, id := range file.Blocks {
		block, err := img.fetchBlock(id)
		if err != nil {
			return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
		}
		data = append(data, block...)
	}
	return data, nil
}

// ReadDir returns the sorted entries of the named directory.
func (img *Image) ReadDir(name string) ([]fs.DirEntry, error) {
	dir, file, err := img.lookup("readdir", name)
	if err != nil {
		return nil, err
	}
	if file != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errNotDirectory}
	}
	return img.dirEntries(dir), nil
}

func (img *Image) lookup(op, name string) (*imagetype.DirEntry, *imagetype.FileEntry, error) {
	if !fs.ValidPath(name) {
		return nil, nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	dir, file, err := img.resolve(name)
	if err != nil {
		return nil, nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	return dir, file, nil
}

func (img *Image) dirEntries(dir *imagetype.DirEntry) []fs.DirEntry {
	entries := make([]fs.DirEntry, 0, len(dir.Dirs)+len(dir.Files))
	for _, d := range dir.Dirs {
		entries = append(entries, fs.FileInfoToDirEntry(dirInfo(d)))
	}
	for _, f := range dir.Files {
		entries = append(entries, fs.FileInfoToDirEntry(fileInfo(f)))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries
}

// entryInfo adapts tree entries to fs.FileInfo.
type entryInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func fileInfo(f *imagetype.FileEntry) entryInfo {
	return entryInfo{name: f.Name, size: int64(f.Size), mode: f.Mode, modTime: f.ModTime}
}

func dirInfo(d *imagetype.DirEntry) entryInfo {
	name := d.Name
	if name == "" {
		name = "."
	}
	return entryInfo{name: name, mode: d.Mode | fs.ModeDir, modTime: d.ModTime}
}

func (i entryInfo) Name() string       { return i.name }
func (i entryInfo) Size() int64        { return i.size }
func (i entryInfo) Mode() fs.FileMode  { return i.mode }
func (i entryInfo) ModTime() time.Time { return i.modTime }
func (i entryInfo) IsDir() bool        { return i.mode.IsDir() }
func (i entryInfo) Sys() any           { return nil }

// imageFile streams a file's content block by block. At most one
// decompressed block is buffered at a time.
type imageFile struct {
	img   *Image
	entry *imagetype.FileEntry

	next int    // next block index to fetch
	buf  []byte // unread tail of the current block
}

func (f *imageFile) Stat() (fs.FileInfo, error) {
	return fileInfo(f.entry), nil
}

func (f *imageFile) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		if f.next >= len(f.entry.Blocks) {
			return 0, io.EOF
		}
		block, err := f.img.fetchBlock(f.entry.Blocks[f.next])
		if err != nil {
			return 0, err
		}
		f.next++
		f.buf = block
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

func (f *imageFile) Close() error {
	f.buf = nil
	f.next = len(f.entry.Blocks)
	return nil
}

// imageDir is an open directory handle supporting ReadDir paging.
type imageDir struct {
	entries []fs.DirEntry
	info    entryInfo
	offset  int
}

func (d *imageDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *imageDir) Close() error               { return nil }

func (d *imageDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: errIsDirectory}
}

func (d *imageDir) ReadDir(n int) ([]fs.DirEntry, error) {
	remaining := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return remaining, nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	if n > len(remaining) {
		n = len(remaining)
	}
	d.offset += n
	return remaining[:n], nil
}
