package zpak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/zpak/internal/blockstore"
	"github.com/meigma/zpak/internal/chunk"
	"github.com/meigma/zpak/internal/container"
	"github.com/meigma/zpak/internal/imagetype"
	"github.com/meigma/zpak/internal/safepath"
	"github.com/meigma/zpak/internal/zcodec"
)

// Create builds an image from the contents of dir and writes the
// container to ws.
//
// Directory content is split into fixed-size blocks; each distinct
// block is compressed and stored once, however many files reference
// it. Empty directories are preserved. Symbolic links are not
// followed.
//
// Files are processed by a worker pool, but the resulting container
// is deterministic: block ids are canonicalized to first-reference
// order over the path-sorted tree before writing, so any worker count
// produces identical bytes.
//
// The context can be used for cancellation of long-running builds.
func Create(ctx context.Context, dir string, ws io.WriteSeeker, opts ...CreateOption) (Stats, error) {
	return CreateFromScanner(ctx, NewDirScanner(dir), ws, opts...)
}

// CreateFile builds an image from dir and writes it to outPath. The
// container is written to a temp file in the destination directory
// and renamed into place, so a failed build never leaves a partial
// container at outPath.
func CreateFile(ctx context.Context, dir, outPath string, opts ...CreateOption) (Stats, error) {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".zpak-")
	if err != nil {
		return Stats{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	stats, err := CreateFromScanner(ctx, NewDirScanner(dir), tmp, opts...)
	if err != nil {
		return Stats{}, err
	}
	if err := tmp.Close(); err != nil {
		return Stats{}, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return Stats{}, fmt.Errorf("renaming to destination: %w", err)
	}
	success = true
	return stats, nil
}

// CreateFromScanner builds an image from any Scanner. The scanner
// must yield parents before children and a deterministic order if
// deterministic output is required.
func CreateFromScanner(ctx context.Context, scanner Scanner, ws io.WriteSeeker, opts ...CreateOption) (Stats, error) {
	cfg := createConfig{
		blockSize: DefaultBlockSize,
		level:     DefaultLevel,
		profiles:  true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := chunk.ValidateBlockSize(cfg.blockSize); err != nil {
		return Stats{}, fmt.Errorf("zpak: %w", err)
	}
	if err := zcodec.ValidateLevel(cfg.level); err != nil {
		return Stats{}, fmt.Errorf("zpak: %w", err)
	}

	b := newBuilder(cfg)
	b.log().Info("creating image",
		"block_size", cfg.blockSize,
		"level", cfg.level,
		"profiles", cfg.profiles)

	b.reportProgress(StageScanning, "", 0, 0, 0, 0)
	if err := scanner.Scan(ctx, b.add); err != nil {
		return Stats{}, err
	}
	b.log().Debug("scan complete", "files", len(b.jobs), "bytes", b.scanBytes)

	if err := b.processFiles(ctx); err != nil {
		return Stats{}, err
	}

	records, buildStats := b.canonicalize()
	b.reportProgress(StageWriting, "", 0, 0, len(b.jobs), len(b.jobs))

	hdr, err := container.Write(ws, records, b.root, uint32(cfg.blockSize), buildStats)
	if err != nil {
		return Stats{}, err
	}

	stats := statsFromHeader(hdr)
	b.log().Info("image created",
		"files", stats.FileCount,
		"unique_blocks", stats.UniqueBlocks,
		"total_size", stats.TotalSize,
		"compressed_size", stats.CompressedSize)
	return stats, nil
}

// fileJob is one file awaiting the split/hash/store pipeline.
type fileJob struct {
	path  string
	entry *imagetype.FileEntry
	open  func() (io.ReadCloser, error)
	tag   zcodec.Tag
	level int
}

// builder accumulates the metadata tree and block store during
// creation. The scan phase is sequential; the dedup phase mutates
// only per-job file entries and the internally synchronized store.
type builder struct {
	cfg       createConfig
	store     *blockstore.Store
	root      *imagetype.DirEntry
	dirs      map[string]*imagetype.DirEntry
	jobs      []fileJob
	scanBytes uint64

	bytesDone atomic.Uint64
	filesDone atomic.Int64
}

func newBuilder(cfg createConfig) *builder {
	root := &imagetype.DirEntry{Mode: 0o755}
	return &builder{
		cfg:   cfg,
		store: blockstore.New(),
		root:  root,
		dirs:  map[string]*imagetype.DirEntry{".": root},
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (b *builder) log() *slog.Logger {
	if b.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.cfg.logger
}

// reportProgress sends a progress event if a callback is configured.
func (b *builder) reportProgress(stage ProgressStage, path string, bytesDone, bytesTotal uint64, filesDone, filesTotal int) {
	if b.cfg.progress == nil {
		return
	}
	b.cfg.progress(ProgressEvent{
		Stage:      stage,
		Path:       path,
		BytesDone:  bytesDone,
		BytesTotal: bytesTotal,
		FilesDone:  filesDone,
		FilesTotal: filesTotal,
	})
}

// add records one scanned entry in the metadata tree. Paths are
// sanitized here: this is the single point of defense the extractor
// later relies on, so rejection is a hard error rather than a skip.
func (b *builder) add(e ScanEntry) error {
	path := safepath.Normalize(e.Path)
	if path == "." {
		if e.Info != nil {
			b.root.Mode = e.Info.Mode().Perm()
			b.root.ModTime = e.Info.ModTime()
		}
		return nil
	}
	if err := safepath.CheckRel(path); err != nil {
		return err
	}

	parent := b.parentDir(path)
	name := path[strings.LastIndexByte(path, '/')+1:]

	if e.IsDir {
		dir := &imagetype.DirEntry{
			Name:    name,
			Mode:    e.Info.Mode().Perm(),
			ModTime: e.Info.ModTime(),
		}
		parent.Dirs = append(parent.Dirs, dir)
		b.dirs[path] = dir
		return nil
	}

	maxFiles := b.cfg.maxFiles
	if maxFiles == 0 {
		maxFiles = DefaultMaxFiles
	}
	if maxFiles > 0 && len(b.jobs) >= maxFiles {
		return fmt.Errorf("%w: limit is %d", ErrTooManyFiles, maxFiles)
	}

	entry := &imagetype.FileEntry{
		Name:    name,
		Mode:    e.Info.Mode().Perm(),
		ModTime: e.Info.ModTime(),
	}
	parent.Files = append(parent.Files, entry)

	tag, level := b.fileCodec(path)
	b.jobs = append(b.jobs, fileJob{
		path:  path,
		entry: entry,
		open:  e.Open,
		tag:   tag,
		level: level,
	})
	if size := e.Info.Size(); size > 0 {
		b.scanBytes += uint64(size)
	}
	return nil
}

// parentDir resolves the parent directory node for path, creating
// intermediate nodes for scanners that skip them.
func (b *builder) parentDir(path string) *imagetype.DirEntry {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return b.root
	}
	parentPath := path[:i]
	if dir, ok := b.dirs[parentPath]; ok {
		return dir
	}
	parent := b.parentDir(parentPath)
	dir := &imagetype.DirEntry{
		Name: parentPath[strings.LastIndexByte(parentPath, '/')+1:],
		Mode: 0o755,
	}
	parent.Dirs = append(parent.Dirs, dir)
	b.dirs[parentPath] = dir
	return dir
}

// fileCodec picks the compression tag and level for one file.
func (b *builder) fileCodec(path string) (zcodec.Tag, int) {
	if b.cfg.compressionSet {
		return b.cfg.compression, b.cfg.level
	}
	tag, level := zcodec.TagZstd, b.cfg.level
	if b.cfg.profiles {
		profile := DetectProfile(path)
		tag = profile.Compression()
		if !b.cfg.levelSet {
			level = profile.Level()
		}
	}
	return tag, level
}

// processFiles runs the split/hash/store pipeline over all file jobs
// with a bounded worker pool.
func (b *builder) processFiles(ctx context.Context) error {
	workers := b.cfg.workers
	switch {
	case workers == 0:
		workers = runtime.GOMAXPROCS(0)
	case workers < 0:
		workers = 1
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range b.jobs {
		job := &b.jobs[i]
		eg.Go(func() error {
			if err := b.processFile(ctx, job); err != nil {
				return fmt.Errorf("%s: %w", job.path, err)
			}
			done := b.filesDone.Add(1)
			b.reportProgress(StageDeduplicating, job.path, b.bytesDone.Load(), b.scanBytes, int(done), len(b.jobs))
			return nil
		})
	}
	return eg.Wait()
}

// processFile splits one file into blocks and pushes each through the
// hasher and the dedup store, accumulating the file's reference list.
// Only one block's worth of raw bytes is live at a time.
func (b *builder) processFile(ctx context.Context, job *fileJob) error {
	rc, err := job.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	splitter := chunk.NewSplitter(rc, b.cfg.blockSize)
	var size uint64
	var blocks []imagetype.BlockID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		block, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		id, _, err := b.store.InsertOrGet(chunk.Sum(block), block, job.tag, job.level)
		if err != nil {
			return err
		}
		blocks = append(blocks, id)
		size += uint64(len(block))
		b.bytesDone.Add(uint64(len(block)))
	}

	job.entry.Size = size
	job.entry.Blocks = blocks
	return nil
}

// canonicalize renumbers block ids to first-reference order over a
// preorder traversal of the tree (files before subdirectories, each
// sorted by scan order). Insertion order under concurrency depends on
// scheduling; the canonical order does not, so a single-threaded run
// produces an identical container.
func (b *builder) canonicalize() ([]blockstore.Record, container.BuildStats) {
	records := b.store.Records()
	remap := make([]int64, len(records))
	for i := range remap {
		remap[i] = -1
	}
	final := make([]blockstore.Record, 0, len(records))

	var stats container.BuildStats
	var walk func(d *imagetype.DirEntry)
	walk = func(d *imagetype.DirEntry) {
		for _, f := range d.Files {
			stats.FileCount++
			stats.TotalSize += f.Size
			stats.TotalBlocks += uint64(len(f.Blocks))
			for i, old := range f.Blocks {
				if remap[old] < 0 {
					remap[old] = int64(len(final))
					final = append(final, records[old])
				}
				f.Blocks[i] = imagetype.BlockID(remap[old])
			}
		}
		for _, child := range d.Dirs {
			stats.DirCount++
			walk(child)
		}
	}
	walk(b.root)
	return final, stats
}
