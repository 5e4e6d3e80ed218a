package zpak

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/zpak/internal/fsink"
	"github.com/meigma/zpak/internal/imagetype"
	"github.com/meigma/zpak/internal/safepath"
)

// ExtractStats summarizes an extraction.
type ExtractStats struct {
	// FileCount and DirCount are the entries written.
	FileCount int
	DirCount  int

	// TotalBytes is the uncompressed bytes written.
	TotalBytes uint64

	// Skipped counts files left untouched because they already
	// existed and overwriting was disabled.
	Skipped int
}

// extractJob is one file or directory pending extraction.
type extractJob struct {
	path string
	file *imagetype.FileEntry
	dir  *imagetype.DirEntry
}

// Extract writes the full image content to destDir.
//
// Files are written atomically using temp files and renames, and all
// writes are contained within destDir: paths are re-validated against
// the same rules applied at creation, and the filesystem layer
// operates through an os.Root on the destination. Empty directories
// are recreated.
//
// By default existing files are skipped and modes and times are not
// preserved; see the ExtractWith options.
func (img *Image) Extract(ctx context.Context, destDir string, opts ...ExtractOption) (ExtractStats, error) {
	jobs, err := collectJobs(img.root, ".", nil)
	if err != nil {
		return ExtractStats{}, err
	}
	return img.extract(ctx, destDir, jobs, opts...)
}

// ExtractPaths writes selected files or directory subtrees to
// destDir, preserving their full relative paths. Unknown paths are an
// error.
func (img *Image) ExtractPaths(ctx context.Context, destDir string, paths []string, opts ...ExtractOption) (ExtractStats, error) {
	var jobs []extractJob
	for _, p := range paths {
		dir, file, err := img.resolve(p)
		if err != nil {
			return ExtractStats{}, fmt.Errorf("%s: %w", p, err)
		}
		norm := safepath.Normalize(p)
		if file != nil {
			jobs = append(jobs, extractJob{path: norm, file: file})
			continue
		}
		jobs, err = collectJobs(dir, norm, jobs)
		if err != nil {
			return ExtractStats{}, err
		}
	}
	return img.extract(ctx, destDir, jobs, opts...)
}

// collectJobs flattens a subtree into extraction jobs, validating
// every composed path. The tree was validated at open, but the paths
// are about to hit the filesystem, so they are checked again here.
func collectJobs(dir *imagetype.DirEntry, prefix string, jobs []extractJob) ([]extractJob, error) {
	if prefix != "." {
		if err := safepath.CheckRel(prefix); err != nil {
			return nil, err
		}
		jobs = append(jobs, extractJob{path: prefix, dir: dir})
	}
	for _, f := range dir.Files {
		path := joinRel(prefix, f.Name)
		if err := safepath.CheckRel(path); err != nil {
			return nil, err
		}
		jobs = append(jobs, extractJob{path: path, file: f})
	}
	for _, child := range dir.Dirs {
		var err error
		jobs, err = collectJobs(child, joinRel(prefix, child.Name), jobs)
		if err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func joinRel(prefix, name string) string {
	if prefix == "." {
		return name
	}
	return prefix + "/" + name
}

func (img *Image) extract(ctx context.Context, destDir string, jobs []extractJob, opts ...ExtractOption) (ExtractStats, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	sink, err := fsink.Open(destDir,
		fsink.WithOverwrite(cfg.overwrite),
		fsink.WithPreserveMode(cfg.preserveMode),
		fsink.WithPreserveTimes(cfg.preserveTimes),
	)
	if err != nil {
		return ExtractStats{}, err
	}
	defer sink.Close()

	img.log().Info("extracting image", "dest", destDir, "entries", len(jobs))

	// Directories first so that empty ones exist and concurrent file
	// renames never race their parent's creation.
	var stats ExtractStats
	var files []extractJob
	var fileBytes uint64
	for _, job := range jobs {
		if job.dir != nil {
			if err := sink.Mkdir(job.path, job.dir.Mode); err != nil {
				return stats, err
			}
			stats.DirCount++
			continue
		}
		files = append(files, job)
		fileBytes += job.file.Size
	}

	workers := cfg.workers
	switch {
	case workers == 0:
		workers = runtime.GOMAXPROCS(0)
	case workers < 0:
		workers = 1
	}

	var bytesDone atomic.Uint64
	var filesDone atomic.Int64
	var skipped atomic.Int64

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, job := range files {
		eg.Go(func() error {
			if !sink.ShouldProcess(job.path) {
				skipped.Add(1)
				return nil
			}
			if err := img.extractFile(ctx, sink, job); err != nil {
				return fmt.Errorf("%s: %w", job.path, err)
			}
			done := filesDone.Add(1)
			if cfg.progress != nil {
				cfg.progress(ProgressEvent{
					Stage:      StageExtracting,
					Path:       job.path,
					BytesDone:  bytesDone.Add(job.file.Size),
					BytesTotal: fileBytes,
					FilesDone:  int(done),
					FilesTotal: len(files),
				})
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return stats, err
	}

	// Restore directory times last: writing children updates the
	// parent's mtime, so this must come after all file renames.
	if cfg.preserveTimes {
		for i := len(jobs) - 1; i >= 0; i-- {
			if jobs[i].dir == nil {
				continue
			}
			if err := sink.Chtimes(jobs[i].path, jobs[i].dir.ModTime); err != nil {
				return stats, err
			}
		}
	}

	stats.FileCount = int(filesDone.Load())
	stats.TotalBytes = bytesDone.Load()
	stats.Skipped = int(skipped.Load())
	img.log().Info("extraction complete",
		"files", stats.FileCount,
		"bytes", stats.TotalBytes,
		"skipped", stats.Skipped)
	return stats, nil
}

// extractFile streams one file's blocks to the sink.
func (img *Image) extractFile(ctx context.Context, sink *fsink.Sink, job extractJob) error {
	w, err := sink.Writer(job.path, job.file.Mode, job.file.ModTime)
	if err != nil {
		return err
	}

	for _, id := range job.file.Blocks {
		if err := ctx.Err(); err != nil {
			w.Discard()
			return err
		}
		block, err := img.fetchBlock(id)
		if err != nil {
			w.Discard()
			return err
		}
		if _, err := w.Write(block); err != nil {
			w.Discard()
			return err
		}
	}
	return w.Commit()
}

// ExtractFile is a convenience that opens the container at path and
// extracts it to destDir.
func ExtractFile(ctx context.Context, path, destDir string, opts ...ExtractOption) (ExtractStats, error) {
	img, err := OpenFile(path)
	if err != nil {
		return ExtractStats{}, err
	}
	defer img.Close()
	return img.Extract(ctx, destDir, opts...)
}
