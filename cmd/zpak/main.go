// zpak packs a directory tree into a deduplicated, compressed image
// and unpacks or inspects it again.
//
// Usage:
//
//	zpak create  <dir> <image>    pack a directory into an image
//	zpak extract <image> <dir>    unpack an image into a directory
//	zpak inspect <image>          print image statistics
//	zpak verify  <image>          check every block against its digest
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/meigma/zpak"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "create":
		return runCreate(ctx, args)
	case "extract":
		return runExtract(ctx, args)
	case "inspect":
		return runInspect(args)
	case "verify":
		return runVerify(ctx, args)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  zpak create  [flags] <dir> <image>
  zpak extract [flags] <image> <dir>
  zpak inspect [flags] <image>
  zpak verify  [flags] <image>

run "zpak <command> --help" for command flags`)
}

// commonFlags are shared by all subcommands.
type commonFlags struct {
	configPath string
	verbose    bool
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to YAML config file")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
}

func (c *commonFlags) logger() *slog.Logger {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (c *commonFlags) config() (zpak.Config, error) {
	if c.configPath == "" {
		return zpak.DefaultConfig(), nil
	}
	return zpak.LoadConfig(c.configPath)
}

func runCreate(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	var common commonFlags
	common.add(fs)
	level := fs.Int("level", 0, "zstd compression level (1-22, 0 uses config)")
	blockSize := fs.Int("block-size", 0, "dedup block size in bytes (0 uses config)")
	compression := fs.String("compression", "", "force algorithm: none, lz4 or zstd")
	workers := fs.Int("workers", 0, "concurrent file workers (0 = GOMAXPROCS)")
	noProfiles := fs.Bool("no-profiles", false, "disable per-extension compression profiles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("create needs <dir> and <image> arguments")
	}
	dir, out := fs.Arg(0), fs.Arg(1)

	cfg, err := common.config()
	if err != nil {
		return err
	}
	if *level != 0 {
		cfg.CompressionLevel = *level
	}
	if *blockSize != 0 {
		cfg.BlockSize = *blockSize
	}
	if *compression != "" {
		cfg.Compression = *compression
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := cfg.CreateOptions()
	opts = append(opts, zpak.CreateWithLogger(common.logger()))
	if *workers != 0 {
		opts = append(opts, zpak.CreateWithWorkers(*workers))
	}
	if *noProfiles {
		opts = append(opts, zpak.CreateWithProfileDetection(false))
	}

	stats, err := zpak.CreateFile(ctx, dir, out, opts...)
	if err != nil {
		return err
	}
	printStats(stats)
	return nil
}

func runExtract(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	var common commonFlags
	common.add(fs)
	overwrite := fs.Bool("overwrite", false, "overwrite existing files")
	preserveMode := fs.Bool("preserve-mode", true, "restore permission modes")
	preserveTimes := fs.Bool("preserve-times", true, "restore modification times")
	workers := fs.Int("workers", 0, "concurrent file workers (0 = GOMAXPROCS)")
	noVerify := fs.Bool("no-verify", false, "skip per-block digest verification")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("extract needs <image> and <dir> arguments")
	}
	imagePath, dest := fs.Arg(0), fs.Arg(1)

	img, err := zpak.OpenFile(imagePath,
		zpak.WithVerify(!*noVerify),
		zpak.WithLogger(common.logger()))
	if err != nil {
		return err
	}
	defer img.Close()

	stats, err := img.Extract(ctx, dest,
		zpak.ExtractWithOverwrite(*overwrite),
		zpak.ExtractWithPreserveMode(*preserveMode),
		zpak.ExtractWithPreserveTimes(*preserveTimes),
		zpak.ExtractWithWorkers(*workers),
	)
	if err != nil {
		return err
	}
	fmt.Printf("extracted %d files (%d bytes), %d skipped\n",
		stats.FileCount, stats.TotalBytes, stats.Skipped)
	return nil
}

func runInspect(args []string) error {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("inspect needs an <image> argument")
	}

	stats, err := zpak.InspectFile(fs.Arg(0), zpak.WithLogger(common.logger()))
	if err != nil {
		return err
	}
	printStats(stats)
	return nil
}

func runVerify(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("verify needs an <image> argument")
	}

	img, err := zpak.OpenFile(fs.Arg(0), zpak.WithLogger(common.logger()))
	if err != nil {
		return err
	}
	defer img.Close()

	if err := img.Verify(ctx); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func printStats(s zpak.Stats) {
	fmt.Printf("digest:           %s\n", s.DataDigest)
	fmt.Printf("block size:       %d\n", s.BlockSize)
	fmt.Printf("files:            %d\n", s.FileCount)
	fmt.Printf("directories:      %d\n", s.DirCount)
	fmt.Printf("blocks:           %d unique / %d total (%.1f%% deduplicated)\n",
		s.UniqueBlocks, s.TotalBlocks, 100*s.DedupRatio())
	fmt.Printf("original size:    %d\n", s.TotalSize)
	fmt.Printf("compressed size:  %d (%.1f%%)\n", s.CompressedSize, 100*s.CompressionRatio())
}
