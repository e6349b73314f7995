package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/eargollo/dif/internal/cache"
	"github.com/eargollo/dif/internal/config"
	"github.com/eargollo/dif/internal/dedup"
	"github.com/eargollo/dif/internal/ignore"
	"github.com/eargollo/dif/internal/media"
	"github.com/eargollo/dif/internal/phash"
	"github.com/eargollo/dif/internal/pipeline"
	"github.com/eargollo/dif/internal/report"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

type options struct {
	configPath string
	cachePath  string
	logLevel   string

	inputPath      string
	outputPath     string
	threads        int
	tasksPerThread int
	pipeline       string
	algorithm      string
	noProgress     bool
}

func main() {
	// ── Logging (initial — overridden once config is loaded) ───────────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("dif failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:   "dif -i <input dir> -o <output dir>",
		Short: "Find duplicate images by perceptual hash",
		Long: fmt.Sprintf(`dif walks a directory tree, computes a perceptual hash for every image
(%s) and reports images whose hashes are equal.
Duplicates are symlinked under <output>/dup, undecodable files under <output>/err.
Hashes are cached so later runs only decode new files.`, strings.Join(media.Extensions(), ", ")),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, &opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/dif.toml)")
	pf.StringVar(&opts.cachePath, "cache", "", "hash cache database (default per algorithm under the user cache dir)")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&opts.algorithm, "algorithm", "", "hash algorithm: "+algorithmNames()+" (selects the default cache)")

	f := root.Flags()
	f.StringVarP(&opts.inputPath, "input-path", "i", "", "root directory to search")
	f.StringVarP(&opts.outputPath, "output-path", "o", "", "directory receiving the dup/ and err/ symlinks")
	f.IntVarP(&opts.threads, "threads", "t", 0, "hashing workers (default: number of CPUs)")
	f.IntVar(&opts.tasksPerThread, "tasks-per-thread", 0, "read-ahead queue slots per worker in split mode")
	f.StringVar(&opts.pipeline, "pipeline", "", "scheduling shape: split or direct")
	f.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	root.MarkFlagRequired("input-path")
	root.MarkFlagRequired("output-path")

	root.AddCommand(newGCCmd(&opts))
	return root
}

func newGCCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove cached hashes of files that no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if _, err := phash.New(phash.Algorithm(cfg.Algorithm)); err != nil {
				return err
			}
			c, err := cache.Open(cfg.CachePath)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.CollectGarbage(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d cached paths, removed %d, failed %d\n",
				stats.Checked, stats.Removed, stats.Failed)
			return nil
		},
	}
}

// loadConfig reads the config file, applies flag overrides and reconfigures
// logging.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("threads") {
		cfg.Threads = opts.threads
	}
	if flags.Changed("tasks-per-thread") {
		cfg.TasksPerThread = opts.tasksPerThread
	}
	if flags.Changed("pipeline") {
		cfg.Pipeline = opts.pipeline
	}
	if flags.Changed("algorithm") && opts.algorithm != cfg.Algorithm {
		// Hashes of different algorithms never share the default store.
		if cfg.CachePath == config.DefaultCachePath(cfg.Algorithm) {
			cfg.CachePath = config.DefaultCachePath(opts.algorithm)
		}
		cfg.Algorithm = opts.algorithm
	}
	if opts.cachePath != "" {
		cfg.CachePath = opts.cachePath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	cfg.ApplyDefaults()

	// Re-configure logging with the level from config (default: info).
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Debug("config loaded", "path", path, "cache_path", cfg.CachePath,
		"threads", cfg.Threads, "pipeline", cfg.Pipeline, "algorithm", cfg.Algorithm)
	return cfg, nil
}

func runScan(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	// ── Startup validation: any failure here aborts before hashing ─────────
	root, err := filepath.Abs(opts.inputPath)
	if err != nil {
		return fmt.Errorf("resolve input path: %w", err)
	}
	outDir, err := filepath.Abs(opts.outputPath)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}
	matcher, err := ignore.New(cfg.Ignore.AbsPath, cfg.Ignore.Regex)
	if err != nil {
		return err
	}
	mode, err := pipeline.ParseMode(cfg.Pipeline)
	if err != nil {
		return err
	}
	hasher, err := phash.New(phash.Algorithm(cfg.Algorithm))
	if err != nil {
		return err
	}
	c, err := cache.Open(cfg.CachePath)
	if err != nil {
		return err
	}
	defer c.Close()
	slog.Info("dif starting", "root", root, "output", outDir,
		"algorithm", hasher.Algorithm(), "cache", cfg.CachePath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := &pipeline.Progress{}
	if !opts.noProgress && isatty.IsTerminal(os.Stderr.Fd()) {
		stopBar := showProgress(ctx, progress)
		defer stopBar()
	}

	start := time.Now()
	res, err := dedup.Run(ctx, dedup.Options{
		Root:   root,
		Ignore: matcher,
		Hasher: hasher,
		Cache:  c,
		Pipeline: pipeline.Config{
			Mode:           mode,
			Threads:        cfg.Threads,
			TasksPerThread: cfg.TasksPerThread,
		},
		Progress: progress,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := report.New(out, outDir)
	fmt.Fprintln(out)
	if err := w.WriteErrors(res.Errors); err != nil {
		return err
	}
	if err := w.WriteDuplicates(res.Groups); err != nil {
		return err
	}
	w.Summary(res, time.Since(start))
	return nil
}

// showProgress renders progress as a bar on stderr until the returned
// function is called.
func showProgress(ctx context.Context, p *pipeline.Progress) func() {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("hashing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
	stop := pipeline.Report(ctx, p, 200*time.Millisecond, func(p *pipeline.Progress) {
		total := p.Discovered.Load()
		if total == 0 {
			return
		}
		if bar.GetMax64() != total {
			bar.ChangeMax64(total)
		}
		bar.Set64(p.Completed.Load())
	})
	return func() {
		stop()
		bar.Finish()
	}
}

func algorithmNames() string {
	names := make([]string, 0, len(phash.Algorithms()))
	for _, a := range phash.Algorithms() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
