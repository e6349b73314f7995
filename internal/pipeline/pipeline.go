// Package pipeline turns a set of image paths into one Outcome per path,
// consulting and populating a shared hash cache along the way.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Hasher decodes raw image bytes and returns their perceptual hash. It must
// be safe for concurrent use.
type Hasher interface {
	Hash(data []byte) ([]byte, error)
}

// Cache is the persistent path → hash store shared by all workers.
type Cache interface {
	Lookup(ctx context.Context, path string) ([]byte, bool, error)
	Store(ctx context.Context, path string, hash []byte) error
}

// Mode selects the scheduling shape.
type Mode string

const (
	// Direct runs lookup, read, decode, hash and store inside each worker.
	Direct Mode = "direct"
	// Split reads files in a single stage and feeds a bounded queue drained
	// by the hashing workers.
	Split Mode = "split"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Direct, Split:
		return m, nil
	default:
		return "", fmt.Errorf("unknown pipeline mode %q (want %q or %q)", s, Direct, Split)
	}
}

// Config holds pipeline concurrency tuning parameters.
type Config struct {
	Mode Mode
	// Threads is the number of hashing workers.
	Threads int
	// TasksPerThread sizes the split-mode queue: at most
	// Threads*TasksPerThread read files wait for a worker.
	TasksPerThread int
	// ReadFile reads a file's bytes; os.ReadFile when nil.
	ReadFile func(path string) ([]byte, error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:           Split,
		Threads:        runtime.NumCPU(),
		TasksPerThread: 16,
	}
}

// Outcome is the result for one path: a hash on success, an error otherwise.
type Outcome struct {
	Path string
	Hash []byte
	Err  error
}

// OK reports whether the path was hashed.
func (o Outcome) OK() bool { return o.Err == nil }

// Pipeline hashes images with a fixed pool of workers.
type Pipeline struct {
	hasher   Hasher
	cache    Cache
	cfg      Config
	progress *Progress
	readFile func(string) ([]byte, error)
}

// New creates a Pipeline. cache may be nil to disable caching; progress may
// be nil when nobody observes it.
func New(hasher Hasher, cache Cache, cfg Config, progress *Progress) *Pipeline {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Threads <= 0 {
		cfg.Threads = def.Threads
	}
	if cfg.TasksPerThread <= 0 {
		cfg.TasksPerThread = def.TasksPerThread
	}
	if progress == nil {
		progress = &Progress{}
	}
	readFile := cfg.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	return &Pipeline{
		hasher:   hasher,
		cache:    cache,
		cfg:      cfg,
		progress: progress,
		readFile: readFile,
	}
}

// Progress returns the live counters of p.
func (p *Pipeline) Progress() *Progress { return p.progress }

// QueueLimit is the split-mode backpressure threshold.
func (p *Pipeline) QueueLimit() int { return p.cfg.Threads * p.cfg.TasksPerThread }

// Run processes every path and returns once all workers have exited. The
// returned channel is closed and holds exactly one Outcome per path unless
// err is non-nil, which only happens when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, paths []string) (<-chan Outcome, error) {
	p.progress.Discovered.Store(int64(len(paths)))
	out := make(chan Outcome, len(paths))

	slog.Info("pipeline started",
		"mode", p.cfg.Mode,
		"threads", p.cfg.Threads,
		"images", len(paths))

	var err error
	switch p.cfg.Mode {
	case Direct:
		err = p.runDirect(ctx, paths, out)
	case Split:
		err = p.runSplit(ctx, paths, out)
	default:
		err = fmt.Errorf("unknown pipeline mode %q", p.cfg.Mode)
	}
	close(out)
	if err != nil {
		return out, fmt.Errorf("pipeline: %w", err)
	}

	slog.Info("pipeline finished",
		"completed", p.progress.Completed.Load(),
		"cache_hits", p.progress.CacheHits.Load(),
		"cache_misses", p.progress.CacheMisses.Load(),
		"failures", p.progress.Failures.Load(),
		"bytes_read", p.progress.BytesRead.Load())
	return out, nil
}

// dispatch counts path as picked up and logs the running percentage.
func (p *Pipeline) dispatch(path string) {
	n := p.progress.Dispatched.Add(1)
	total := p.progress.Discovered.Load()
	slog.Debug("dispatch", "percent", int(float64(n)/float64(total)*100+0.5), "path", path)
}

// cached returns the stored hash for path. A failing lookup degrades to a
// miss so the image is recomputed rather than lost.
func (p *Pipeline) cached(ctx context.Context, path string) ([]byte, bool) {
	if p.cache == nil {
		return nil, false
	}
	hash, ok, err := p.cache.Lookup(ctx, path)
	if err != nil {
		p.progress.CacheErrors.Add(1)
		p.progress.CacheMisses.Add(1)
		slog.Warn("cache lookup failed, recomputing", "path", path, "error", err)
		return nil, false
	}
	if !ok {
		p.progress.CacheMisses.Add(1)
		return nil, false
	}
	p.progress.CacheHits.Add(1)
	slog.Debug("cache hit", "path", path)
	return hash, true
}

func (p *Pipeline) read(path string) ([]byte, error) {
	data, err := p.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	p.progress.BytesRead.Add(int64(len(data)))
	return data, nil
}

// hashAndStore hashes data and records the result in the cache. A failed
// store is logged; the computed hash is still a success.
func (p *Pipeline) hashAndStore(ctx context.Context, path string, data []byte) Outcome {
	hash, err := p.safeHash(data)
	if err != nil {
		return p.fail(path, fmt.Errorf("hash %q: %w", path, err))
	}
	if p.cache != nil {
		if err := p.cache.Store(ctx, path, hash); err != nil {
			p.progress.CacheErrors.Add(1)
			slog.Warn("cache store failed", "path", path, "error", err)
		}
	}
	return p.succeed(path, hash)
}

// safeHash converts a hasher panic into an error so one hostile file cannot
// take down a worker.
func (p *Pipeline) safeHash(data []byte) (hash []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			hash, err = nil, fmt.Errorf("hasher panic: %v", r)
		}
	}()
	return p.hasher.Hash(data)
}

// process runs the full per-item sequence for one path.
func (p *Pipeline) process(ctx context.Context, path string) Outcome {
	if hash, ok := p.cached(ctx, path); ok {
		return p.succeed(path, hash)
	}
	data, err := p.read(path)
	if err != nil {
		return p.fail(path, err)
	}
	return p.hashAndStore(ctx, path, data)
}

func (p *Pipeline) succeed(path string, hash []byte) Outcome {
	p.progress.Completed.Add(1)
	return Outcome{Path: path, Hash: hash}
}

func (p *Pipeline) fail(path string, err error) Outcome {
	p.progress.Completed.Add(1)
	p.progress.Failures.Add(1)
	slog.Warn("image failed", "path", path, "error", err)
	return Outcome{Path: path, Err: err}
}
