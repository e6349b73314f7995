// Package dedup wires the scanner, the hashing pipeline and the aggregator
// into one run over a directory tree.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eargollo/dif/internal/aggregate"
	"github.com/eargollo/dif/internal/pipeline"
	"github.com/eargollo/dif/internal/scan"
)

// ErrIncomplete is returned when the aggregator saw fewer or more outcomes
// than paths were discovered.
var ErrIncomplete = errors.New("outcome count does not match discovered images")

// Options configures a run.
type Options struct {
	Root     string
	Ignore   scan.Matcher
	Hasher   pipeline.Hasher
	Cache    pipeline.Cache
	Pipeline pipeline.Config
	// Progress receives live counters; may be nil.
	Progress *pipeline.Progress
}

// Run scans opts.Root, hashes every image found and groups duplicates.
// Scan errors and cancellation abort the run; per-image failures end up in
// Result.Errors.
func Run(ctx context.Context, opts Options) (aggregate.Result, error) {
	start := time.Now()
	slog.Info("scan started", "root", opts.Root)

	paths, err := scan.New(opts.Ignore).Scan(ctx, opts.Root)
	if err != nil {
		return aggregate.Result{}, fmt.Errorf("scan %q: %w", opts.Root, err)
	}
	slog.Info("scan finished", "images", len(paths), "elapsed", time.Since(start).Round(time.Millisecond))

	p := pipeline.New(opts.Hasher, opts.Cache, opts.Pipeline, opts.Progress)
	outcomes, err := p.Run(ctx, paths)
	if err != nil {
		return aggregate.Result{}, err
	}

	res := aggregate.Aggregate(outcomes)
	if res.Processed != len(paths) {
		return res, fmt.Errorf("%w: %d outcomes for %d images", ErrIncomplete, res.Processed, len(paths))
	}

	slog.Info("run finished",
		"images", len(paths),
		"groups", len(res.Groups),
		"duplicates", res.DuplicateFiles(),
		"errors", len(res.Errors),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}
