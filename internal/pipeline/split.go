package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// job is a file read by the reader stage, waiting to be hashed.
type job struct {
	path string
	data []byte
}

// runSplit runs one reader goroutine feeding a bounded queue drained by
// Threads hashing workers. The queue capacity is QueueLimit, so the reader
// blocks on send once that many files are buffered; peak memory is bounded
// by the queue rather than by the number of images.
//
// Cache hits and read failures are resolved by the reader and never enter
// the queue.
func (p *Pipeline) runSplit(ctx context.Context, paths []string, out chan<- Outcome) error {
	jobs := make(chan job, p.QueueLimit())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.dispatch(path)

			if hash, ok := p.cached(ctx, path); ok {
				out <- p.succeed(path, hash)
				continue
			}
			data, err := p.read(path)
			if err != nil {
				out <- p.fail(path, err)
				continue
			}

			select {
			case jobs <- job{path: path, data: data}:
				p.progress.observeQueue(len(jobs))
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < p.cfg.Threads; i++ {
		g.Go(func() error {
			for j := range jobs {
				out <- p.hashAndStore(ctx, j.path, j.data)
			}
			return nil
		})
	}

	return g.Wait()
}
