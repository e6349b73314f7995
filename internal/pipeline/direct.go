package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runDirect loads every path into a closed queue, then lets Threads workers
// drain it. Each worker performs the whole per-item sequence itself.
func (p *Pipeline) runDirect(ctx context.Context, paths []string, out chan<- Outcome) error {
	queue := make(chan string, len(paths))
	for _, path := range paths {
		queue <- path
	}
	close(queue)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Threads; i++ {
		g.Go(func() error {
			for path := range queue {
				if err := ctx.Err(); err != nil {
					return err
				}
				p.dispatch(path)
				out <- p.process(ctx, path)
			}
			return nil
		})
	}
	return g.Wait()
}
