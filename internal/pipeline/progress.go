package pipeline

import (
	"context"
	"sync/atomic"
	"time"
)

// Progress holds live counters updated by the pipeline stages. All fields
// are atomic so they can be written from worker goroutines and read by a
// reporter without locks. Counters are for observability only.
type Progress struct {
	Discovered  atomic.Int64 // paths handed to Run
	Dispatched  atomic.Int64 // paths picked up for processing
	Completed   atomic.Int64 // outcomes emitted
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
	CacheErrors atomic.Int64 // failed lookups (treated as misses) and failed stores
	Failures    atomic.Int64
	BytesRead   atomic.Int64
	// QueueHighWater is the longest the read→hash queue ever got (split
	// mode only).
	QueueHighWater atomic.Int64
}

// Percent returns dispatched/discovered as a percentage in [0, 100].
func (p *Progress) Percent() float64 {
	total := p.Discovered.Load()
	if total == 0 {
		return 100
	}
	return float64(p.Dispatched.Load()) / float64(total) * 100
}

func (p *Progress) observeQueue(n int) {
	v := int64(n)
	for {
		cur := p.QueueHighWater.Load()
		if v <= cur || p.QueueHighWater.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Report calls fn with p every interval until the returned stop function is
// called or ctx is done. stop performs one final call before returning.
func Report(ctx context.Context, p *Progress, interval time.Duration, fn func(*Progress)) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(p)
			case <-done:
				fn(p) // final flush
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}
