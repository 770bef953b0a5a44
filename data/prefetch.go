package data

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Prefetcher wraps a Loader with background workers that pull batches ahead of
// the consumer. The consumer still observes a plain blocking Next; batch order
// within an epoch is not preserved across workers, which is acceptable for
// shuffled training data.
type Prefetcher struct {
	src     Loader
	workers int
	depth   int

	mu     sync.Mutex
	ch     chan *Batch
	eg     *errgroup.Group
	cancel context.CancelFunc
	done   bool
}

// NewPrefetcher creates a Prefetcher with the given worker count and queue
// depth. The pipeline starts on the first Next or Reset.
func NewPrefetcher(src Loader, workers, depth int) *Prefetcher {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = workers
	}
	return &Prefetcher{src: src, workers: workers, depth: depth}
}

func (p *Prefetcher) Len() int { return p.src.Len() }

// Reset stops any in-flight workers, rewinds the source and restarts the
// pipeline for a new epoch.
func (p *Prefetcher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.src.Reset()
	p.startLocked()
}

// Next returns the next prefetched batch, (nil, nil) at end of epoch, or the
// first error any worker hit.
func (p *Prefetcher) Next() (*Batch, error) {
	p.mu.Lock()
	if p.ch == nil {
		p.startLocked()
	}
	ch := p.ch
	p.mu.Unlock()

	batch, ok := <-ch
	if ok {
		return batch, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	if p.eg != nil {
		if err := p.eg.Wait(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (p *Prefetcher) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	ch := make(chan *Batch, p.depth)

	for i := 0; i < p.workers; i++ {
		eg.Go(func() error {
			for {
				batch, err := p.src.Next()
				if err != nil {
					return err
				}
				if batch == nil {
					return nil
				}
				select {
				case ch <- batch:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
	go func() {
		eg.Wait() //nolint:errcheck // surfaced via Next
		close(ch)
	}()

	p.ch = ch
	p.eg = eg
	p.cancel = cancel
	p.done = false
}

func (p *Prefetcher) stopLocked() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.ch != nil && !p.done {
		for range p.ch {
			// drain so workers unblock
		}
	}
	p.ch = nil
	p.eg = nil
	p.cancel = nil
	p.done = false
}
