package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed set of workers concurrently.
type Pool struct {
	workers []*Worker
}

// NewPool builds a pool of size identical workers sharing the same
// capability->executor map.
func NewPool(queue Queue, executors map[string]Executor, size int) *Pool {
	if size <= 0 {
		size = 4
	}
	p := &Pool{}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, New(queue, executors))
	}
	return p
}

// Add appends an individually configured worker, e.g. one with a narrower
// capability set.
func (p *Pool) Add(w *Worker) {
	p.workers = append(p.workers, w)
}

// Run starts every worker and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
