// Package dispatcher fans a queue consumer out over several goroutines.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

// Dispatcher runs Concurrency consume loops against one consumer.
type Dispatcher struct {
	consumer    queue.Consumer
	handler     queue.Handler
	concurrency int
}

// New creates a Dispatcher. Concurrency below one runs a single loop.
func New(consumer queue.Consumer, handler queue.Handler, concurrency int) *Dispatcher {
	return &Dispatcher{
		consumer:    consumer,
		handler:     handler,
		concurrency: max(concurrency, 1),
	}
}

// Run starts every loop and blocks until ctx finishes or a loop fails. A failing loop cancels the
// others.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range d.concurrency {
		g.Go(func() error {
			if err := d.consumer.Consume(gctx, d.handler); err != nil {
				return fmt.Errorf("consumer %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
