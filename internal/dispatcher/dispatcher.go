// Package dispatcher manages runner fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/metascrape/internal/runner"
	"github.com/JakeFAU/metascrape/internal/scraper"
)

// Dispatcher fans out queue work to a pool of runners.
type Dispatcher struct {
	queue   scraper.Queue
	runners []*runner.Runner
}

// New creates a Dispatcher.
func New(queue scraper.Queue, runners []*runner.Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		runners: runners,
	}
}

// Run starts all runners and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(rn *runner.Runner) {
			defer wg.Done()
			rn.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item scraper.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
