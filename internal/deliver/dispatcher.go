package deliver

import (
	"context"
	"sync"

	"github.com/vojhanzlik/showads-connector/internal/ingest"
	"github.com/vojhanzlik/showads-connector/internal/logging"
)

// Dispatcher fans batches out to a fixed pool of delivery workers.
type Dispatcher struct {
	retrier *Retrier
	workers int
	log     logging.Logger
}

// NewDispatcher builds a dispatcher with the given worker count.
// Counts below one fall back to sequential delivery.
func NewDispatcher(retrier *Retrier, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		retrier: retrier,
		workers: workers,
		log:     *logging.Named("dispatcher"),
	}
}

// Dispatch consumes batches until the channel closes and emits one Result
// per batch. The results channel closes once the last worker finishes.
// Each batch fails or succeeds on its own: a permanently failing batch does
// not stop the others, and a worker sleeping through a backoff delays only
// the batch it is holding.
func (d *Dispatcher) Dispatch(ctx context.Context, batches <-chan ingest.Batch) <-chan Result {
	results := make(chan Result, d.workers)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				select {
				case <-ctx.Done():
					return
				default:
				}

				result := d.retrier.Deliver(ctx, batch)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	d.log.Debug().Int("workers", d.workers).Msg("dispatcher started")
	return results
}
