package ingest

import (
	"context"
	"fmt"
	"time"
)

// batchBuffer keeps at most two assembled batches in flight so batching
// backpressures validation when delivery is slow.
const batchBuffer = 2

// Batcher groups valid records into order-preserving batches.
type Batcher struct {
	size    int
	timings *Timings
}

// NewBatcher creates a batcher. size must be positive; config validation
// catches this earlier, the check here keeps the type safe on its own.
func NewBatcher(size int, timings *Timings) (*Batcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	return &Batcher{size: size, timings: timings}, nil
}

// Batches groups the input stream into batches of at most size records,
// flushing the (possibly short) final batch at end of input. No batch is
// empty and record order is preserved across batch boundaries.
func (b *Batcher) Batches(ctx context.Context, in <-chan Record) <-chan Batch {
	out := make(chan Batch, batchBuffer)

	go func() {
		defer close(out)

		var seq int64
		cur := make([]Record, 0, b.size)

		emit := func() bool {
			start := time.Now()
			seq++
			batch := Batch{Seq: seq, Records: cur}
			cur = make([]Record, 0, b.size)
			if b.timings != nil {
				b.timings.ObserveBatchAssembly(time.Since(start))
			}
			select {
			case out <- batch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for rec := range in {
			cur = append(cur, rec)
			if len(cur) >= b.size {
				if !emit() {
					return
				}
			}
		}
		if len(cur) > 0 {
			emit()
		}
	}()

	return out
}
