package run

import (
	"fmt"
	"sync"

	"github.com/vojhanzlik/showads-connector/internal/deliver"
)

// Summary is the final accounting of one run. RecordsRead counts every data
// row that reached validation, so RecordsRead = Valid + Rejected.
type Summary struct {
	RecordsRead   int64
	Valid         int64
	Rejected      int64
	BatchesSent   int64
	BatchesFailed int64
	Attempts      int64
	Retries       int64
}

func (s Summary) String() string {
	return fmt.Sprintf("records=%d valid=%d rejected=%d batches_sent=%d batches_failed=%d attempts=%d retries=%d",
		s.RecordsRead, s.Valid, s.Rejected, s.BatchesSent, s.BatchesFailed, s.Attempts, s.Retries)
}

// tally accumulates a Summary from the concurrent pipeline drains. The
// rejection drain and the result drain run in separate goroutines, so every
// update goes through the mutex.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func (t *tally) recordValid() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Valid++
	t.s.RecordsRead++
}

func (t *tally) recordRejected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Rejected++
	t.s.RecordsRead++
}

func (t *tally) recordResult(result deliver.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Attempts += int64(result.Attempts)
	t.s.Retries += int64(result.Attempts - 1)
	if result.State == deliver.Succeeded {
		t.s.BatchesSent++
	} else {
		t.s.BatchesFailed++
	}
}

func (t *tally) summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
