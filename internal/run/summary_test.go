package run

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vojhanzlik/showads-connector/internal/deliver"
)

var errTest = errors.New("boom")

func TestTallyAccumulates(t *testing.T) {
	counts := &tally{}

	counts.recordValid()
	counts.recordValid()
	counts.recordRejected()
	counts.recordResult(deliver.Result{Seq: 1, State: deliver.Succeeded, Attempts: 1})
	counts.recordResult(deliver.Result{Seq: 2, State: deliver.Exhausted, Attempts: 5, Err: errTest})
	counts.recordResult(deliver.Result{Seq: 3, State: deliver.PermanentlyFailed, Attempts: 1, Err: errTest})

	want := Summary{
		RecordsRead: 3, Valid: 2, Rejected: 1,
		BatchesSent: 1, BatchesFailed: 2,
		Attempts: 7, Retries: 4,
	}
	if got := counts.summary(); got != want {
		t.Errorf("summary = %+v, want %+v", got, want)
	}
}

func TestTallyConcurrentUpdates(t *testing.T) {
	counts := &tally{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				counts.recordValid()
				counts.recordRejected()
				counts.recordResult(deliver.Result{State: deliver.Succeeded, Attempts: 2})
			}
		}()
	}
	wg.Wait()

	got := counts.summary()
	if got.RecordsRead != 2000 {
		t.Errorf("RecordsRead = %d, want 2000", got.RecordsRead)
	}
	if got.Valid != 1000 || got.Rejected != 1000 {
		t.Errorf("Valid/Rejected = %d/%d, want 1000/1000", got.Valid, got.Rejected)
	}
	if got.BatchesSent != 1000 {
		t.Errorf("BatchesSent = %d, want 1000", got.BatchesSent)
	}
	if got.Attempts != 2000 || got.Retries != 1000 {
		t.Errorf("Attempts/Retries = %d/%d, want 2000/1000", got.Attempts, got.Retries)
	}
}

func TestSummaryString(t *testing.T) {
	s := Summary{RecordsRead: 10, Valid: 8, Rejected: 2, BatchesSent: 1, Attempts: 3, Retries: 2}
	got := s.String()

	for _, part := range []string{"records=10", "valid=8", "rejected=2", "batches_sent=1", "batches_failed=0", "attempts=3", "retries=2"} {
		if !strings.Contains(got, part) {
			t.Errorf("String() = %q, missing %q", got, part)
		}
	}
}
