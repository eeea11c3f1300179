package ingest

import (
	"fmt"
	"sync"
	"time"
)

// Timings tracks timing totals for the pipeline stages. All observers are
// safe for concurrent use; delivery workers share one instance.
type Timings struct {
	mu sync.Mutex

	ValidateTotal time.Duration
	ValidateCount int64

	BatchAssemblyTotal time.Duration
	BatchAssemblyCount int64

	MarshalTotal time.Duration
	MarshalCount int64

	GzipTotal time.Duration
	GzipCount int64

	AuthTotal time.Duration
	AuthCount int64

	HTTPTotal time.Duration
	HTTPCount int64
}

// NewTimings creates a new Timings instance
func NewTimings() *Timings {
	return &Timings{}
}

// ObserveValidate records the duration of one validation unit (a record for
// the rows strategy, a chunk for the columns strategy).
func (t *Timings) ObserveValidate(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ValidateTotal += duration
	t.ValidateCount++
}

// ObserveBatchAssembly records a batch assembly duration
func (t *Timings) ObserveBatchAssembly(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.BatchAssemblyTotal += duration
	t.BatchAssemblyCount++
}

// ObserveMarshal records a JSON marshal duration
func (t *Timings) ObserveMarshal(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.MarshalTotal += duration
	t.MarshalCount++
}

// ObserveGzip records a gzip compression duration
func (t *Timings) ObserveGzip(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.GzipTotal += duration
	t.GzipCount++
}

// ObserveAuth records a token fetch round-trip duration
func (t *Timings) ObserveAuth(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AuthTotal += duration
	t.AuthCount++
}

// ObserveHTTP records a bulk request round-trip duration
func (t *Timings) ObserveHTTP(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.HTTPTotal += duration
	t.HTTPCount++
}

// String returns a formatted summary of all recorded timings
func (t *Timings) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result string

	if t.ValidateCount > 0 {
		avg := t.ValidateTotal / time.Duration(t.ValidateCount)
		result += fmt.Sprintf("Validate: total=%v count=%d avg=%v; ", t.ValidateTotal, t.ValidateCount, avg)
	}
	if t.BatchAssemblyCount > 0 {
		avg := t.BatchAssemblyTotal / time.Duration(t.BatchAssemblyCount)
		result += fmt.Sprintf("Batch assembly: total=%v count=%d avg=%v; ", t.BatchAssemblyTotal, t.BatchAssemblyCount, avg)
	}
	if t.MarshalCount > 0 {
		avg := t.MarshalTotal / time.Duration(t.MarshalCount)
		result += fmt.Sprintf("Marshal: total=%v count=%d avg=%v; ", t.MarshalTotal, t.MarshalCount, avg)
	}
	if t.GzipCount > 0 {
		avg := t.GzipTotal / time.Duration(t.GzipCount)
		result += fmt.Sprintf("Gzip: total=%v count=%d avg=%v; ", t.GzipTotal, t.GzipCount, avg)
	}
	if t.AuthCount > 0 {
		avg := t.AuthTotal / time.Duration(t.AuthCount)
		result += fmt.Sprintf("Auth: total=%v count=%d avg=%v; ", t.AuthTotal, t.AuthCount, avg)
	}
	if t.HTTPCount > 0 {
		avg := t.HTTPTotal / time.Duration(t.HTTPCount)
		result += fmt.Sprintf("HTTP: total=%v count=%d avg=%v; ", t.HTTPTotal, t.HTTPCount, avg)
	}

	if result == "" {
		return "No timings recorded"
	}

	return result[:len(result)-2]
}
