package run

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/vojhanzlik/showads-connector/internal/deliver"
	"github.com/vojhanzlik/showads-connector/internal/ingest"
	"github.com/vojhanzlik/showads-connector/internal/logging"
)

// Report writes rejected rows and failed batches as JSON lines. A Report
// built from an empty path swallows everything, so callers never have to
// guard their writes.
type Report struct {
	log logging.Logger

	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
}

// NewReport opens the report file for appending. An empty path yields a
// disabled report.
func NewReport(path string) (*Report, error) {
	r := &Report{log: *logging.Named("report")}
	if path == "" {
		return r, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open report file: %w", err)
	}
	r.file = file
	r.writer = bufio.NewWriter(file)
	r.encoder = json.NewEncoder(r.writer)
	return r, nil
}

// Rejection writes one rejected-row line.
func (r *Report) Rejection(rejection ingest.Rejection) {
	r.write(rejection)
}

// BatchFailure writes one failed-batch line.
func (r *Report) BatchFailure(result deliver.Result) {
	line := map[string]interface{}{
		"batch":    result.Seq,
		"state":    result.State.String(),
		"attempts": result.Attempts,
	}
	if result.Code != 0 {
		line["code"] = result.Code
	}
	if result.Err != nil {
		line["error"] = result.Err.Error()
	}
	r.write(line)
}

func (r *Report) write(line interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return
	}
	if err := r.encoder.Encode(line); err != nil {
		// A broken report must not fail the run.
		r.log.Error().Err(err).Msg("failed to write report line")
	}
}

// Close flushes and closes the report file. Safe to call more than once.
func (r *Report) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}

	flushErr := r.writer.Flush()
	closeErr := r.file.Close()
	r.file = nil
	r.writer = nil
	r.encoder = nil

	if flushErr != nil {
		return fmt.Errorf("failed to flush report: %w", flushErr)
	}
	return closeErr
}
