package ingest

import (
	"github.com/vojhanzlik/showads-connector/internal/rules"
)

// RawRecord is one parsed CSV line before validation. Row is the 1-based
// data row number; the header does not count. Err is set when the line could
// not be parsed into cells (wrong column count, broken quoting).
type RawRecord struct {
	Row   int64
	Cells []string
	Err   error
}

// Record is a validated record. Values holds the coerced value for every
// field that passed its rule; optional fields that were empty are absent.
type Record struct {
	Row    int64
	Values map[string]any
}

// Rejection carries every violation found on one row, not just the first.
type Rejection struct {
	Row        int64             `json:"row"`
	Violations []rules.Violation `json:"violations"`
}

// Batch is an order-preserving slice of valid records, never empty, capped
// at the configured batch size. Seq numbers batches from 1 in emit order.
type Batch struct {
	Seq     int64
	Records []Record
}
