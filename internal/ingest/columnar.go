package ingest

import (
	"context"
	"time"

	"github.com/vojhanzlik/showads-connector/internal/logging"
	"github.com/vojhanzlik/showads-connector/internal/rules"
)

// ColumnValidator materializes chunks of rows and evaluates each rule over
// the whole column at once: a presence pass, a coercion pass and a
// constraint pass per field, with per-row masks combined at the end. Chunked
// so memory stays bounded by chunkSize, not by the input; chunk boundaries
// are invisible downstream.
type ColumnValidator struct {
	rules   *rules.RuleSet
	indexes []int
	chunk   int
	timings *Timings
	log     logging.Logger
}

// NewColumnValidator creates the whole-column strategy.
func NewColumnValidator(rs *rules.RuleSet, fields []string, chunkSize int, timings *Timings) *ColumnValidator {
	log := *logging.Named("validator.columns")
	return &ColumnValidator{
		rules:   rs,
		indexes: fieldIndexes(rs, fields, log),
		chunk:   chunkSize,
		timings: timings,
		log:     log,
	}
}

// rowVerdict is the combined outcome for one row of a chunk.
type rowVerdict struct {
	rec Record
	rej Rejection
	ok  bool
}

// Partition implements Partitioner.
func (v *ColumnValidator) Partition(ctx context.Context, in <-chan RawRecord) (<-chan Record, <-chan Rejection) {
	valid := make(chan Record, rawBuffer)
	rejected := make(chan Rejection, rawBuffer)

	go func() {
		defer close(valid)
		defer close(rejected)

		buf := make([]RawRecord, 0, v.chunk)
		for raw := range in {
			buf = append(buf, raw)
			if len(buf) >= v.chunk {
				if !v.flush(ctx, buf, valid, rejected) {
					return
				}
				buf = buf[:0]
			}
		}
		if len(buf) > 0 {
			v.flush(ctx, buf, valid, rejected)
		}
	}()

	return valid, rejected
}

// flush evaluates one chunk and emits verdicts in row order. Returns false
// when the context was canceled mid-emit.
func (v *ColumnValidator) flush(ctx context.Context, chunk []RawRecord, valid chan<- Record, rejected chan<- Rejection) bool {
	start := time.Now()
	verdicts := v.evaluateChunk(chunk)
	if v.timings != nil {
		v.timings.ObserveValidate(time.Since(start))
	}

	for i := range verdicts {
		if verdicts[i].ok {
			select {
			case valid <- verdicts[i].rec:
			case <-ctx.Done():
				return false
			}
		} else {
			select {
			case rejected <- verdicts[i].rej:
			case <-ctx.Done():
				return false
			}
		}
	}
	return true
}

// evaluateChunk runs the three column passes for every rule and combines the
// per-row masks. Rules run in declaration order, so each row accumulates its
// violations in the same order the row-wise strategy would produce.
func (v *ColumnValidator) evaluateChunk(chunk []RawRecord) []rowVerdict {
	n := len(chunk)
	violations := make([][]rules.Violation, n)
	values := make([]map[string]any, n)
	malformed := make([]bool, n)

	for i := range chunk {
		if chunk[i].Err != nil {
			malformed[i] = true
			violations[i] = []rules.Violation{malformedViolation(chunk[i])}
			continue
		}
		values[i] = make(map[string]any, len(v.rules.Fields))
	}

	cells := make([]string, n)
	coerced := make([]any, n)
	done := make([]bool, n)

	for f := range v.rules.Fields {
		rule := &v.rules.Fields[f]
		idx := v.indexes[f]

		// column extraction + presence pass
		for i := range chunk {
			done[i] = malformed[i]
			if done[i] {
				continue
			}
			cells[i] = cellAt(chunk[i].Cells, idx)
			if cells[i] == "" {
				done[i] = true
				if rule.Required {
					violations[i] = append(violations[i], rules.Violation{
						Field:   rule.Name,
						Kind:    rules.ViolationMissing,
						Message: "required field is empty",
					})
				}
			}
		}

		// coercion pass
		for i := range chunk {
			if done[i] {
				continue
			}
			val, err := rule.Coerce(cells[i])
			if err != nil {
				done[i] = true
				violations[i] = append(violations[i], rules.Violation{
					Field:   rule.Name,
					Kind:    rules.ViolationType,
					Value:   cells[i],
					Message: err.Error(),
				})
				continue
			}
			coerced[i] = val
		}

		// constraint pass
		for i := range chunk {
			if done[i] {
				continue
			}
			if vs := rule.Check(coerced[i]); len(vs) > 0 {
				violations[i] = append(violations[i], vs...)
				continue
			}
			values[i][rule.Name] = coerced[i]
		}
	}

	verdicts := make([]rowVerdict, n)
	for i := range chunk {
		if len(violations[i]) > 0 {
			verdicts[i] = rowVerdict{rej: Rejection{Row: chunk[i].Row, Violations: violations[i]}}
			continue
		}
		verdicts[i] = rowVerdict{rec: Record{Row: chunk[i].Row, Values: values[i]}, ok: true}
	}
	return verdicts
}
