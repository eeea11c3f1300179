package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vojhanzlik/showads-connector/internal/config"
	"github.com/vojhanzlik/showads-connector/internal/logging"
	"github.com/vojhanzlik/showads-connector/internal/rules"
)

// Partitioner splits a raw record stream into valid records and rejections.
// Implementations must yield identical partitions for identical input
// regardless of their evaluation strategy.
type Partitioner interface {
	Partition(ctx context.Context, in <-chan RawRecord) (<-chan Record, <-chan Rejection)
}

// NewPartitioner selects the validation strategy from configuration.
// fields is the CSV header in column order.
func NewPartitioner(cfg config.ValidationConfig, rs *rules.RuleSet, fields []string, timings *Timings) (Partitioner, error) {
	switch cfg.Strategy {
	case "rows":
		return NewRowValidator(rs, fields, timings), nil
	case "columns":
		return NewColumnValidator(rs, fields, cfg.ChunkSize, timings), nil
	}
	return nil, fmt.Errorf("unknown validation strategy: %s", cfg.Strategy)
}

// fieldIndexes maps each rule to its CSV column, -1 when the header lacks
// the column. A duplicated header name resolves to its last occurrence.
func fieldIndexes(rs *rules.RuleSet, fields []string, log logging.Logger) []int {
	byName := make(map[string]int, len(fields))
	for i, name := range fields {
		byName[name] = i
	}

	indexes := make([]int, len(rs.Fields))
	for i := range rs.Fields {
		idx, ok := byName[rs.Fields[i].Name]
		if !ok {
			idx = -1
			log.Warn().Str("field", rs.Fields[i].Name).Msg("header has no column for rule field")
		}
		indexes[i] = idx
	}
	return indexes
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

// evaluateRow applies every rule to one raw record. Per-field order: presence
// first, then coercion, then constraints; later stages run only when the
// earlier ones pass. Optional empty fields are omitted from Values. Both
// strategies funnel through the same Coerce/Check calls, so their verdicts
// cannot drift apart.
func evaluateRow(rs *rules.RuleSet, indexes []int, raw RawRecord) (Record, Rejection, bool) {
	if raw.Err != nil {
		return Record{}, Rejection{
			Row:        raw.Row,
			Violations: []rules.Violation{malformedViolation(raw)},
		}, false
	}

	values := make(map[string]any, len(rs.Fields))
	var violations []rules.Violation

	for i := range rs.Fields {
		rule := &rs.Fields[i]
		cell := cellAt(raw.Cells, indexes[i])

		if cell == "" {
			if rule.Required {
				violations = append(violations, rules.Violation{
					Field:   rule.Name,
					Kind:    rules.ViolationMissing,
					Message: "required field is empty",
				})
			}
			continue
		}

		v, err := rule.Coerce(cell)
		if err != nil {
			violations = append(violations, rules.Violation{
				Field:   rule.Name,
				Kind:    rules.ViolationType,
				Value:   cell,
				Message: err.Error(),
			})
			continue
		}

		if vs := rule.Check(v); len(vs) > 0 {
			violations = append(violations, vs...)
			continue
		}

		values[rule.Name] = v
	}

	if len(violations) > 0 {
		return Record{}, Rejection{Row: raw.Row, Violations: violations}, false
	}
	return Record{Row: raw.Row, Values: values}, Rejection{}, true
}

func malformedViolation(raw RawRecord) rules.Violation {
	return rules.Violation{
		Kind:    rules.ViolationMalformed,
		Value:   strings.Join(raw.Cells, ","),
		Message: raw.Err.Error(),
	}
}

// RowValidator evaluates rules one record at a time. Fully streaming: a row
// is either forwarded or rejected before the next one is read.
type RowValidator struct {
	rules   *rules.RuleSet
	indexes []int
	timings *Timings
	log     logging.Logger
}

// NewRowValidator creates the record-at-a-time strategy.
func NewRowValidator(rs *rules.RuleSet, fields []string, timings *Timings) *RowValidator {
	log := *logging.Named("validator.rows")
	return &RowValidator{
		rules:   rs,
		indexes: fieldIndexes(rs, fields, log),
		timings: timings,
		log:     log,
	}
}

// Partition implements Partitioner.
func (v *RowValidator) Partition(ctx context.Context, in <-chan RawRecord) (<-chan Record, <-chan Rejection) {
	valid := make(chan Record, rawBuffer)
	rejected := make(chan Rejection, rawBuffer)

	go func() {
		defer close(valid)
		defer close(rejected)

		for raw := range in {
			start := time.Now()
			rec, rej, ok := evaluateRow(v.rules, v.indexes, raw)
			if v.timings != nil {
				v.timings.ObserveValidate(time.Since(start))
			}

			if ok {
				select {
				case valid <- rec:
				case <-ctx.Done():
					return
				}
			} else {
				select {
				case rejected <- rej:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return valid, rejected
}
