package rules

import "fmt"

// Violation kinds attached to rejected records.
const (
	ViolationMissing   = "missing"
	ViolationType      = "type-mismatch"
	ViolationRange     = "out-of-range"
	ViolationTooShort  = "too-short"
	ViolationTooLong   = "too-long"
	ViolationPattern   = "pattern-mismatch"
	ViolationEnum      = "not-allowed"
	ViolationFormat    = "bad-format"
	ViolationMalformed = "malformed-row"
)

// Violation describes a single constraint failure for one field of one record.
type Violation struct {
	Field   string `json:"field,omitempty"`
	Kind    string `json:"kind"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("%s: %s", v.Kind, v.Message)
	}
	return fmt.Sprintf("%s %s: %s", v.Field, v.Kind, v.Message)
}
