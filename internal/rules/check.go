package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Coerce converts a raw value to the rule's kind. Raw CSV cells arrive as
// strings; already-coerced values pass through unchanged, so re-validating a
// valid record is a no-op.
func (r *FieldRule) Coerce(raw any) (any, error) {
	switch r.Kind {
	case KindString, KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return strings.TrimSpace(s), nil

	case KindInt:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid int: %w", err)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected int, got %T", raw)
		}

	case KindNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case string:
			s := strings.TrimSpace(v)
			if r.DecimalComma {
				s = strings.Replace(s, ",", ".", 1)
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number: %w", err)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", raw)
		}

	case KindDate:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			return r.parseDate(strings.TrimSpace(v))
		default:
			return nil, fmt.Errorf("expected date, got %T", raw)
		}
	}
	return nil, fmt.Errorf("unknown kind %q", r.Kind)
}

func (r *FieldRule) parseDate(value string) (time.Time, error) {
	for _, layout := range r.DateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}

// Check evaluates the rule's constraints against an already-coerced value.
// Presence and coercion are the caller's concern; Check only covers bounds,
// length, pattern, allowed values and named formats.
func (r *FieldRule) Check(v any) []Violation {
	var out []Violation

	switch r.Kind {
	case KindInt:
		n, ok := v.(int64)
		if !ok {
			return []Violation{r.violation(ViolationType, v, "not an int")}
		}
		out = r.checkBounds(float64(n), strconv.FormatInt(n, 10), out)

	case KindNumber:
		f, ok := v.(float64)
		if !ok {
			return []Violation{r.violation(ViolationType, v, "not a number")}
		}
		out = r.checkBounds(f, strconv.FormatFloat(f, 'g', -1, 64), out)

	case KindString:
		s, ok := v.(string)
		if !ok {
			return []Violation{r.violation(ViolationType, v, "not a string")}
		}
		out = r.checkLength(s, out)
		if r.Pattern != nil && !r.Pattern.MatchString(s) {
			out = append(out, r.violation(ViolationPattern, s, fmt.Sprintf("does not match %s", r.Pattern)))
		}
		if r.Format == FormatUUID {
			if _, err := uuid.Parse(s); err != nil {
				out = append(out, r.violation(ViolationFormat, s, "not a valid UUID"))
			}
		}

	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return []Violation{r.violation(ViolationType, v, "not a string")}
		}
		out = r.checkLength(s, out)
		if !r.allowed(s) {
			out = append(out, r.violation(ViolationEnum, s, fmt.Sprintf("not one of %v", r.Values)))
		}

	case KindDate:
		// parseable is the whole contract for dates
	}

	return out
}

func (r *FieldRule) checkBounds(f float64, shown string, out []Violation) []Violation {
	if r.Min != nil && f < *r.Min {
		out = append(out, r.violation(ViolationRange, shown, fmt.Sprintf("below minimum %v", *r.Min)))
	}
	if r.Max != nil && f > *r.Max {
		out = append(out, r.violation(ViolationRange, shown, fmt.Sprintf("above maximum %v", *r.Max)))
	}
	return out
}

func (r *FieldRule) checkLength(s string, out []Violation) []Violation {
	if r.MinLen != nil && len(s) < *r.MinLen {
		out = append(out, r.violation(ViolationTooShort, s, fmt.Sprintf("shorter than %d", *r.MinLen)))
	}
	if r.MaxLen != nil && len(s) > *r.MaxLen {
		out = append(out, r.violation(ViolationTooLong, s, fmt.Sprintf("longer than %d", *r.MaxLen)))
	}
	return out
}

func (r *FieldRule) allowed(s string) bool {
	for _, v := range r.Values {
		if v == s {
			return true
		}
	}
	return false
}

func (r *FieldRule) violation(kind string, value any, message string) Violation {
	return Violation{
		Field:   r.Name,
		Kind:    kind,
		Value:   fmt.Sprintf("%v", value),
		Message: message,
	}
}
