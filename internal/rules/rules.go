// Package rules compiles the per-field validation configuration into an
// immutable RuleSet shared by both validator strategies.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vojhanzlik/showads-connector/internal/config"
)

// ErrInvalidRule marks configuration errors detected while compiling rules.
var ErrInvalidRule = errors.New("invalid rule")

// Kind is the primitive type a field coerces to.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindNumber Kind = "number"
	KindDate   Kind = "date"
	KindEnum   Kind = "enum"
)

// FormatUUID is the only named string format currently supported.
const FormatUUID = "uuid"

// FieldRule is one compiled field constraint descriptor.
type FieldRule struct {
	Name     string
	Kind     Kind
	Required bool

	// numeric bounds, int and number kinds only
	Min *float64
	Max *float64

	// length bounds, string and enum kinds only
	MinLen *int
	MaxLen *int

	Pattern *regexp.Regexp // string kind only
	Format  string         // string kind only, "" or FormatUUID
	Values  []string       // enum kind only, allowed set

	DateLayouts  []string // date kind, tried in order
	DecimalComma bool     // number kind, "," as decimal separator
}

// RuleSet holds compiled field rules in declaration order. Built once per
// run and read-only afterwards.
type RuleSet struct {
	Fields []FieldRule
}

// Names returns the rule field names in declaration order.
func (rs *RuleSet) Names() []string {
	names := make([]string, len(rs.Fields))
	for i := range rs.Fields {
		names[i] = rs.Fields[i].Name
	}
	return names
}

// Build compiles the rules section of the configuration. Any malformed rule
// (unknown kind, inverted bounds, bad pattern, constraint on a kind that
// cannot carry it) fails the whole build.
func Build(cfg config.RulesConfig) (*RuleSet, error) {
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("%w: no field rules configured", ErrInvalidRule)
	}

	seen := make(map[string]bool, len(cfg.Fields))
	fields := make([]FieldRule, 0, len(cfg.Fields))

	for _, spec := range cfg.Fields {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: field with empty name", ErrInvalidRule)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidRule, name)
		}
		seen[name] = true

		rule, err := compile(name, spec)
		if err != nil {
			return nil, err
		}
		fields = append(fields, rule)
	}

	return &RuleSet{Fields: fields}, nil
}

func compile(name string, spec config.FieldSpec) (FieldRule, error) {
	rule := FieldRule{
		Name:     name,
		Required: spec.Required,
		Min:      spec.Min,
		Max:      spec.Max,
		MinLen:   spec.MinLen,
		MaxLen:   spec.MaxLen,
		Format:   spec.Format,
		Values:   spec.Values,
	}

	switch Kind(spec.Type) {
	case KindString, KindInt, KindNumber, KindDate, KindEnum:
		rule.Kind = Kind(spec.Type)
	default:
		return rule, fmt.Errorf("%w: field %q: unknown type %q", ErrInvalidRule, name, spec.Type)
	}

	if rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max {
		return rule, fmt.Errorf("%w: field %q: min %v greater than max %v", ErrInvalidRule, name, *rule.Min, *rule.Max)
	}
	if rule.MinLen != nil && rule.MaxLen != nil && *rule.MinLen > *rule.MaxLen {
		return rule, fmt.Errorf("%w: field %q: minLen %d greater than maxLen %d", ErrInvalidRule, name, *rule.MinLen, *rule.MaxLen)
	}
	if rule.MinLen != nil && *rule.MinLen < 0 {
		return rule, fmt.Errorf("%w: field %q: negative minLen", ErrInvalidRule, name)
	}

	if (rule.Min != nil || rule.Max != nil) && rule.Kind != KindInt && rule.Kind != KindNumber {
		return rule, fmt.Errorf("%w: field %q: numeric bounds on %s field", ErrInvalidRule, name, rule.Kind)
	}
	if (rule.MinLen != nil || rule.MaxLen != nil) && rule.Kind != KindString && rule.Kind != KindEnum {
		return rule, fmt.Errorf("%w: field %q: length bounds on %s field", ErrInvalidRule, name, rule.Kind)
	}

	if spec.Pattern != "" {
		if rule.Kind != KindString {
			return rule, fmt.Errorf("%w: field %q: pattern on %s field", ErrInvalidRule, name, rule.Kind)
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return rule, fmt.Errorf("%w: field %q: bad pattern: %v", ErrInvalidRule, name, err)
		}
		rule.Pattern = re
	}

	if spec.Format != "" {
		if rule.Kind != KindString {
			return rule, fmt.Errorf("%w: field %q: format on %s field", ErrInvalidRule, name, rule.Kind)
		}
		if spec.Format != FormatUUID {
			return rule, fmt.Errorf("%w: field %q: unknown format %q", ErrInvalidRule, name, spec.Format)
		}
	}

	if rule.Kind == KindEnum {
		if len(rule.Values) == 0 {
			return rule, fmt.Errorf("%w: field %q: enum without values", ErrInvalidRule, name)
		}
	} else if len(rule.Values) != 0 {
		return rule, fmt.Errorf("%w: field %q: values on %s field", ErrInvalidRule, name, rule.Kind)
	}

	if rule.Kind == KindDate {
		layouts, err := dateLayouts(spec.DateFormat, spec.DateFallbacks)
		if err != nil {
			return rule, fmt.Errorf("%w: field %q: %v", ErrInvalidRule, name, err)
		}
		rule.DateLayouts = layouts
	} else if spec.DateFormat != "" || len(spec.DateFallbacks) != 0 {
		return rule, fmt.Errorf("%w: field %q: date format on %s field", ErrInvalidRule, name, rule.Kind)
	}

	if spec.DecimalSeparator != "" {
		if rule.Kind != KindNumber {
			return rule, fmt.Errorf("%w: field %q: decimal separator on %s field", ErrInvalidRule, name, rule.Kind)
		}
		switch spec.DecimalSeparator {
		case ",":
			rule.DecimalComma = true
		case ".":
		default:
			return rule, fmt.Errorf("%w: field %q: unknown decimal separator %q", ErrInvalidRule, name, spec.DecimalSeparator)
		}
	}

	return rule, nil
}

// dateLayouts converts DD/MM/YYYY-style formats into Go reference layouts.
func dateLayouts(format string, fallbacks []string) ([]string, error) {
	if format == "" {
		format = "YYYY-MM-DD"
	}
	formats := append([]string{format}, fallbacks...)
	layouts := make([]string, 0, len(formats))
	for _, f := range formats {
		layout, err := dateLayout(f)
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, layout)
	}
	return layouts, nil
}

func dateLayout(format string) (string, error) {
	if !strings.Contains(format, "YY") && !strings.Contains(format, "MM") && !strings.Contains(format, "DD") {
		return "", fmt.Errorf("date format %q has no placeholders", format)
	}
	layout := format
	layout = strings.Replace(layout, "YYYY", "2006", -1)
	layout = strings.Replace(layout, "YY", "06", -1)
	layout = strings.Replace(layout, "MM", "01", -1)
	layout = strings.Replace(layout, "DD", "02", -1)
	return layout, nil
}
