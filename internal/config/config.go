package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid marks any configuration problem that must stop the run before
// the first record is read.
var ErrInvalid = errors.New("invalid configuration")

// Environment overrides. Secrets and the endpoint stay out of the config
// file; a set variable wins over the file value.
const (
	EnvBaseURL    = "SHOWADS_BASE_URL"
	EnvProjectKey = "SHOWADS_PROJECT_KEY"
)

// Config is the full configuration document.
type Config struct {
	Input      InputConfig      `json:"input"`
	Validation ValidationConfig `json:"validation"`
	Rules      RulesConfig      `json:"rules"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Retry      RetryConfig      `json:"retry"`
	ReportPath string           `json:"reportPath"`
}

// InputConfig describes the CSV source.
type InputConfig struct {
	Path       string `json:"path" validate:"required"`
	Delimiter  string `json:"delimiter" validate:"required"`
	Encoding   string `json:"encoding" validate:"required,oneof=utf-8 windows-1251"`
	AllowedDir string `json:"allowedDir"`
}

// ValidationConfig selects the validation strategy.
type ValidationConfig struct {
	Strategy  string `json:"strategy" validate:"required,oneof=rows columns"`
	ChunkSize int    `json:"chunkSize" validate:"gt=0"`
}

// RulesConfig carries the declarative field rules. Semantic checks
// (bounds consistency, pattern syntax, kind constraints) live in rules.Build.
type RulesConfig struct {
	Fields []FieldSpec `json:"fields"`
}

// FieldSpec is one declarative field rule as written in the config file.
type FieldSpec struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Required         bool     `json:"required"`
	Min              *float64 `json:"min,omitempty"`
	Max              *float64 `json:"max,omitempty"`
	MinLen           *int     `json:"minLen,omitempty"`
	MaxLen           *int     `json:"maxLen,omitempty"`
	Pattern          string   `json:"pattern,omitempty"`
	Format           string   `json:"format,omitempty"`
	Values           []string `json:"values,omitempty"`
	DateFormat       string   `json:"dateFormat,omitempty"`
	DateFallbacks    []string `json:"dateFallbacks,omitempty"`
	DecimalSeparator string   `json:"decimalSeparator,omitempty"`
}

// DeliveryConfig describes the ShowAds endpoint and batch shape.
type DeliveryConfig struct {
	BaseURL        string `json:"baseUrl" validate:"required,url"`
	ProjectKey     string `json:"projectKey" validate:"required"`
	BatchSize      int    `json:"batchSize" validate:"gt=0"`
	TimeoutSeconds int    `json:"timeoutSeconds" validate:"gt=0"`
	Concurrency    int    `json:"concurrency" validate:"gt=0"`
	Gzip           bool   `json:"gzip"`
	CookieField    string `json:"cookieField" validate:"required"`
	BannerField    string `json:"bannerField" validate:"required"`
}

// Timeout bounds a single delivery attempt.
func (d DeliveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// RetryConfig describes the per-batch retry policy.
type RetryConfig struct {
	MaxAttempts int     `json:"maxAttempts" validate:"gt=0"`
	BaseDelayMs int     `json:"baseDelayMs" validate:"gt=0"`
	Multiplier  float64 `json:"multiplier" validate:"gte=1"`
	MaxDelayMs  int     `json:"maxDelayMs" validate:"gt=0,gtefield=BaseDelayMs"`
	Jitter      bool    `json:"jitter"`
}

// BaseDelay is the delay before the first retry.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay caps the computed backoff.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// Default returns the built-in configuration: the stock rule set and the
// delivery limits of the ShowAds API. Endpoint and project key still have to
// come from the file, flags or environment.
func Default() *Config {
	return &Config{
		Input: InputConfig{
			Delimiter: ",",
			Encoding:  "utf-8",
		},
		Validation: ValidationConfig{
			Strategy:  "columns",
			ChunkSize: 1000,
		},
		Rules: RulesConfig{Fields: []FieldSpec{
			{Name: "Name", Type: "string", Required: true, Pattern: `^[A-Za-z\s]+$`},
			{Name: "Age", Type: "int", Required: true, Min: f64(18), Max: f64(100)},
			{Name: "Cookie", Type: "string", Required: true, Format: "uuid"},
			{Name: "Banner_id", Type: "int", Required: true, Min: f64(0), Max: f64(99)},
		}},
		Delivery: DeliveryConfig{
			BatchSize:      1000,
			TimeoutSeconds: 30,
			Concurrency:    4,
			CookieField:    "Cookie",
			BannerField:    "Banner_id",
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelayMs: 1000,
			Multiplier:  2.0,
			MaxDelayMs:  30000,
			Jitter:      true,
		},
	}
}

// Load reads the configuration file at path and merges it over Default().
// A missing file (or empty path) is not an error: the defaults apply. A file
// that exists but cannot be parsed is fatal. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults
		case err != nil:
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
		default:
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
			}
		}
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Delivery.BaseURL = v
	}
	if v := os.Getenv(EnvProjectKey); v != "" {
		cfg.Delivery.ProjectKey = v
	}
	return cfg, nil
}

// Validate runs the struct tags plus the checks tags cannot express. Called
// after flag overrides are applied.
func (c *Config) Validate() error {
	if err := vget().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s: failed %q", ErrInvalid, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch c.Input.Delimiter {
	case ",", ";", "\t":
	default:
		return fmt.Errorf("%w: unsupported delimiter %q", ErrInvalid, c.Input.Delimiter)
	}
	return nil
}

var (
	vOnce sync.Once
	vInst *validator.Validate
)

// vget returns the validator singleton with json tag names in messages.
func vget() *validator.Validate {
	vOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		vInst = v
	})
	return vInst
}

func f64(v float64) *float64 { return &v }
