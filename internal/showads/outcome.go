package showads

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Class partitions delivery outcomes by how the caller should react to them.
type Class int

const (
	// Success: the batch was accepted.
	Success Class = iota
	// RetryableFailure: a later attempt may succeed.
	RetryableFailure
	// PermanentFailure: no number of retries will help.
	PermanentFailure
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case PermanentFailure:
		return "permanent"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Outcome is the classified result of a single Send call.
type Outcome struct {
	Class      Class
	Code       int           // HTTP status, 0 for transport failures
	RetryAfter time.Duration // server-requested delay, 0 when absent
	Err        error
}

// Classify maps an HTTP status to an outcome class. 429 and 5xx are
// worth retrying; 401 is not, because a key that is rejected now will
// be rejected on the next attempt too.
func Classify(code int) Class {
	switch {
	case code >= 200 && code < 300:
		return Success
	case code == http.StatusTooManyRequests:
		return RetryableFailure
	case code >= 500:
		return RetryableFailure
	default:
		return PermanentFailure
	}
}

// HTTPError carries a non-2xx response back to the retry layer.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// parseRetryAfter reads a Retry-After header given in seconds.
// HTTP-date values and garbage yield zero.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
