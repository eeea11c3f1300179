package deliver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/vojhanzlik/showads-connector/internal/ingest"
	"github.com/vojhanzlik/showads-connector/internal/showads"
)

// senderFunc adapts a function to the Sender interface.
type senderFunc func(ctx context.Context, batch ingest.Batch) showads.Outcome

func (f senderFunc) Send(ctx context.Context, batch ingest.Batch) showads.Outcome {
	return f(ctx, batch)
}

// scriptedSender returns outcomes from the script in order, then succeeds.
func scriptedSender(script ...showads.Outcome) senderFunc {
	var mu sync.Mutex
	return func(ctx context.Context, batch ingest.Batch) showads.Outcome {
		mu.Lock()
		defer mu.Unlock()
		if len(script) == 0 {
			return showads.Outcome{Class: showads.Success, Code: http.StatusOK}
		}
		outcome := script[0]
		script = script[1:]
		return outcome
	}
}

func retryable(code int) showads.Outcome {
	return showads.Outcome{
		Class: showads.RetryableFailure,
		Code:  code,
		Err:   &showads.HTTPError{StatusCode: code},
	}
}

func permanent(code int) showads.Outcome {
	return showads.Outcome{
		Class: showads.PermanentFailure,
		Code:  code,
		Err:   &showads.HTTPError{StatusCode: code},
	}
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Second,
	}
}

// recordSleeps replaces the retrier's sleep with an instant one that
// remembers every requested delay.
func recordSleeps(r *Retrier) *[]time.Duration {
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return &delays
}

func testBatch(seq int64) ingest.Batch {
	return ingest.Batch{
		Seq: seq,
		Records: []ingest.Record{
			{Row: 2, Values: map[string]any{"Cookie": "c", "Banner_id": int64(1)}},
		},
	}
}

func TestDeliverSucceedsFirstAttempt(t *testing.T) {
	retrier := NewRetrier(scriptedSender(), testPolicy())
	delays := recordSleeps(retrier)

	result := retrier.Deliver(context.Background(), testBatch(1))

	if result.State != Succeeded {
		t.Errorf("State = %v, want succeeded", result.State)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.Seq != 1 {
		t.Errorf("Seq = %d, want 1", result.Seq)
	}
	if len(*delays) != 0 {
		t.Errorf("Expected no backoff sleeps, got %v", *delays)
	}
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	// Two 429s, then success, with exactly three attempts allowed: the
	// batch must land on the last permitted attempt.
	policy := testPolicy()
	policy.MaxAttempts = 3
	retrier := NewRetrier(scriptedSender(
		retryable(http.StatusTooManyRequests),
		retryable(http.StatusTooManyRequests),
	), policy)
	delays := recordSleeps(retrier)

	result := retrier.Deliver(context.Background(), testBatch(7))

	if result.State != Succeeded {
		t.Fatalf("State = %v (err %v), want succeeded", result.State, result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if len(*delays) != 2 {
		t.Errorf("Expected 2 backoff sleeps, got %v", *delays)
	}
}

func TestDeliverPermanentFailureStopsImmediately(t *testing.T) {
	retrier := NewRetrier(scriptedSender(permanent(http.StatusUnauthorized)), testPolicy())
	delays := recordSleeps(retrier)

	result := retrier.Deliver(context.Background(), testBatch(1))

	if result.State != PermanentlyFailed {
		t.Errorf("State = %v, want permanently_failed", result.State)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1: permanent failures must not be retried", result.Attempts)
	}
	if result.Code != http.StatusUnauthorized {
		t.Errorf("Code = %d, want 401", result.Code)
	}
	if result.Err == nil {
		t.Error("Expected the delivery error to be carried in the result")
	}
	if len(*delays) != 0 {
		t.Errorf("Expected no backoff sleeps, got %v", *delays)
	}
}

func TestDeliverExhaustsAttempts(t *testing.T) {
	calls := 0
	sender := senderFunc(func(ctx context.Context, batch ingest.Batch) showads.Outcome {
		calls++
		return retryable(http.StatusServiceUnavailable)
	})

	retrier := NewRetrier(sender, testPolicy())
	delays := recordSleeps(retrier)

	result := retrier.Deliver(context.Background(), testBatch(1))

	if result.State != Exhausted {
		t.Errorf("State = %v, want exhausted", result.State)
	}
	if result.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", result.Attempts)
	}
	if calls != 5 {
		t.Errorf("Sender was called %d times, want 5", calls)
	}
	if len(*delays) != 4 {
		t.Errorf("Expected 4 backoff sleeps between 5 attempts, got %d", len(*delays))
	}
	if result.Code != http.StatusServiceUnavailable {
		t.Errorf("Code = %d, want 503", result.Code)
	}
}

func TestDeliverBackoffGrows(t *testing.T) {
	sender := senderFunc(func(ctx context.Context, batch ingest.Batch) showads.Outcome {
		return retryable(http.StatusInternalServerError)
	})

	policy := Policy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Second,
	}
	retrier := NewRetrier(sender, policy)
	delays := recordSleeps(retrier)

	retrier.Deliver(context.Background(), testBatch(1))

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("Got %d sleeps %v, want %d", len(*delays), *delays, len(want))
	}
	for i, d := range *delays {
		if d != want[i] {
			t.Errorf("Sleep %d = %v, want %v", i, d, want[i])
		}
		if i > 0 && d <= (*delays)[i-1] {
			t.Errorf("Sleep %d (%v) not greater than previous (%v)", i, d, (*delays)[i-1])
		}
	}
}

func TestDeliverHonorsRetryAfter(t *testing.T) {
	first := retryable(http.StatusTooManyRequests)
	first.RetryAfter = 7 * time.Second

	retrier := NewRetrier(scriptedSender(first), testPolicy())
	delays := recordSleeps(retrier)

	result := retrier.Deliver(context.Background(), testBatch(1))

	if result.State != Succeeded {
		t.Fatalf("State = %v, want succeeded", result.State)
	}
	if len(*delays) != 1 {
		t.Fatalf("Expected 1 sleep, got %v", *delays)
	}
	if (*delays)[0] != 7*time.Second {
		t.Errorf("Sleep = %v, want the server-requested 7s", (*delays)[0])
	}
}

func TestDeliverInterruptedWaitEndsDelivery(t *testing.T) {
	calls := 0
	sender := senderFunc(func(ctx context.Context, batch ingest.Batch) showads.Outcome {
		calls++
		return retryable(http.StatusInternalServerError)
	})

	retrier := NewRetrier(sender, testPolicy())
	retrier.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	result := retrier.Deliver(context.Background(), testBatch(1))

	if result.State != Exhausted {
		t.Errorf("State = %v, want exhausted", result.State)
	}
	if calls != 1 {
		t.Errorf("Sender was called %d times after canceled wait, want 1", calls)
	}
	if result.Err == nil || !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want wrapped context.Canceled", result.Err)
	}
}

func TestPolicyDelayCapped(t *testing.T) {
	policy := Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}

	if got := policy.Delay(1); got != time.Second {
		t.Errorf("Delay(1) = %v, want 1s", got)
	}
	if got := policy.Delay(3); got != 4*time.Second {
		t.Errorf("Delay(3) = %v, want 4s", got)
	}
	if got := policy.Delay(4); got != 5*time.Second {
		t.Errorf("Delay(4) = %v, want the 5s cap", got)
	}
	if got := policy.Delay(9); got != 5*time.Second {
		t.Errorf("Delay(9) = %v, want the 5s cap", got)
	}
}

func TestPolicyDelayJitterBounds(t *testing.T) {
	policy := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    time.Minute,
		Jitter:      true,
	}

	for i := 0; i < 200; i++ {
		got := policy.Delay(1)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("Delay(1) = %v, want within [500ms, 1.5s]", got)
		}
	}
}

func TestResultStateStrings(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Succeeded, "succeeded"},
		{PermanentlyFailed, "permanently_failed"},
		{Exhausted, "exhausted"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
	if got := fmt.Sprint(State(42)); got != "state(42)" {
		t.Errorf("Unknown state printed as %q", got)
	}
}
