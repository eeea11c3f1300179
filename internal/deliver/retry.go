package deliver

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vojhanzlik/showads-connector/internal/config"
	"github.com/vojhanzlik/showads-connector/internal/ingest"
	"github.com/vojhanzlik/showads-connector/internal/logging"
	"github.com/vojhanzlik/showads-connector/internal/showads"
)

// State is the terminal disposition of one batch's delivery.
type State int

const (
	// Succeeded: the API accepted the batch.
	Succeeded State = iota
	// PermanentlyFailed: the API rejected the batch in a way retries cannot fix.
	PermanentlyFailed
	// Exhausted: every allowed attempt failed with a retryable error.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case PermanentlyFailed:
		return "permanently_failed"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is what the dispatcher reports for one batch.
type Result struct {
	Seq      int64
	State    State
	Attempts int
	Code     int
	Err      error
}

// Policy shapes the retry schedule of a single batch.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      bool
}

// PolicyFromConfig maps the retry section of the configuration onto a Policy.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay(),
		Multiplier:  cfg.Multiplier,
		MaxDelay:    cfg.MaxDelay(),
		Jitter:      cfg.Jitter,
	}
}

// Delay returns the wait before the given retry, counted from 1. The delay
// grows geometrically and is capped before jitter is applied, so with jitter
// the actual wait lands anywhere in half to one-and-a-half of the capped
// value.
func (p Policy) Delay(retry int) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retry-1)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	if p.Jitter {
		delay = delay/2 + time.Duration(rand.Int64N(int64(delay)))
	}
	return delay
}

// Sender submits one batch exactly once. *showads.Client implements it.
type Sender interface {
	Send(ctx context.Context, batch ingest.Batch) showads.Outcome
}

// Retrier drives batches through delivery attempts until each reaches a
// terminal state. Safe for concurrent use; every batch's retry sequence is
// independent.
type Retrier struct {
	client Sender
	policy Policy
	log    logging.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier builds a Retrier around the given sender.
func NewRetrier(client Sender, policy Policy) *Retrier {
	return &Retrier{
		client: client,
		policy: policy,
		log:    *logging.Named("deliver"),
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Deliver runs one batch through the retry machine and returns its terminal
// result. The machine walks attempting → succeeded | permanentlyFailed |
// retryableFailed, and from retryableFailed either back to attempting after
// a backoff or to exhausted once attempts run out.
func (r *Retrier) Deliver(ctx context.Context, batch ingest.Batch) Result {
	d := &delivery{retrier: r, ctx: ctx, batch: batch}
	for state := d.attempting; state != nil; {
		state = state()
	}
	return d.result
}

// stateFn chains the machine lazily: each state returns the next one,
// terminal states return nil.
type stateFn func() stateFn

// delivery carries one batch's progress through the machine.
type delivery struct {
	retrier *Retrier
	ctx     context.Context
	batch   ingest.Batch
	attempt int
	last    showads.Outcome
	result  Result
}

func (d *delivery) attempting() stateFn {
	d.attempt++
	d.last = d.retrier.client.Send(d.ctx, d.batch)

	switch d.last.Class {
	case showads.Success:
		return d.succeeded
	case showads.PermanentFailure:
		return d.permanentlyFailed
	default:
		return d.retryableFailed
	}
}

func (d *delivery) retryableFailed() stateFn {
	if d.attempt >= d.retrier.policy.MaxAttempts {
		return d.exhausted
	}

	delay := d.retrier.policy.Delay(d.attempt)
	if d.last.RetryAfter > 0 {
		delay = d.last.RetryAfter
	}

	d.retrier.log.Warn().
		Int64("batch", d.batch.Seq).
		Int("attempt", d.attempt).
		Int("status", d.last.Code).
		Dur("backoff", delay).
		Msg("delivery attempt failed, backing off")

	if err := d.retrier.sleep(d.ctx, delay); err != nil {
		// The run is shutting down; the remaining attempts are forfeit.
		d.result = Result{
			Seq:      d.batch.Seq,
			State:    Exhausted,
			Attempts: d.attempt,
			Code:     d.last.Code,
			Err:      fmt.Errorf("retry wait interrupted: %w", err),
		}
		return nil
	}
	return d.attempting
}

func (d *delivery) succeeded() stateFn {
	d.retrier.log.Info().
		Int64("batch", d.batch.Seq).
		Int("records", len(d.batch.Records)).
		Int("attempts", d.attempt).
		Msg("batch delivered")
	d.result = Result{Seq: d.batch.Seq, State: Succeeded, Attempts: d.attempt, Code: d.last.Code}
	return nil
}

func (d *delivery) permanentlyFailed() stateFn {
	d.retrier.log.Error().
		Int64("batch", d.batch.Seq).
		Int("attempts", d.attempt).
		Int("status", d.last.Code).
		Err(d.last.Err).
		Msg("batch rejected permanently")
	d.result = Result{Seq: d.batch.Seq, State: PermanentlyFailed, Attempts: d.attempt, Code: d.last.Code, Err: d.last.Err}
	return nil
}

func (d *delivery) exhausted() stateFn {
	d.retrier.log.Error().
		Int64("batch", d.batch.Seq).
		Int("attempts", d.attempt).
		Int("status", d.last.Code).
		Err(d.last.Err).
		Msg("batch failed after final attempt")
	d.result = Result{Seq: d.batch.Seq, State: Exhausted, Attempts: d.attempt, Code: d.last.Code, Err: d.last.Err}
	return nil
}
