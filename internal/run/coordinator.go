package run

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vojhanzlik/showads-connector/internal/config"
	"github.com/vojhanzlik/showads-connector/internal/deliver"
	"github.com/vojhanzlik/showads-connector/internal/ingest"
	"github.com/vojhanzlik/showads-connector/internal/logging"
	"github.com/vojhanzlik/showads-connector/internal/rules"
	"github.com/vojhanzlik/showads-connector/internal/showads"
)

// recordBuffer bounds the counted-record hop between validation and batching.
const recordBuffer = 100

// Coordinator wires reader, partitioner, batcher and dispatcher into one
// run and gathers the Summary while they drain.
type Coordinator struct {
	id      string
	cfg     *config.Config
	rules   *rules.RuleSet
	report  *Report
	timings *ingest.Timings
	sender  deliver.Sender
	log     logging.Logger
}

// New builds a coordinator for a validated configuration. It compiles the
// rule set, cross-checks the delivery field mapping against it and opens
// the rejection report.
func New(cfg *config.Config) (*Coordinator, error) {
	ruleset, err := rules.Build(cfg.Rules)
	if err != nil {
		return nil, err
	}

	// Delivery maps two record fields onto the wire format; a field
	// without a rule would never appear in a valid record.
	names := make(map[string]bool, len(ruleset.Fields))
	for _, name := range ruleset.Names() {
		names[name] = true
	}
	if !names[cfg.Delivery.CookieField] {
		return nil, fmt.Errorf("%w: delivery cookie field %q has no rule", config.ErrInvalid, cfg.Delivery.CookieField)
	}
	if !names[cfg.Delivery.BannerField] {
		return nil, fmt.Errorf("%w: delivery banner field %q has no rule", config.ErrInvalid, cfg.Delivery.BannerField)
	}

	report, err := NewReport(cfg.ReportPath)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	timings := ingest.NewTimings()
	return &Coordinator{
		id:      id,
		cfg:     cfg,
		rules:   ruleset,
		report:  report,
		timings: timings,
		sender:  showads.NewClient(cfg.Delivery, timings),
		log:     logging.Named("run").With().Str("run_id", id).Logger(),
	}, nil
}

// Timings exposes the stage timings gathered during Run.
func (c *Coordinator) Timings() *ingest.Timings {
	return c.timings
}

// Run drives the pipeline to completion and returns the Summary. The run
// always finishes: rejected rows and failed batches are counted and
// reported, never fatal. A non-nil error means the input stream was cut
// short or the report could not be written out; the Summary still covers
// everything that was processed.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	defer c.report.Close()

	reader, err := ingest.NewReader(c.cfg.Input)
	if err != nil {
		return Summary{}, err
	}

	partitioner, err := ingest.NewPartitioner(c.cfg.Validation, c.rules, reader.Fields(), c.timings)
	if err != nil {
		return Summary{}, err
	}

	batcher, err := ingest.NewBatcher(c.cfg.Delivery.BatchSize, c.timings)
	if err != nil {
		return Summary{}, err
	}

	retrier := deliver.NewRetrier(c.sender, deliver.PolicyFromConfig(c.cfg.Retry))
	dispatcher := deliver.NewDispatcher(retrier, c.cfg.Delivery.Concurrency)

	c.log.Info().
		Str("input", c.cfg.Input.Path).
		Str("strategy", c.cfg.Validation.Strategy).
		Int("batch_size", c.cfg.Delivery.BatchSize).
		Int("workers", c.cfg.Delivery.Concurrency).
		Msg("run started")

	counts := &tally{}

	valid, rejected := partitioner.Partition(ctx, reader.Records(ctx))

	// Tee the valid stream so the Summary sees every record the batcher
	// consumes.
	counted := make(chan ingest.Record, recordBuffer)
	go func() {
		defer close(counted)
		for record := range valid {
			counts.recordValid()
			select {
			case counted <- record:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := dispatcher.Dispatch(ctx, batcher.Batches(ctx, counted))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for rejection := range rejected {
			counts.recordRejected()
			c.report.Rejection(rejection)
		}
	}()

	for result := range results {
		counts.recordResult(result)
		if result.State != deliver.Succeeded {
			c.report.BatchFailure(result)
		}
	}
	wg.Wait()

	summary := counts.summary()

	if err := reader.Err(); err != nil {
		c.log.Error().Err(err).Str("summary", summary.String()).Msg("input stream ended early")
		return summary, fmt.Errorf("input truncated: %w", err)
	}
	if err := c.report.Close(); err != nil {
		return summary, err
	}

	c.log.Info().Str("summary", summary.String()).Msg("run complete")
	return summary, nil
}
