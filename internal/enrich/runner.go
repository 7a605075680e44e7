// Package enrich implements the enrichment stage runner and the
// persisted retry queue. The runner walks trials whose stage status is
// pending, calls that stage's fetchers in fallback order, merges the
// winning payload into the trial document, and advances the stage
// status. Recoverable failures land in the retry queue; fatal failures
// mark the stage failed immediately.
package enrich

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apexbio/trials-cli/internal/model"
	"github.com/apexbio/trials-cli/internal/resilience"
	"github.com/apexbio/trials-cli/internal/store"
)

// Fetcher produces one stage's enrichment payload for a trial. A nil
// error with a non-nil payload wins the fallback chain. A NotFound
// fetch error means "source checked, nothing there" and falls through
// to the next fetcher. Any other error aborts the chain.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, trial *model.Trial) (any, error)
}

// Stage is a named enrichment step with an ordered fetcher chain.
// Requires names the stage that must be done for a trial before this
// one runs; trials whose prerequisite is not done are skipped and stay
// pending until a later pass.
type Stage struct {
	Name     string
	Requires string
	Fetchers []Fetcher
}

// StageReport tallies one stage pass.
type StageReport struct {
	Stage     string
	Processed int
	Done      int
	Empty     int
	Queued    int
	Failed    int
	Skipped   int
}

// Runner drives enrichment over the trial store.
type Runner struct {
	store       store.Store
	stages      []Stage
	concurrency int
	nowFunc     func() time.Time
}

// Option configures the runner.
type Option func(*Runner)

// WithConcurrency sets the number of trials processed in parallel per
// stage. Each worker owns one trial at a time, so per-record writes
// stay serialized.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithNowFunc overrides the clock (for tests).
func WithNowFunc(now func() time.Time) Option {
	return func(r *Runner) {
		r.nowFunc = now
	}
}

// NewRunner creates a runner over the given stages, which execute in
// the order given.
func NewRunner(s store.Store, stages []Stage, opts ...Option) *Runner {
	r := &Runner{
		store:       s,
		stages:      stages,
		concurrency: 1,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every stage in order and returns per-stage reports.
func (r *Runner) Run(ctx context.Context) ([]StageReport, error) {
	reports := make([]StageReport, 0, len(r.stages))
	for _, stage := range r.stages {
		report, err := r.RunStage(ctx, stage)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// RunStage processes every trial whose status for the stage is pending
// and which the retry queue does not already own. Returned errors are
// infrastructure-level (store failures, cancellation); fetch errors are
// absorbed into status and queue mutations.
func (r *Runner) RunStage(ctx context.Context, stage Stage) (StageReport, error) {
	log := zap.L().With(zap.String("stage", stage.Name))

	trials, err := r.store.ListTrialsByStageStatus(ctx, stage.Name, model.StagePending)
	if err != nil {
		return StageReport{Stage: stage.Name}, eris.Wrapf(err, "enrich: list pending for %s", stage.Name)
	}
	log.Info("stage pass starting",
		zap.Int("pending", len(trials)),
		zap.Int("concurrency", r.concurrency),
	)

	report := StageReport{Stage: stage.Name}
	results := make([]outcome, len(trials))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range trials {
		g.Go(func() error {
			out, err := r.processTrial(gctx, stage, &trials[i])
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, out := range results {
		report.Processed++
		switch out {
		case outcomeDone:
			report.Done++
		case outcomeEmpty:
			report.Done++
			report.Empty++
		case outcomeQueued:
			report.Queued++
		case outcomeFailed:
			report.Failed++
		case outcomeSkipped:
			report.Processed--
			report.Skipped++
		}
	}

	log.Info("stage pass finished",
		zap.Int("processed", report.Processed),
		zap.Int("done", report.Done),
		zap.Int("empty", report.Empty),
		zap.Int("queued", report.Queued),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDone
	outcomeEmpty
	outcomeQueued
	outcomeFailed
)

// processTrial runs the fallback chain for one (trial, stage) pair.
// The in_progress marking is in-memory only: the persisted status
// changes as the last action after a successful fetch, so a crash
// mid-fetch leaves the record in its pre-attempt, retryable state.
func (r *Runner) processTrial(ctx context.Context, stage Stage, trial *model.Trial) (outcome, error) {
	log := zap.L().With(
		zap.String("stage", stage.Name),
		zap.String("nct_id", trial.NCTID),
		zap.String("drug", trial.DrugName),
	)

	// A stage never runs ahead of its prerequisite. The trial stays
	// pending here, so a later pass picks it up once the prerequisite
	// lands (e.g. through a retry sweep).
	if stage.Requires != "" && trial.Status.Stage(stage.Requires) != model.StageDone {
		log.Debug("prerequisite stage not done, deferring",
			zap.String("requires", stage.Requires),
			zap.String("requires_status", string(trial.Status.Stage(stage.Requires))),
		)
		return outcomeSkipped, nil
	}

	// The queue owns this pair once an entry exists; the sweep will
	// re-attempt it when its backoff elapses.
	entry, err := r.store.GetRetryEntry(ctx, trial.Key(), stage.Name)
	if err != nil {
		return outcomeSkipped, eris.Wrap(err, "enrich: check retry entry")
	}
	if entry != nil {
		return outcomeSkipped, nil
	}

	trial.Status.Stages[stage.Name] = model.StageInProgress

	payload, fetchErr := r.runChain(ctx, stage, trial)
	now := r.nowFunc().UTC()

	switch {
	case fetchErr == nil:
		if err := r.finishStage(ctx, trial.Key(), stage.Name, payload, now); err != nil {
			return outcomeSkipped, err
		}
		if payload == nil {
			log.Debug("stage done with empty payload")
			return outcomeEmpty, nil
		}
		log.Debug("stage done")
		return outcomeDone, nil

	case resilience.IsFatal(fetchErr):
		log.Error("fatal fetch error, stage permanently failed", zap.Error(fetchErr))
		if err := r.store.SetStageStatus(ctx, trial.Key(), stage.Name, model.StageFailed, now); err != nil {
			return outcomeSkipped, eris.Wrap(err, "enrich: mark stage failed")
		}
		return outcomeFailed, nil

	default:
		// Recoverable: persisted status stays pending; the retry
		// entry carries the attempt count and next eligible time.
		if err := r.enqueueRetry(ctx, trial.Key(), stage.Name, fetchErr, now); err != nil {
			return outcomeSkipped, err
		}
		log.Warn("recoverable fetch error, queued for retry", zap.Error(fetchErr))
		return outcomeQueued, nil
	}
}

// runChain walks the stage's fetchers in order. First non-empty result
// wins. NotFound falls through; nil, nil when every fetcher came back
// empty.
func (r *Runner) runChain(ctx context.Context, stage Stage, trial *model.Trial) (any, error) {
	for _, fetcher := range stage.Fetchers {
		payload, err := fetcher.Fetch(ctx, trial)
		if err != nil {
			if resilience.IsNotFound(err) {
				zap.L().Debug("fetcher returned not found, falling through",
					zap.String("stage", stage.Name),
					zap.String("fetcher", fetcher.Name()),
					zap.String("nct_id", trial.NCTID),
				)
				continue
			}
			return nil, err
		}
		if payload == nil {
			continue
		}
		return payload, nil
	}
	return nil, nil
}

// finishStage merges the payload and then, as its last action, marks
// the stage done. A nil payload records the empty object: the stage
// was checked everywhere and nothing was there.
func (r *Runner) finishStage(ctx context.Context, trialID, stage string, payload any, now time.Time) error {
	raw := json.RawMessage("{}")
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrapf(err, "enrich: encode %s payload", stage)
		}
		raw = encoded
	}
	if err := r.store.MergePayload(ctx, trialID, stage, raw); err != nil {
		return eris.Wrapf(err, "enrich: merge %s payload", stage)
	}
	if err := r.store.SetStageStatus(ctx, trialID, stage, model.StageDone, now); err != nil {
		return eris.Wrapf(err, "enrich: mark %s done", stage)
	}
	return nil
}

// enqueueRetry creates the attempt-1 entry for a first-time failure.
func (r *Runner) enqueueRetry(ctx context.Context, trialID, stage string, fetchErr error, now time.Time) error {
	entry := &model.RetryEntry{
		TrialID:        trialID,
		Stage:          stage,
		AttemptCount:   1,
		NextEligibleAt: now.Add(model.NextBackoff(1)),
		LastError:      fetchErr.Error(),
		CreatedAt:      now,
		LastFailedAt:   now,
	}
	if err := r.store.UpsertRetryEntry(ctx, entry); err != nil {
		return eris.Wrap(err, "enrich: enqueue retry")
	}
	return nil
}

// stageByName returns the configured stage, for the retry sweep.
func (r *Runner) stageByName(name string) (Stage, bool) {
	for _, stage := range r.stages {
		if stage.Name == name {
			return stage, true
		}
	}
	return Stage{}, false
}
