package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/model"
	"github.com/apexbio/trials-cli/internal/resilience"
)

// SweepReport tallies one retry sweep.
type SweepReport struct {
	Eligible    int
	Succeeded   int
	Rescheduled int
	Exhausted   int
	Failed      int
	Deferred    int
}

// Sweep re-attempts every retry entry whose backoff has elapsed. Per
// entry: success removes it and marks the stage done; another
// recoverable failure increments the attempt count and reschedules;
// hitting the attempt ceiling (or a fatal error) permanently fails the
// stage and drops the entry.
func (r *Runner) Sweep(ctx context.Context) (SweepReport, error) {
	now := r.nowFunc().UTC()
	entries, err := r.store.EligibleRetries(ctx, now)
	if err != nil {
		return SweepReport{}, eris.Wrap(err, "enrich: list eligible retries")
	}

	report := SweepReport{Eligible: len(entries)}
	if len(entries) == 0 {
		return report, nil
	}
	zap.L().Info("retry sweep starting", zap.Int("eligible", len(entries)))

	for i := range entries {
		if err := r.sweepEntry(ctx, &entries[i], &report); err != nil {
			return report, err
		}
	}

	zap.L().Info("retry sweep finished",
		zap.Int("eligible", report.Eligible),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("rescheduled", report.Rescheduled),
		zap.Int("exhausted", report.Exhausted),
		zap.Int("failed", report.Failed),
		zap.Int("deferred", report.Deferred),
	)
	return report, nil
}

func (r *Runner) sweepEntry(ctx context.Context, entry *model.RetryEntry, report *SweepReport) error {
	log := zap.L().With(
		zap.String("stage", entry.Stage),
		zap.String("trial_id", entry.TrialID),
		zap.Int("attempt", entry.AttemptCount),
	)

	stage, ok := r.stageByName(entry.Stage)
	if !ok {
		// Entry for a stage no longer configured; drop it rather than
		// replay forever.
		log.Warn("retry entry references unknown stage, dropping")
		return r.store.DeleteRetryEntry(ctx, entry.TrialID, entry.Stage)
	}

	trial, err := r.store.GetTrial(ctx, entry.TrialID)
	if err != nil {
		return eris.Wrap(err, "enrich: load trial for retry")
	}
	if trial == nil {
		log.Warn("retry entry references missing trial, dropping")
		return r.store.DeleteRetryEntry(ctx, entry.TrialID, entry.Stage)
	}

	// An entry whose prerequisite stage is no longer done (the status
	// was reset out-of-band) waits; the entry stays queued untouched.
	if stage.Requires != "" && trial.Status.Stage(stage.Requires) != model.StageDone {
		log.Warn("prerequisite stage not done, deferring retry",
			zap.String("requires", stage.Requires),
		)
		report.Deferred++
		return nil
	}

	payload, fetchErr := r.runChain(ctx, stage, trial)
	now := r.nowFunc().UTC()

	switch {
	case fetchErr == nil:
		if err := r.finishStage(ctx, entry.TrialID, entry.Stage, payload, now); err != nil {
			return err
		}
		if err := r.store.DeleteRetryEntry(ctx, entry.TrialID, entry.Stage); err != nil {
			return eris.Wrap(err, "enrich: remove retry entry")
		}
		log.Info("retry succeeded")
		report.Succeeded++
		return nil

	case resilience.IsFatal(fetchErr):
		log.Error("fatal error on retry, stage permanently failed", zap.Error(fetchErr))
		if err := r.failStage(ctx, entry, now); err != nil {
			return err
		}
		report.Failed++
		return nil

	default:
		if entry.Exhausted() {
			log.Error("retry attempts exhausted, stage permanently failed", zap.Error(fetchErr))
			if err := r.failStage(ctx, entry, now); err != nil {
				return err
			}
			report.Exhausted++
			return nil
		}

		entry.AttemptCount++
		entry.NextEligibleAt = now.Add(model.NextBackoff(entry.AttemptCount))
		entry.LastError = fetchErr.Error()
		entry.LastFailedAt = now
		if err := r.store.UpsertRetryEntry(ctx, entry); err != nil {
			return eris.Wrap(err, "enrich: reschedule retry")
		}
		log.Warn("retry failed again, rescheduled",
			zap.Time("next_eligible_at", entry.NextEligibleAt),
			zap.Error(fetchErr),
		)
		report.Rescheduled++
		return nil
	}
}

// failStage marks the stage permanently failed and drops the entry.
func (r *Runner) failStage(ctx context.Context, entry *model.RetryEntry, now time.Time) error {
	if err := r.store.SetStageStatus(ctx, entry.TrialID, entry.Stage, model.StageFailed, now); err != nil {
		return eris.Wrap(err, "enrich: mark stage failed")
	}
	if err := r.store.DeleteRetryEntry(ctx, entry.TrialID, entry.Stage); err != nil {
		return eris.Wrap(err, "enrich: remove exhausted retry entry")
	}
	return nil
}
