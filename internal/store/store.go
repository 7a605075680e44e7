package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apexbio/trials-cli/internal/model"
)

// StageCount tallies trials per (stage, status) for progress reporting.
type StageCount struct {
	Stage  string
	Status model.StageStatus
	Count  int
}

// Store is the persistence interface for the enrichment pipeline: the
// main trial collection, the retry queue, and the LLM response cache.
// The three collections are independent; no cross-collection transaction
// is required (the retry queue is just a replay mechanism over trials).
type Store interface {
	// Trials, keyed by model.Trial.Key() (one record per
	// trial-intervention pair).
	PutTrial(ctx context.Context, trial *model.Trial) error
	InsertTrial(ctx context.Context, trial *model.Trial) (bool, error)
	GetTrial(ctx context.Context, id string) (*model.Trial, error)
	ListTrialsByStageStatus(ctx context.Context, stage string, status model.StageStatus) ([]model.Trial, error)
	ListTrials(ctx context.Context) ([]model.Trial, error)
	MergePayload(ctx context.Context, id, stage string, payload json.RawMessage) error
	SetStageStatus(ctx context.Context, id, stage string, status model.StageStatus, now time.Time) error
	StageCounts(ctx context.Context) ([]StageCount, error)

	// Retry queue
	UpsertRetryEntry(ctx context.Context, entry *model.RetryEntry) error
	GetRetryEntry(ctx context.Context, trialID, stage string) (*model.RetryEntry, error)
	EligibleRetries(ctx context.Context, now time.Time) ([]model.RetryEntry, error)
	DeleteRetryEntry(ctx context.Context, trialID, stage string) error
	CountRetryEntries(ctx context.Context) (int, error)

	// LLM response cache
	GetCachedClassification(ctx context.Context, trialID string) (*model.Classification, error)
	SetCachedClassification(ctx context.Context, trialID string, c *model.Classification) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
