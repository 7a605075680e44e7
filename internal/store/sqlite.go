package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/apexbio/trials-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Trials are
// stored as JSON documents keyed by the trial-intervention pair id
// (model.Trial.Key); stage status lives inside the document and is
// queried with json_extract.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS trials (
	id         TEXT PRIMARY KEY,
	nct_id     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS retry_queue (
	id               TEXT PRIMARY KEY,
	trial_id         TEXT NOT NULL,
	stage            TEXT NOT NULL,
	attempt_count    INTEGER NOT NULL DEFAULT 0,
	next_eligible_at DATETIME NOT NULL,
	last_error       TEXT,
	created_at       DATETIME NOT NULL,
	last_failed_at   DATETIME NOT NULL,
	UNIQUE (trial_id, stage)
);

CREATE TABLE IF NOT EXISTS llm_cache (
	trial_id  TEXT PRIMARY KEY,
	result    TEXT NOT NULL,
	cached_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trials_nct_id ON trials(nct_id);
CREATE INDEX IF NOT EXISTS idx_retry_queue_next_eligible ON retry_queue(next_eligible_at);
CREATE INDEX IF NOT EXISTS idx_retry_queue_trial_id ON retry_queue(trial_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Trials ---

func (s *SQLiteStore) PutTrial(ctx context.Context, trial *model.Trial) error {
	doc, err := json.Marshal(trial)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal trial")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trials (id, nct_id, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		trial.Key(), trial.NCTID, string(doc), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put trial %s", trial.Key())
}

// InsertTrial creates the trial record only if the pair id is not yet
// present. It returns false without touching the existing record when
// the trial is already in the store, so extraction can be re-run
// without resetting enrichment state.
func (s *SQLiteStore) InsertTrial(ctx context.Context, trial *model.Trial) (bool, error) {
	doc, err := json.Marshal(trial)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal trial")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trials (id, nct_id, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		trial.Key(), trial.NCTID, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert trial %s", trial.Key())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert trial %s", trial.Key())
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetTrial(ctx context.Context, id string) (*model.Trial, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM trials WHERE id = ?`, id)

	var doc string
	err := row.Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get trial %s", id)
	}
	var trial model.Trial
	if err := json.Unmarshal([]byte(doc), &trial); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal trial %s", id)
	}
	return &trial, nil
}

func (s *SQLiteStore) ListTrialsByStageStatus(ctx context.Context, stage string, status model.StageStatus) ([]model.Trial, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM trials WHERE json_extract(doc, ?) = ? ORDER BY id`,
		"$.enrichment_status.stages."+stage, string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trials by stage status")
	}
	defer rows.Close()
	return scanTrials(rows)
}

func (s *SQLiteStore) ListTrials(ctx context.Context) ([]model.Trial, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM trials ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trials")
	}
	defer rows.Close()
	return scanTrials(rows)
}

// MergePayload writes the stage payload into the trial document. Payloads
// are additive: an existing payload for the same stage is replaced by the
// merged result of the stage, never removed.
func (s *SQLiteStore) MergePayload(ctx context.Context, id, stage string, payload json.RawMessage) error {
	trial, err := s.GetTrial(ctx, id)
	if err != nil {
		return err
	}
	if trial == nil {
		return eris.Errorf("sqlite: trial not found: %s", id)
	}
	if trial.Payloads == nil {
		trial.Payloads = make(map[string]json.RawMessage)
	}
	trial.Payloads[stage] = payload
	return s.PutTrial(ctx, trial)
}

// SetStageStatus transitions one stage's status and stamps LastUpdated.
// Callers invoke this after the payload merge so that an interrupted run
// never leaves a done status without its payload.
func (s *SQLiteStore) SetStageStatus(ctx context.Context, id, stage string, status model.StageStatus, now time.Time) error {
	trial, err := s.GetTrial(ctx, id)
	if err != nil {
		return err
	}
	if trial == nil {
		return eris.Errorf("sqlite: trial not found: %s", id)
	}
	if trial.Status.Stages == nil {
		trial.Status.Stages = make(map[string]model.StageStatus)
	}
	trial.Status.Stages[stage] = status
	trial.Status.LastUpdated = now.UTC()
	return s.PutTrial(ctx, trial)
}

func (s *SQLiteStore) StageCounts(ctx context.Context) ([]StageCount, error) {
	trials, err := s.ListTrials(ctx)
	if err != nil {
		return nil, err
	}
	tally := make(map[string]map[model.StageStatus]int)
	for _, trial := range trials {
		for _, stage := range model.StageNames {
			if tally[stage] == nil {
				tally[stage] = make(map[model.StageStatus]int)
			}
			tally[stage][trial.Status.Stage(stage)]++
		}
	}
	var counts []StageCount
	for _, stage := range model.StageNames {
		for _, status := range []model.StageStatus{model.StagePending, model.StageInProgress, model.StageDone, model.StageFailed} {
			if n := tally[stage][status]; n > 0 {
				counts = append(counts, StageCount{Stage: stage, Status: status, Count: n})
			}
		}
	}
	return counts, nil
}

func scanTrials(rows *sql.Rows) ([]model.Trial, error) {
	var trials []model.Trial
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trial")
		}
		var trial model.Trial
		if err := json.Unmarshal([]byte(doc), &trial); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal trial")
		}
		trials = append(trials, trial)
	}
	return trials, eris.Wrap(rows.Err(), "sqlite: iterate trials")
}

// --- Retry queue ---

func (s *SQLiteStore) UpsertRetryEntry(ctx context.Context, entry *model.RetryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retry_queue (id, trial_id, stage, attempt_count, next_eligible_at, last_error, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (trial_id, stage) DO UPDATE SET
			attempt_count = excluded.attempt_count,
			next_eligible_at = excluded.next_eligible_at,
			last_error = excluded.last_error,
			last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.TrialID, entry.Stage, entry.AttemptCount,
		entry.NextEligibleAt.UTC(), entry.LastError,
		entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert retry entry %s/%s", entry.TrialID, entry.Stage)
}

func (s *SQLiteStore) GetRetryEntry(ctx context.Context, trialID, stage string) (*model.RetryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trial_id, stage, attempt_count, next_eligible_at, last_error, created_at, last_failed_at
		 FROM retry_queue WHERE trial_id = ? AND stage = ?`,
		trialID, stage,
	)
	entry, err := scanRetryEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get retry entry %s/%s", trialID, stage)
	}
	return entry, nil
}

func (s *SQLiteStore) EligibleRetries(ctx context.Context, now time.Time) ([]model.RetryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trial_id, stage, attempt_count, next_eligible_at, last_error, created_at, last_failed_at
		 FROM retry_queue WHERE next_eligible_at <= ?`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: eligible retries")
	}
	defer rows.Close()

	var entries []model.RetryEntry
	for rows.Next() {
		entry, err := scanRetryEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan retry entry")
		}
		entries = append(entries, *entry)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate retries")
}

func (s *SQLiteStore) DeleteRetryEntry(ctx context.Context, trialID, stage string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM retry_queue WHERE trial_id = ? AND stage = ?`,
		trialID, stage,
	)
	return eris.Wrapf(err, "sqlite: delete retry entry %s/%s", trialID, stage)
}

func (s *SQLiteStore) CountRetryEntries(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_queue`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count retry entries")
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRetryEntry(row scannable) (*model.RetryEntry, error) {
	var e model.RetryEntry
	var lastError sql.NullString
	err := row.Scan(&e.ID, &e.TrialID, &e.Stage, &e.AttemptCount,
		&e.NextEligibleAt, &lastError, &e.CreatedAt, &e.LastFailedAt)
	if err != nil {
		return nil, err
	}
	e.LastError = lastError.String
	return &e, nil
}

// --- LLM response cache ---

func (s *SQLiteStore) GetCachedClassification(ctx context.Context, trialID string) (*model.Classification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT result FROM llm_cache WHERE trial_id = ?`, trialID)

	var result string
	err := row.Scan(&result)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cached classification %s", trialID)
	}
	var c model.Classification
	if err := json.Unmarshal([]byte(result), &c); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal cached classification %s", trialID)
	}
	return &c, nil
}

func (s *SQLiteStore) SetCachedClassification(ctx context.Context, trialID string, c *model.Classification) error {
	result, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal classification")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO llm_cache (trial_id, result, cached_at) VALUES (?, ?, ?)
		 ON CONFLICT (trial_id) DO UPDATE SET result = excluded.result, cached_at = excluded.cached_at`,
		trialID, string(result), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set cached classification %s", trialID)
}
