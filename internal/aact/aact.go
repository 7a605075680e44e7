// Package aact reads the AACT relational mirror of ClinicalTrials.gov.
// It feeds both the initial extraction of terminated trials and the
// description/document lookups used during failure-detail enrichment.
package aact

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/apexbio/trials-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool used by this package. pgxmock
// satisfies it in tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a pgx pool against the AACT database.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "aact: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "aact: ping")
	}
	return pool, nil
}

// Client queries AACT.
type Client struct {
	pool Pool
}

// NewClient wraps an existing pool.
func NewClient(pool Pool) *Client {
	return &Client{pool: pool}
}

const extractQuery = `
	SELECT DISTINCT
		s.nct_id,
		s.brief_title,
		s.phase,
		s.overall_status,
		s.why_stopped,
		s.start_date,
		s.completion_date,
		i.name,
		i.intervention_type,
		i.description,
		sp.name
	FROM ctgov.studies s
	JOIN ctgov.interventions i ON s.nct_id = i.nct_id
	LEFT JOIN ctgov.sponsors sp ON s.nct_id = sp.nct_id
		AND sp.lead_or_collaborator = 'lead'
	WHERE s.phase IN ('PHASE1', 'PHASE2', 'PHASE3')
	  AND s.overall_status IN ('TERMINATED', 'SUSPENDED', 'WITHDRAWN')
	  AND s.start_date >= $1
	  AND i.intervention_type IN ('DRUG', 'BIOLOGICAL')
	ORDER BY s.start_date DESC`

// ExtractOptions controls the terminated-trial extraction.
type ExtractOptions struct {
	StartYear int
	// Limit caps the number of extracted trials; 0 means no cap.
	Limit int
}

// ExtractTrials pulls terminated drug and biological trials from AACT
// and builds fresh trial documents with every enrichment stage pending.
func (c *Client) ExtractTrials(ctx context.Context, opts ExtractOptions) ([]model.Trial, error) {
	if opts.StartYear <= 0 {
		opts.StartYear = 2010
	}
	startDate := time.Date(opts.StartYear, time.January, 1, 0, 0, 0, 0, time.UTC)

	query := extractQuery
	args := []any{startDate}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "aact: extract query")
	}
	defer rows.Close()

	now := time.Now().UTC()
	var trials []model.Trial
	for rows.Next() {
		trial, err := scanTrial(rows, now)
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aact: extract rows")
	}
	return trials, nil
}

func scanTrial(row pgx.Row, now time.Time) (model.Trial, error) {
	var (
		trial          model.Trial
		whyStopped     *string
		startDate      *time.Time
		completionDate *time.Time
		description    *string
		sponsor        *string
	)
	err := row.Scan(
		&trial.NCTID,
		&trial.Title,
		&trial.Phase,
		&trial.OverallStatus,
		&whyStopped,
		&startDate,
		&completionDate,
		&trial.DrugName,
		&trial.InterventionType,
		&description,
		&sponsor,
	)
	if err != nil {
		return model.Trial{}, eris.Wrap(err, "aact: scan trial row")
	}

	if whyStopped != nil {
		trial.WhyStopped = *whyStopped
	}
	if startDate != nil {
		trial.StartDate = startDate.Format("2006-01-02")
	}
	if completionDate != nil {
		trial.CompletionDate = completionDate.Format("2006-01-02")
	}
	if description != nil {
		trial.DrugDescription = *description
	}
	if sponsor != nil {
		trial.Sponsor = *sponsor
	}

	trial.Status = model.NewEnrichmentStatus(now)
	return trial, nil
}

// DetailedDescription returns the AACT detailed description for a
// trial, or "" when none is recorded.
func (c *Client) DetailedDescription(ctx context.Context, nctID string) (string, error) {
	var description *string
	err := c.pool.QueryRow(ctx,
		"SELECT description FROM ctgov.detailed_descriptions WHERE nct_id = $1",
		nctID,
	).Scan(&description)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrap(err, "aact: detailed description")
	}
	if description == nil {
		return "", nil
	}
	return *description, nil
}

// Documents returns registry document references for a trial.
func (c *Client) Documents(ctx context.Context, nctID string) ([]model.TrialDocument, error) {
	rows, err := c.pool.Query(ctx,
		"SELECT document_type, url FROM ctgov.documents WHERE nct_id = $1",
		nctID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "aact: documents query")
	}
	defer rows.Close()

	var docs []model.TrialDocument
	for rows.Next() {
		var doc model.TrialDocument
		if err := rows.Scan(&doc.Type, &doc.URL); err != nil {
			return nil, eris.Wrap(err, "aact: scan document row")
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aact: document rows")
	}
	return docs, nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}
