package aact

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func extractColumns() []string {
	return []string{
		"nct_id", "brief_title", "phase", "overall_status", "why_stopped",
		"start_date", "completion_date", "name", "intervention_type",
		"description", "name",
	}
}

func TestExtractTrials(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	startDate := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	completionDate := time.Date(2021, 7, 15, 0, 0, 0, 0, time.UTC)
	whyStopped := "Lack of efficacy"
	description := "oral kinase inhibitor"
	sponsor := "Apex Pharma Inc"

	mock.ExpectQuery("SELECT DISTINCT").
		WithArgs(time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(pgxmock.NewRows(extractColumns()).
			AddRow("NCT01234567", "Phase 2 Study of X", "PHASE2", "TERMINATED",
				&whyStopped, &startDate, &completionDate, "Drug X", "DRUG",
				&description, &sponsor).
			AddRow("NCT07654321", "Phase 1 Study of Y", "PHASE1", "WITHDRAWN",
				nil, nil, nil, "Biologic Y", "BIOLOGICAL", nil, nil))

	client := NewClient(mock)
	trials, err := client.ExtractTrials(context.Background(), ExtractOptions{StartYear: 2010})
	require.NoError(t, err)
	require.Len(t, trials, 2)

	first := trials[0]
	assert.Equal(t, "NCT01234567", first.NCTID)
	assert.Equal(t, "Drug X", first.DrugName)
	assert.Equal(t, "PHASE2", first.Phase)
	assert.Equal(t, "TERMINATED", first.OverallStatus)
	assert.Equal(t, "Lack of efficacy", first.WhyStopped)
	assert.Equal(t, "2019-03-01", first.StartDate)
	assert.Equal(t, "2021-07-15", first.CompletionDate)
	assert.Equal(t, "Apex Pharma Inc", first.Sponsor)
	assert.Equal(t, model.StagePending, first.Status.Stage(model.StageTargets))
	assert.False(t, first.Status.ExtractedAt.IsZero())

	second := trials[1]
	assert.Empty(t, second.WhyStopped)
	assert.Empty(t, second.StartDate)
	assert.Empty(t, second.Sponsor)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractTrials_Limit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT DISTINCT.+LIMIT").
		WithArgs(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), 10).
		WillReturnRows(pgxmock.NewRows(extractColumns()))

	client := NewClient(mock)
	trials, err := client.ExtractTrials(context.Background(), ExtractOptions{StartYear: 2015, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, trials)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailedDescription(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	text := "The study was stopped after interim analysis."
	mock.ExpectQuery("SELECT description FROM ctgov.detailed_descriptions").
		WithArgs("NCT01234567").
		WillReturnRows(pgxmock.NewRows([]string{"description"}).AddRow(&text))

	client := NewClient(mock)
	description, err := client.DetailedDescription(context.Background(), "NCT01234567")
	require.NoError(t, err)
	assert.Equal(t, text, description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailedDescription_NoRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT description FROM ctgov.detailed_descriptions").
		WithArgs("NCT00000000").
		WillReturnError(pgx.ErrNoRows)

	client := NewClient(mock)
	description, err := client.DetailedDescription(context.Background(), "NCT00000000")
	require.NoError(t, err)
	assert.Empty(t, description)
}

func TestDocuments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT document_type, url FROM ctgov.documents").
		WithArgs("NCT01234567").
		WillReturnRows(pgxmock.NewRows([]string{"document_type", "url"}).
			AddRow("Study Protocol", "https://example.org/protocol.pdf").
			AddRow("Statistical Analysis Plan", "https://example.org/sap.pdf"))

	client := NewClient(mock)
	docs, err := client.Documents(context.Background(), "NCT01234567")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Study Protocol", docs[0].Type)
	assert.Equal(t, "https://example.org/sap.pdf", docs[1].URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}
