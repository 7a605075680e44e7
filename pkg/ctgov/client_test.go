package ctgov

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexbio/trials-cli/internal/fetch"
)

func newTestFetcher() *fetch.Client {
	return fetch.NewClient(fetch.Options{DefaultInterval: time.Millisecond})
}

const studyWithResults = `{
	"protocolSection": {
		"descriptionModule": {
			"briefSummary": "A phase 2 trial.",
			"detailedDescription": "Full protocol description."
		},
		"armsInterventionsModule": {
			"armGroups": [
				{"label": "Drug 50mg", "type": "EXPERIMENTAL", "description": "50mg daily", "interventionNames": ["Drug: X 50mg"]},
				{"label": "Placebo", "type": "PLACEBO_COMPARATOR", "description": "matching placebo", "interventionNames": ["Drug: Placebo"]}
			],
			"interventions": [
				{"type": "DRUG", "name": "X", "description": "oral, 50mg", "armGroupLabels": ["Drug 50mg"]}
			]
		}
	},
	"resultsSection": {
		"adverseEventsModule": {
			"frequencyThreshold": "5",
			"timeFrame": "12 months",
			"seriousEvents": {
				"eventGroups": [
					{
						"title": "Drug 50mg",
						"deathsNumAffected": 2,
						"seriousNumAffected": 15,
						"seriousNumAtRisk": 100,
						"seriousEvents": [
							{"term": "Hepatotoxicity", "assessmentType": "SYSTEMATIC_ASSESSMENT",
							 "stats": [{"numAffected": 8, "numAtRisk": 100}]}
						]
					}
				]
			},
			"otherEvents": {
				"eventGroups": [
					{
						"title": "Drug 50mg",
						"otherNumAffected": 40,
						"otherNumAtRisk": 100,
						"otherEvents": [
							{"term": "Nausea", "stats": [{"numAffected": 30, "numAtRisk": 100}]}
						]
					}
				]
			}
		}
	}
}`

func TestStudy_WithResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies/NCT01234567", r.URL.Path)
		w.Write([]byte(studyWithResults))
	}))
	defer server.Close()

	c := NewClient(newTestFetcher(), WithBaseURL(server.URL))
	study, err := c.Study(context.Background(), "NCT01234567")
	require.NoError(t, err)

	assert.True(t, study.HasResults)
	assert.Equal(t, "A phase 2 trial.", study.BriefSummary)
	assert.Equal(t, "Full protocol description.", study.DetailedDescription)

	ae := study.AdverseEvents
	require.True(t, ae.Found)
	assert.Equal(t, "12 months", ae.TimeFrame)
	require.Len(t, ae.SeriousEvents, 1)
	assert.Equal(t, 2, ae.SeriousEvents[0].Deaths)
	require.Len(t, ae.SeriousEvents[0].Events, 1)
	assert.Equal(t, "Hepatotoxicity", ae.SeriousEvents[0].Events[0].Term)
	assert.Equal(t, 8, ae.SeriousEvents[0].Events[0].Affected)

	require.Len(t, ae.OtherEvents, 1)
	assert.Equal(t, 40, ae.OtherEvents[0].Affected)

	assert.Equal(t, 2, ae.Summary.TotalDeaths)
	assert.Equal(t, 15, ae.Summary.TotalSeriousAffected)
	assert.Equal(t, 100, ae.Summary.TotalSeriousAtRisk)
	assert.InDelta(t, 0.15, ae.Summary.SAERate, 1e-9)
	assert.InDelta(t, 0.02, ae.Summary.DeathRate, 1e-9)
	assert.True(t, ae.Summary.HasSafetySignal)

	dose := study.DoseInfo
	require.True(t, dose.Found)
	require.Len(t, dose.Arms, 2)
	assert.Equal(t, "Drug 50mg", dose.Arms[0].Label)
	require.Len(t, dose.Interventions, 1)
	assert.Equal(t, "X", dose.Interventions[0].Name)
}

func TestStudy_NoResultsSection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"protocolSection": {"descriptionModule": {"briefSummary": "No results posted."}}}`))
	}))
	defer server.Close()

	c := NewClient(newTestFetcher(), WithBaseURL(server.URL))
	study, err := c.Study(context.Background(), "NCT09999999")
	require.NoError(t, err)

	assert.False(t, study.HasResults)
	assert.False(t, study.AdverseEvents.Found)
	assert.False(t, study.DoseInfo.Found)
}

func TestSummarizeSAE_SafetySignalThresholds(t *testing.T) {
	tests := []struct {
		name   string
		groups []EventGroup
		signal bool
	}{
		{
			name:   "no events",
			groups: nil,
			signal: false,
		},
		{
			name:   "low rate no deaths",
			groups: []EventGroup{{SeriousAffected: 5, SeriousAtRisk: 100}},
			signal: false,
		},
		{
			name:   "rate above ten percent",
			groups: []EventGroup{{SeriousAffected: 11, SeriousAtRisk: 100}},
			signal: true,
		},
		{
			name:   "any death",
			groups: []EventGroup{{Deaths: 1, SeriousAffected: 1, SeriousAtRisk: 500}},
			signal: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			summary := summarizeSAE(tc.groups)
			assert.Equal(t, tc.signal, summary.HasSafetySignal)
		})
	}
}
