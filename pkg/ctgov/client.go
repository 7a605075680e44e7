// Package ctgov provides a client for the ClinicalTrials.gov API v2,
// including adverse-event results parsing.
package ctgov

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher performs rate-limited JSON GETs keyed by source id.
type Fetcher interface {
	GetJSON(ctx context.Context, source, url string, out any) error
}

// Client defines the ClinicalTrials.gov operations used for
// failure-detail enrichment.
type Client interface {
	// Study fetches a study record and parses its results section.
	Study(ctx context.Context, nctID string) (*Study, error)
}

// Study is a parsed study record.
type Study struct {
	HasResults          bool          `json:"has_results"`
	BriefSummary        string        `json:"brief_summary,omitempty"`
	DetailedDescription string        `json:"detailed_description,omitempty"`
	AdverseEvents       AdverseEvents `json:"adverse_events"`
	DoseInfo            DoseInfo      `json:"dose_info"`
}

// AdverseEvents is the parsed adverse-events module.
type AdverseEvents struct {
	Found              bool         `json:"found"`
	FrequencyThreshold string       `json:"frequency_threshold,omitempty"`
	TimeFrame          string       `json:"time_frame,omitempty"`
	Description        string       `json:"description,omitempty"`
	SeriousEvents      []EventGroup `json:"serious_events,omitempty"`
	OtherEvents        []EventGroup `json:"other_events,omitempty"`
	Summary            SAESummary   `json:"summary"`
}

// EventGroup is an arm-level grouping of adverse events.
type EventGroup struct {
	Title           string  `json:"title"`
	Deaths          int     `json:"deaths,omitempty"`
	SeriousAffected int     `json:"serious_affected,omitempty"`
	SeriousAtRisk   int     `json:"serious_at_risk,omitempty"`
	Affected        int     `json:"affected,omitempty"`
	AtRisk          int     `json:"at_risk,omitempty"`
	Events          []Event `json:"events"`
}

// Event is a single adverse-event term within a group.
type Event struct {
	Term        string `json:"term"`
	OrganSystem string `json:"organ_system,omitempty"`
	Affected    int    `json:"affected"`
	AtRisk      int    `json:"at_risk"`
}

// SAESummary aggregates serious adverse events across groups.
type SAESummary struct {
	TotalDeaths          int     `json:"total_deaths"`
	TotalSeriousAffected int     `json:"total_serious_affected"`
	TotalSeriousAtRisk   int     `json:"total_serious_at_risk"`
	SAERate              float64 `json:"sae_rate"`
	DeathRate            float64 `json:"death_rate"`
	HasSafetySignal      bool    `json:"has_safety_signal"`
}

// DoseInfo holds dosing details from the arms/interventions module.
type DoseInfo struct {
	Found         bool           `json:"found"`
	Arms          []Arm          `json:"arms,omitempty"`
	Interventions []Intervention `json:"interventions,omitempty"`
}

// Arm is a study arm.
type Arm struct {
	Label             string   `json:"label"`
	Type              string   `json:"type"`
	Description       string   `json:"description,omitempty"`
	InterventionNames []string `json:"intervention_names,omitempty"`
}

// Intervention is a study intervention.
type Intervention struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	ArmGroupLabels []string `json:"arm_group_labels,omitempty"`
}

// Raw API v2 response shapes.
type studyResponse struct {
	ProtocolSection struct {
		DescriptionModule struct {
			BriefSummary        string `json:"briefSummary"`
			DetailedDescription string `json:"detailedDescription"`
		} `json:"descriptionModule"`
		ArmsInterventionsModule *armsModule `json:"armsInterventionsModule"`
	} `json:"protocolSection"`
	ResultsSection *struct {
		AdverseEventsModule *aeModule `json:"adverseEventsModule"`
	} `json:"resultsSection"`
}

type armsModule struct {
	ArmGroups []struct {
		Label             string   `json:"label"`
		Type              string   `json:"type"`
		Description       string   `json:"description"`
		InterventionNames []string `json:"interventionNames"`
	} `json:"armGroups"`
	Interventions []struct {
		Type           string   `json:"type"`
		Name           string   `json:"name"`
		Description    string   `json:"description"`
		ArmGroupLabels []string `json:"armGroupLabels"`
	} `json:"interventions"`
}

type aeModule struct {
	FrequencyThreshold string `json:"frequencyThreshold"`
	TimeFrame          string `json:"timeFrame"`
	Description        string `json:"description"`
	SeriousEvents      struct {
		EventGroups []aeGroup `json:"eventGroups"`
	} `json:"seriousEvents"`
	OtherEvents struct {
		EventGroups []aeGroup `json:"eventGroups"`
	} `json:"otherEvents"`
}

type aeGroup struct {
	Title             string    `json:"title"`
	DeathsNumAffected int       `json:"deathsNumAffected"`
	SeriousAffected   int       `json:"seriousNumAffected"`
	SeriousAtRisk     int       `json:"seriousNumAtRisk"`
	OtherAffected     int       `json:"otherNumAffected"`
	OtherAtRisk       int       `json:"otherNumAtRisk"`
	SeriousEvents     []aeEvent `json:"seriousEvents"`
	OtherEvents       []aeEvent `json:"otherEvents"`
}

type aeEvent struct {
	Term           string `json:"term"`
	AssessmentType string `json:"assessmentType"`
	Stats          []struct {
		NumAffected int `json:"numAffected"`
		NumAtRisk   int `json:"numAtRisk"`
	} `json:"stats"`
}

// Option configures the ClinicalTrials.gov client.
type Option func(*client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *client) {
		c.baseURL = url
	}
}

type client struct {
	fetcher Fetcher
	source  string
	baseURL string
}

// NewClient creates a ClinicalTrials.gov client backed by the shared
// fetcher.
func NewClient(fetcher Fetcher, opts ...Option) Client {
	c := &client{
		fetcher: fetcher,
		source:  "ctgov",
		baseURL: "https://clinicaltrials.gov/api/v2",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) Study(ctx context.Context, nctID string) (*Study, error) {
	reqURL := fmt.Sprintf("%s/studies/%s", c.baseURL, url.PathEscape(nctID))

	var resp studyResponse
	if err := c.fetcher.GetJSON(ctx, c.source, reqURL, &resp); err != nil {
		return nil, eris.Wrap(err, "ctgov: fetch study")
	}

	study := &Study{
		HasResults:          resp.ResultsSection != nil,
		BriefSummary:        resp.ProtocolSection.DescriptionModule.BriefSummary,
		DetailedDescription: resp.ProtocolSection.DescriptionModule.DetailedDescription,
		DoseInfo:            parseDoseInfo(resp.ProtocolSection.ArmsInterventionsModule),
	}
	if resp.ResultsSection != nil {
		study.AdverseEvents = parseAdverseEvents(resp.ResultsSection.AdverseEventsModule)
	}
	return study, nil
}

func parseAdverseEvents(mod *aeModule) AdverseEvents {
	if mod == nil {
		return AdverseEvents{}
	}

	out := AdverseEvents{
		Found:              true,
		FrequencyThreshold: mod.FrequencyThreshold,
		TimeFrame:          mod.TimeFrame,
		Description:        mod.Description,
	}

	for _, group := range mod.SeriousEvents.EventGroups {
		parsed := EventGroup{
			Title:           group.Title,
			Deaths:          group.DeathsNumAffected,
			SeriousAffected: group.SeriousAffected,
			SeriousAtRisk:   group.SeriousAtRisk,
			Events:          parseEvents(group.SeriousEvents),
		}
		out.SeriousEvents = append(out.SeriousEvents, parsed)
	}
	for _, group := range mod.OtherEvents.EventGroups {
		parsed := EventGroup{
			Title:    group.Title,
			Affected: group.OtherAffected,
			AtRisk:   group.OtherAtRisk,
			Events:   parseEvents(group.OtherEvents),
		}
		out.OtherEvents = append(out.OtherEvents, parsed)
	}

	out.Summary = summarizeSAE(out.SeriousEvents)
	return out
}

func parseEvents(events []aeEvent) []Event {
	parsed := make([]Event, 0, len(events))
	for _, event := range events {
		e := Event{Term: event.Term, OrganSystem: event.AssessmentType}
		if len(event.Stats) > 0 {
			e.Affected = event.Stats[0].NumAffected
			e.AtRisk = event.Stats[0].NumAtRisk
		}
		parsed = append(parsed, e)
	}
	return parsed
}

// summarizeSAE aggregates deaths and SAE counts across serious event
// groups. A safety signal means an SAE rate above 10% or any death.
func summarizeSAE(groups []EventGroup) SAESummary {
	var summary SAESummary
	for _, group := range groups {
		summary.TotalDeaths += group.Deaths
		summary.TotalSeriousAffected += group.SeriousAffected
		if group.SeriousAtRisk > summary.TotalSeriousAtRisk {
			summary.TotalSeriousAtRisk = group.SeriousAtRisk
		}
	}
	if summary.TotalSeriousAtRisk > 0 {
		summary.SAERate = float64(summary.TotalSeriousAffected) / float64(summary.TotalSeriousAtRisk)
		summary.DeathRate = float64(summary.TotalDeaths) / float64(summary.TotalSeriousAtRisk)
	}
	summary.HasSafetySignal = summary.SAERate > 0.1 || summary.TotalDeaths > 0
	return summary
}

func parseDoseInfo(mod *armsModule) DoseInfo {
	if mod == nil {
		return DoseInfo{}
	}

	out := DoseInfo{Found: true}
	for _, arm := range mod.ArmGroups {
		out.Arms = append(out.Arms, Arm{
			Label:             arm.Label,
			Type:              arm.Type,
			Description:       arm.Description,
			InterventionNames: arm.InterventionNames,
		})
	}
	for _, intervention := range mod.Interventions {
		out.Interventions = append(out.Interventions, Intervention{
			Type:           intervention.Type,
			Name:           intervention.Name,
			Description:    intervention.Description,
			ArmGroupLabels: intervention.ArmGroupLabels,
		})
	}
	return out
}
