// Package classify assigns a failure category to each terminated trial
// using a two-pass Claude analysis with self-verification, a
// deterministic safety override, and a persistent response cache.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/fetch"
	"github.com/apexbio/trials-cli/internal/model"
	"github.com/apexbio/trials-cli/internal/resilience"
	"github.com/apexbio/trials-cli/pkg/anthropic"
)

// Cache is the classification cache surface, keyed by trial-intervention
// pair id so repeated runs never pay for the same analysis twice.
type Cache interface {
	GetCachedClassification(ctx context.Context, trialID string) (*model.Classification, error)
	SetCachedClassification(ctx context.Context, trialID string, c *model.Classification) error
}

// RateLimiter paces outbound API calls per source. *fetch.Client
// satisfies it.
type RateLimiter interface {
	Wait(ctx context.Context, source string) error
}

// Classifier implements the llm_classify stage.
type Classifier struct {
	client    anthropic.Client
	cache     Cache
	limiter   RateLimiter
	model     string
	maxTokens int64
	nowFunc   func() time.Time
}

// Option configures the classifier.
type Option func(*Classifier)

// WithNowFunc overrides the clock (for tests).
func WithNowFunc(now func() time.Time) Option {
	return func(c *Classifier) {
		c.nowFunc = now
	}
}

// WithLimiter paces LLM calls through the shared per-source limiter.
func WithLimiter(limiter RateLimiter) Option {
	return func(c *Classifier) {
		c.limiter = limiter
	}
}

// New creates a classifier.
func New(client anthropic.Client, cache Cache, modelID string, maxTokens int64, opts ...Option) *Classifier {
	c := &Classifier{
		client:    client,
		cache:     cache,
		model:     modelID,
		maxTokens: maxTokens,
		nowFunc:   time.Now,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 1000
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements the stage fetcher contract.
func (c *Classifier) Name() string { return "llm_classify" }

// Fetch classifies one trial. Order of checks: cache, deterministic
// safety heuristics, then the two-pass LLM analysis. Auth and
// configuration errors are fatal; API availability problems are
// recoverable.
func (c *Classifier) Fetch(ctx context.Context, trial *model.Trial) (any, error) {
	log := zap.L().With(zap.String("nct_id", trial.NCTID))

	if c.cache != nil {
		cached, err := c.cache.GetCachedClassification(ctx, trial.Key())
		if err != nil {
			return nil, resilience.NewFetchError(resilience.KindTransient, fetch.SourceAnthropic, 0,
				eris.Wrap(err, "classify: read cache"))
		}
		if cached != nil {
			log.Debug("classification cache hit")
			return cached, nil
		}
	}

	if override := c.safetyOverride(trial); override != nil {
		log.Info("safety heuristic override, skipping llm analysis",
			zap.String("reason", override.Reasoning))
		return c.finish(ctx, trial.Key(), override)
	}

	result, err := c.analyze(ctx, trial)
	if err != nil {
		return nil, err
	}
	return c.finish(ctx, trial.Key(), result)
}

func (c *Classifier) finish(ctx context.Context, trialID string, result *model.Classification) (any, error) {
	if c.cache != nil {
		if err := c.cache.SetCachedClassification(ctx, trialID, result); err != nil {
			return nil, resilience.NewFetchError(resilience.KindTransient, fetch.SourceAnthropic, 0,
				eris.Wrap(err, "classify: write cache"))
		}
	}
	return result, nil
}

// safetyOverride applies deterministic rules that outrank the LLM: any
// reported death, an SAE rate above 10%, or a flagged safety signal
// all mean FAILURE_SAFETY at high confidence with zero tokens spent.
func (c *Classifier) safetyOverride(trial *model.Trial) *model.Classification {
	summary := saeSummary(trial)
	if summary == nil {
		return nil
	}

	var reason string
	switch {
	case summary.TotalDeaths > 0:
		reason = fmt.Sprintf("Heuristic override: %d death(s) reported in trial", summary.TotalDeaths)
	case summary.SAERate > 0.1:
		reason = fmt.Sprintf("Heuristic override: SAE rate %.1f%% exceeds 10%% threshold", summary.SAERate*100)
	case summary.HasSafetySignal:
		reason = fmt.Sprintf("Heuristic override: Serious adverse events (%d/%d affected)",
			summary.TotalSeriousAffected, summary.TotalSeriousAtRisk)
	default:
		return nil
	}

	return &model.Classification{
		Category:          model.FailureSafety,
		Confidence:        model.ConfidenceHigh,
		Reasoning:         reason,
		HeuristicOverride: true,
		SAESummary:        summary,
		AnalyzedAt:        c.nowFunc().UTC(),
	}
}

// saeSummary digs the serious-adverse-event summary out of the
// failure-details payload, if that stage found one.
func saeSummary(trial *model.Trial) *model.SAESummary {
	raw := trial.Payload(model.StageFailureDetails)
	if raw == nil {
		return nil
	}
	var failure model.FailureEnrichment
	if err := json.Unmarshal(raw, &failure); err != nil {
		return nil
	}
	if failure.ClinicalTrialsAPI == nil || failure.ClinicalTrialsAPI.AdverseEvents == nil {
		return nil
	}
	ae := failure.ClinicalTrialsAPI.AdverseEvents
	if !ae.Found {
		return nil
	}
	summary := ae.Summary
	return &summary
}

// analyze runs the two LLM passes and combines them.
func (c *Classifier) analyze(ctx context.Context, trial *model.Trial) (*model.Classification, error) {
	log := zap.L().With(zap.String("nct_id", trial.NCTID))

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	classifyResp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.Message{
			{Role: "user", Content: classificationPrompt(trial)},
		},
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	initial := parseClassification(classifyResp.Text())
	log.Debug("initial classification",
		zap.String("category", string(initial.Category)),
		zap.String("confidence", string(initial.Confidence)),
	)

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	verifyResp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.Message{
			{Role: "user", Content: verificationPrompt(trial, initial)},
		},
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	verification := parseVerification(verifyResp.Text())

	usage := anthropic.TokenUsage{
		InputTokens:  classifyResp.Usage.InputTokens + verifyResp.Usage.InputTokens,
		OutputTokens: classifyResp.Usage.OutputTokens + verifyResp.Usage.OutputTokens,
	}
	usage.LogCost(c.model, "classify")

	category := initial.Category
	if verification.RevisedCategory != "" {
		category = verification.RevisedCategory
	}

	return &model.Classification{
		Category:           category,
		Confidence:         verification.Confidence,
		Reasoning:          initial.Reasoning,
		VerificationPassed: verification.Passed,
		Contradictions:     verification.Contradictions,
		Model:              c.model,
		TokensUsed:         usage.Total(),
		AnalyzedAt:         c.nowFunc().UTC(),
	}, nil
}

// wait blocks on the shared limiter, when one is configured.
func (c *Classifier) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, fetch.SourceAnthropic); err != nil {
		return resilience.NewFetchError(resilience.KindTransient, fetch.SourceAnthropic, 0,
			eris.Wrap(err, "classify: rate limit wait"))
	}
	return nil
}

// classifyAPIError maps Anthropic API failures onto the fetch
// taxonomy. Credential and request problems are fatal; rate limits and
// availability problems go to the retry queue.
func classifyAPIError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "invalid x-api-key") ||
		strings.Contains(msg, "permission"):
		return resilience.NewFetchError(resilience.KindFatal, fetch.SourceAnthropic, 0, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return resilience.NewFetchError(resilience.KindRateLimited, fetch.SourceAnthropic, 429, err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid_request"):
		return resilience.NewFetchError(resilience.KindFatal, fetch.SourceAnthropic, 400, err)
	default:
		return resilience.NewFetchError(resilience.KindTransient, fetch.SourceAnthropic, 0, err)
	}
}
