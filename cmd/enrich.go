package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/aact"
	"github.com/apexbio/trials-cli/internal/classify"
	"github.com/apexbio/trials-cli/internal/enrich"
	"github.com/apexbio/trials-cli/internal/fetch"
	"github.com/apexbio/trials-cli/internal/resilience"
	"github.com/apexbio/trials-cli/internal/store"
	"github.com/apexbio/trials-cli/pkg/anthropic"
	"github.com/apexbio/trials-cli/pkg/chembl"
	"github.com/apexbio/trials-cli/pkg/ctgov"
	"github.com/apexbio/trials-cli/pkg/pubchem"
	"github.com/apexbio/trials-cli/pkg/pubmed"
	"github.com/apexbio/trials-cli/pkg/stringdb"
	"github.com/apexbio/trials-cli/pkg/uniprot"
)

var enrichSweepFirst bool

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run all enrichment stages over pending trials",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner, cleanup, err := buildRunner(ctx, st, "")
		if err != nil {
			return err
		}
		defer cleanup()

		if enrichSweepFirst {
			sweep, err := runner.Sweep(ctx)
			if err != nil {
				return eris.Wrap(err, "sweep retry queue")
			}
			zap.L().Info("retry sweep complete",
				zap.Int("eligible", sweep.Eligible),
				zap.Int("succeeded", sweep.Succeeded),
				zap.Int("rescheduled", sweep.Rescheduled),
				zap.Int("exhausted", sweep.Exhausted),
				zap.Int("deferred", sweep.Deferred),
			)
		}

		reports, err := runner.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run enrichment")
		}

		for _, report := range reports {
			zap.L().Info("stage complete",
				zap.String("stage", report.Stage),
				zap.Int("processed", report.Processed),
				zap.Int("done", report.Done),
				zap.Int("empty", report.Empty),
				zap.Int("queued", report.Queued),
				zap.Int("failed", report.Failed),
				zap.Int("skipped", report.Skipped),
			)
		}
		return nil
	},
}

// buildRunner wires the fetch client, source clients, classifier, and
// stage config into a runner. A non-empty only restricts the runner to
// that single stage. Credential and config problems surface here,
// before any record is touched.
func buildRunner(ctx context.Context, st store.Store, only string) (*enrich.Runner, func(), error) {
	stagesCfg, err := enrich.LoadStagesFile(cfg.Enrich.StagesFile)
	if err != nil {
		return nil, nil, err
	}

	breakers := resilience.NewSourceBreakers(resilience.CircuitConfig{
		FailureThreshold: cfg.Enrich.CircuitThreshold,
		ResetTimeout:     time.Duration(cfg.Enrich.ResetTimeoutSecs) * time.Second,
	})
	fetcher := fetch.NewClient(fetch.Options{
		Timeout:   time.Duration(cfg.Sources.TimeoutSecs) * time.Second,
		Intervals: cfg.Sources.MinIntervals(),
		Breakers:  breakers,
	})

	deps := enrich.Deps{
		Chembl:   chembl.NewClient(fetcher, chembl.WithBaseURL(cfg.Sources.ChemblBaseURL)),
		Pubchem:  pubchem.NewClient(fetcher, pubchem.WithBaseURL(cfg.Sources.PubchemBaseURL)),
		Uniprot:  uniprot.NewClient(fetcher, uniprot.WithBaseURL(cfg.Sources.UniprotBaseURL)),
		StringDB: stringdb.NewClient(fetcher, stringdb.WithBaseURL(cfg.Sources.StringDBBaseURL)),
		Pubmed:   pubmed.NewClient(fetcher, pubmed.WithBaseURL(cfg.Sources.PubmedBaseURL)),
		CTGov:    ctgov.NewClient(fetcher, ctgov.WithBaseURL(cfg.Sources.CTGovBaseURL)),
	}

	cleanup := func() {}
	if cfg.AACT.DatabaseURL != "" {
		pool, err := aact.Connect(ctx, cfg.AACT.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		deps.AACT = aact.NewClient(pool)
		cleanup = pool.Close
	} else {
		zap.L().Warn("no AACT database configured, failure details will skip registry lookups")
	}

	if stagesCfg.Uses("llm_classify") {
		if cfg.Anthropic.Key == "" {
			cleanup()
			return nil, nil, eris.New("anthropic API key is required for llm_classify (TRIALS_ANTHROPIC_KEY)")
		}
		deps.Classifier = classify.New(
			anthropic.NewClient(cfg.Anthropic.Key),
			st,
			cfg.Anthropic.Model,
			cfg.Anthropic.MaxTokens,
			classify.WithLimiter(fetcher),
		)
	}

	stages, err := stagesCfg.Build(enrich.NewFetcherRegistry(deps))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if only != "" {
		var filtered []enrich.Stage
		for _, stage := range stages {
			if stage.Name == only {
				filtered = append(filtered, stage)
			}
		}
		if len(filtered) == 0 {
			cleanup()
			return nil, nil, eris.Errorf("stage %q is not configured", only)
		}
		stages = filtered
	}

	runner := enrich.NewRunner(st, stages, enrich.WithConcurrency(cfg.Enrich.Concurrency))
	return runner, cleanup, nil
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichSweepFirst, "sweep-first", true, "process eligible retry entries before the main pass")
	rootCmd.AddCommand(enrichCmd)
}
