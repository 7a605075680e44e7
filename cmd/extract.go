package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/aact"
)

var (
	extractStartYear int
	extractLimit     int
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract terminated drug trials from AACT into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.AACT.DatabaseURL == "" {
			return eris.New("AACT database URL is required (TRIALS_AACT_DATABASE_URL)")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pool, err := aact.Connect(ctx, cfg.AACT.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		startYear := extractStartYear
		if startYear == 0 {
			startYear = cfg.AACT.StartYear
		}

		trials, err := aact.NewClient(pool).ExtractTrials(ctx, aact.ExtractOptions{
			StartYear: startYear,
			Limit:     extractLimit,
		})
		if err != nil {
			return eris.Wrap(err, "extract trials")
		}

		// Insert-only: a trial already in the store keeps its enrichment
		// state, so re-running extraction never resets progress.
		created, skipped := 0, 0
		for i := range trials {
			inserted, err := st.InsertTrial(ctx, &trials[i])
			if err != nil {
				return eris.Wrapf(err, "store trial %s", trials[i].Key())
			}
			if inserted {
				created++
			} else {
				skipped++
			}
		}

		zap.L().Info("extraction complete",
			zap.Int("created", created),
			zap.Int("already_present", skipped),
			zap.Int("start_year", startYear),
		)
		return nil
	},
}

func init() {
	extractCmd.Flags().IntVar(&extractStartYear, "start-year", 0, "earliest trial start year (default from config)")
	extractCmd.Flags().IntVar(&extractLimit, "limit", 0, "cap the number of extracted trials (0 = no cap)")
	rootCmd.AddCommand(extractCmd)
}
