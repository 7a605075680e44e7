package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Process eligible retry queue entries",
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

		report, err := runner.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep retry queue")
		}

		zap.L().Info("retry sweep complete",
			zap.Int("eligible", report.Eligible),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("rescheduled", report.Rescheduled),
			zap.Int("exhausted", report.Exhausted),
			zap.Int("failed", report.Failed),
			zap.Int("deferred", report.Deferred),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
