package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/model"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run only the LLM classification stage over pending trials",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner, cleanup, err := buildRunner(ctx, st, model.StageLLMClassify)
		if err != nil {
			return err
		}
		defer cleanup()

		reports, err := runner.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run classification")
		}

		for _, report := range reports {
			zap.L().Info("stage complete",
				zap.String("stage", report.Stage),
				zap.Int("processed", report.Processed),
				zap.Int("done", report.Done),
				zap.Int("queued", report.Queued),
				zap.Int("failed", report.Failed),
				zap.Int("skipped", report.Skipped),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
