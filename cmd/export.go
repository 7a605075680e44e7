package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/export"
	"github.com/apexbio/trials-cli/internal/model"
)

var (
	exportOutput         string
	exportMinConfidence  string
	exportRequireTargets bool
	exportValidationMode bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ML-ready dataset from classified trials",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		output := exportOutput
		if output == "" {
			output = cfg.Export.Output
		}
		if output == "" {
			return eris.New("output path is required (--output or TRIALS_EXPORT_OUTPUT)")
		}

		minConfidence := model.Confidence(exportMinConfidence)
		if exportMinConfidence == "" {
			minConfidence = model.Confidence(cfg.Export.MinConfidence)
		}
		switch minConfidence {
		case model.ConfidenceLow, model.ConfidenceMedium, model.ConfidenceHigh:
		default:
			return eris.Errorf("invalid min confidence %q (want low, medium, or high)", minConfidence)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if dir := filepath.Dir(output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return eris.Wrap(err, "create output directory")
			}
		}
		file, err := os.Create(output)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer file.Close() //nolint:errcheck

		report, err := export.New(st).Export(ctx, file, export.Options{
			MinConfidence:  minConfidence,
			RequireTargets: exportRequireTargets || cfg.Export.RequireTargets,
			ValidationMode: exportValidationMode,
		})
		if err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("output", output),
			zap.Int("total", report.Total),
			zap.Int("exported", report.Exported),
			zap.Any("dropped", report.Dropped),
			zap.Any("categories", report.Categories),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output dataset file")
	exportCmd.Flags().StringVar(&exportMinConfidence, "min-confidence", "", "minimum classification confidence (low, medium, high)")
	exportCmd.Flags().BoolVar(&exportRequireTargets, "require-targets", false, "only export trials with UniProt targets")
	exportCmd.Flags().BoolVar(&exportValidationMode, "validation-mode", false, "enforce strict completeness for validation datasets")
	rootCmd.AddCommand(exportCmd)
}
