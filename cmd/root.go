package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "trials-cli",
	Short: "Clinical trial failure enrichment pipeline",
	Long:  "Extracts terminated drug trials from AACT, enriches them with ChEMBL targets, STRING PPI networks, and failure context, classifies failure reasons via Claude, and exports an ML-ready dataset.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
