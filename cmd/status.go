package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-stage enrichment progress and retry queue depth",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.StageCounts(ctx)
		if err != nil {
			return eris.Wrap(err, "stage counts")
		}
		pending, err := st.CountRetryEntries(ctx)
		if err != nil {
			return eris.Wrap(err, "count retry entries")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-20s %-12s %s\n", "STAGE", "STATUS", "COUNT")
		for _, c := range counts {
			fmt.Fprintf(out, "%-20s %-12s %d\n", c.Stage, c.Status, c.Count)
		}
		fmt.Fprintf(out, "\nretry queue entries: %d\n", pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
