package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index from the current corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		res, err := a.Indexer.ReindexAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}

		fmt.Printf("Indexed %d records from %d documents", res.RecordCount, res.Documents)
		if res.Skipped > 0 {
			fmt.Printf(" (%d skipped)", res.Skipped)
		}
		fmt.Printf(" in %s\n", res.Duration.Round(res.Duration/100))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
