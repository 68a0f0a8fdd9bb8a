package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the document corpus",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		docs, err := a.Store.List()
		if err != nil {
			return fmt.Errorf("listing documents: %w", err)
		}
		if len(docs) == 0 {
			fmt.Println("No documents in the corpus.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tTYPE\tSIZE\tADDED\tDESCRIPTION")
		for _, d := range docs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				d.Name, d.Type, d.Size, d.CreatedAt.Format("2006-01-02 15:04"), d.Description)
		}
		return tw.Flush()
	},
}

var docsAddDescription string

var docsAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Add a document to the corpus and rebuild the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		doc, err := a.Store.Add(filepath.Base(args[0]), content, docsAddDescription)
		if err != nil {
			return fmt.Errorf("adding document: %w", err)
		}
		fmt.Printf("Added %s (%d bytes)\n", doc.Name, doc.Size)

		res, err := a.Indexer.ReindexAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("document stored, but reindex failed: %w", err)
		}
		fmt.Printf("Index rebuilt: %d records\n", res.RecordCount)
		return nil
	},
}

var docsRmCmd = &cobra.Command{
	Use:   "rm <filename>",
	Short: "Remove a document from the corpus and rebuild the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		if err := a.Store.Delete(args[0]); err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		fmt.Printf("Removed %s\n", args[0])

		res, err := a.Indexer.ReindexAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("document removed, but reindex failed: %w", err)
		}
		fmt.Printf("Index rebuilt: %d records\n", res.RecordCount)
		return nil
	},
}

func init() {
	docsAddCmd.Flags().StringVarP(&docsAddDescription, "description", "d", "",
		"free-text description stored alongside the document")

	docsCmd.AddCommand(docsListCmd, docsAddCmd, docsRmCmd)
	rootCmd.AddCommand(docsCmd)
}
