package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matsen/promise/internal/export"
)

var missesOutput string

func init() {
	missesCmd.Flags().StringVarP(&missesOutput, "output", "o", "", "Write a TSV to this file (- for stdout)")
	rootCmd.AddCommand(missesCmd)
}

var missesCmd = &cobra.Command{
	Use:   "misses",
	Short: "Export the original misses of every checked promise item",
	Long: `Export every ISBN that was missing from Open Library when its promise item
was first checked, together with the outcome of its latest add attempt.

Rows are printed as JSON (or a table with --human). Use --output to write a
tab-separated file instead, or --output - for TSV on stdout.`,
	Args: cobra.NoArgs,
	RunE: runMisses,
}

func runMisses(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	db, err := openIndex(a)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.OriginalMisses()
	if err != nil {
		return err
	}

	if missesOutput == "-" {
		return export.WriteMisses(stdout, rows)
	}

	if missesOutput != "" {
		f, err := os.Create(missesOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", missesOutput, err)
		}
		if err := export.WriteMisses(f, rows); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", missesOutput, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		if humanOutput {
			outputHuman("Wrote %d original misses to %s\n", len(rows), missesOutput)
			return nil
		}
		return outputJSON(StatusResponse{Status: "written", Path: missesOutput})
	}

	if humanOutput {
		if len(rows) == 0 {
			outputHuman("No original misses recorded\n")
			return nil
		}
		table := make([][]string, 0, len(rows))
		for _, r := range rows {
			table = append(table, []string{r.ItemID, r.ISBN, outcomeLabel(r.Outcome), strconv.Itoa(r.Attempts)})
		}
		outputHuman("%s\n", renderTable(
			[]string{"Item", "ISBN", "Latest outcome", "Attempts"},
			table,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
		))
		return nil
	}

	if rows == nil {
		rows = []export.MissRow{}
	}
	return outputJSON(rows)
}
