package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matsen/promise/internal/index"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached promise items with hit, miss and add counts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
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

	summaries, err := db.Summaries()
	if err != nil {
		return err
	}
	if summaries == nil {
		summaries = []index.Summary{}
	}

	if !humanOutput {
		return outputJSON(summaries)
	}

	if len(summaries) == 0 {
		outputHuman("No promise items checked yet\n")
		return nil
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		status := "complete"
		switch {
		case s.Stale:
			status = "stale"
		case s.Unresolved > 0:
			status = "partial"
		}
		rows = append(rows, []string{
			s.ItemID,
			strconv.Itoa(s.ISBNs),
			strconv.Itoa(s.Hits),
			strconv.Itoa(s.Misses),
			strconv.Itoa(s.OriginalMisses),
			strconv.Itoa(s.Succeeded),
			strconv.Itoa(s.Failed),
			status,
			formatTimestamp(s.CheckedAt),
		})
	}
	headers := []string{"Item", "ISBNs", "Hits", "Misses", "Original", "Added", "Failed", "Status", "Checked"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft}
	outputHuman("%s\n", renderTable(headers, rows, aligns))
	return nil
}
