package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/promise/internal/promise"
)

var (
	addTargets         targetFlags
	addNoSkipAttempted bool
)

func init() {
	addTargets.register(addMissingCmd)
	addMissingCmd.Flags().BoolVar(&addNoSkipAttempted, "no-skip-attempted", false, "Resubmit ISBNs whose earlier add succeeded or failed")
	rootCmd.AddCommand(addMissingCmd)
}

var addMissingCmd = &cobra.Command{
	Use:   "add-missing",
	Short: "Submit missing ISBNs of promise items to Open Library",
	Long: `Submit each missing ISBN of the latest promise items (or --direct-url) to
Open Library for import, recording the outcome of every submission.

Items that were never checked are checked first. By default an ISBN is only
submitted once; failed submissions are usually for ISBNs Open Library cannot
import, so they are retried only with --no-skip-attempted.`,
	Args: cobra.NoArgs,
	RunE: runAddMissing,
}

// AddSummary is the per-item output of add-missing.
type AddSummary struct {
	ItemID    string                  `json:"item"`
	RunID     string                  `json:"run_id"`
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Skipped   int                     `json:"skipped"`
	Attempts  []promise.AttemptRecord `json:"attempts"`
}

// AddResponse is the output of add-missing.
type AddResponse struct {
	Items  []AddSummary  `json:"items"`
	Errors []TargetError `json:"errors,omitempty"`
}

func summarizeAdd(r *promise.AddReport) AddSummary {
	return AddSummary{
		ItemID:    r.ItemID,
		RunID:     r.RunID,
		Succeeded: r.Succeeded(),
		Failed:    r.Failed(),
		Skipped:   len(r.Skipped),
		Attempts:  r.Attempts,
	}
}

func runAddMissing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := addTargets.identifiers(ctx, a.archive)
	if err != nil {
		return err
	}
	if humanOutput {
		outputHuman("Adding missing ISBNs for %s\n\n", describeTargets(&addTargets, ids))
	}

	skipAttempted := !addNoSkipAttempted
	resp := AddResponse{Items: []AddSummary{}}
	failures, runErr := a.forEachTarget(ctx, ids, func(item promise.PromiseItem) error {
		report, err := a.tracker.AddMissing(ctx, item, skipAttempted)
		if report != nil {
			summary := summarizeAdd(report)
			resp.Items = append(resp.Items, summary)
			if humanOutput {
				printAddSummaryHuman(summary)
			}
		}
		return err
	})
	resp.Errors = failures

	if humanOutput {
		printTargetErrorsHuman(failures)
	} else if err := outputJSON(resp); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	return targetsError(failures, len(ids))
}

func printAddSummaryHuman(s AddSummary) {
	outputHuman("Added items for %s (run %s)\n", s.ItemID, s.RunID)
	if len(s.Attempts) > 0 {
		rows := make([][]string, 0, len(s.Attempts))
		for _, a := range s.Attempts {
			rows = append(rows, []string{a.ISBN, outcomeLabel(a.Outcome), a.LastError})
		}
		outputHuman("%s\n", renderTable([]string{"ISBN", "Outcome", "Error"}, rows, nil))
	}
	outputHuman("Succeeded: %d  Failed: %d  Skipped: %d\n\n", s.Succeeded, s.Failed, s.Skipped)
}
