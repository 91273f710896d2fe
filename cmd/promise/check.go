package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/promise/internal/export"
	"github.com/matsen/promise/internal/logging"
	"github.com/matsen/promise/internal/promise"
)

var (
	checkTargets targetFlags
	checkRefresh bool
)

func init() {
	checkTargets.register(checkCmd)
	checkCmd.Flags().BoolVar(&checkRefresh, "refresh", false, "Re-query every ISBN even if a complete result is cached")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check which ISBNs of promise items are in Open Library",
	Long: `Check hits and misses for the latest promise items, or a single item with
--direct-url.

Complete results are served from the cache. ISBNs whose lookup failed are
retried on the next run. The first time an item is checked its original
misses are also written to <data-dir>/<item>_misses.tsv.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

// CheckSummary is the per-item output of check.
type CheckSummary struct {
	ItemID         string   `json:"item"`
	Total          int      `json:"total"`
	Hits           int      `json:"hits"`
	Misses         int      `json:"misses"`
	Unresolved     int      `json:"unresolved"`
	OriginalMisses int      `json:"original_misses"`
	MissISBNs      []string `json:"miss_isbns"`
	MissesFile     string   `json:"misses_file,omitempty"`
}

// CheckResponse is the output of check.
type CheckResponse struct {
	Items  []CheckSummary `json:"items"`
	Errors []TargetError  `json:"errors,omitempty"`
}

func summarizeCheck(r promise.CheckResult) CheckSummary {
	return CheckSummary{
		ItemID:         r.ItemID(),
		Total:          len(r.Item.ISBNs),
		Hits:           len(r.Hits),
		Misses:         len(r.Misses),
		Unresolved:     len(r.Unresolved),
		OriginalMisses: len(r.OriginalMisses),
		MissISBNs:      r.Misses,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := checkTargets.identifiers(ctx, a.archive)
	if err != nil {
		return err
	}
	if humanOutput {
		outputHuman("Checking %s\n\n", describeTargets(&checkTargets, ids))
	}

	resp := CheckResponse{Items: []CheckSummary{}}
	failures, runErr := a.forEachTarget(ctx, ids, func(item promise.PromiseItem) error {
		if checkRefresh {
			if _, err := a.tracker.Invalidate(item.ID); err != nil {
				return err
			}
		}

		result, err := a.tracker.Check(ctx, item)
		if err != nil {
			return err
		}

		summary := summarizeCheck(result)
		if len(result.Unresolved) == 0 {
			summary.MissesFile = writeMissesOnce(a, result)
		}
		resp.Items = append(resp.Items, summary)

		if humanOutput {
			printCheckSummaryHuman(summary)
		}
		return nil
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

// writeMissesOnce writes the item's original misses TSV unless it already
// exists, and returns its path when written.
func writeMissesOnce(a *app, result promise.CheckResult) string {
	path, err := export.WriteItemMisses(a.cfg.DataDir, result, time.Now())
	switch {
	case err == nil:
		a.logger.Info("wrote original misses",
			logging.String(logging.FieldItem, result.ItemID()),
			logging.String("path", path))
		return path
	case errors.Is(err, export.ErrExists):
		return ""
	default:
		a.logger.Warn("writing original misses failed",
			logging.String(logging.FieldItem, result.ItemID()),
			logging.Error(err))
		return ""
	}
}

func printCheckSummaryHuman(s CheckSummary) {
	outputHuman("Details for %s:\n", s.ItemID)
	outputHuman("Total items: %d\n", s.Total)
	outputHuman("Hits: %d\n", s.Hits)
	outputHuman("Misses: %d\n", s.Misses)
	if s.Unresolved > 0 {
		outputHuman("Unresolved: %d (retried on the next check)\n", s.Unresolved)
	}
	outputHuman("Original miss count: %d\n", s.OriginalMisses)
	if s.MissesFile != "" {
		outputHuman("Original misses written to %s\n", s.MissesFile)
	}
	outputHuman("\n")
}
