package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/promise/internal/archive"
)

func init() {
	rootCmd.AddCommand(invalidateCmd)
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <item-url-or-id>",
	Short: "Force the next check of a promise item to re-query every ISBN",
	Long: `Mark the cached check result of a promise item as stale. The next check
looks every ISBN up again; ISBNs added since show up as hits. Original misses
and add attempts are kept. The item is given as an archive.org details URL or
a bare identifier.`,
	Args: cobra.ExactArgs(1),
	RunE: runInvalidate,
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Item   string `json:"item,omitempty"`
	Path   string `json:"path,omitempty"`
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	id, err := archive.IdentifierFromURL(args[0])
	if err != nil {
		return failf(ExitError, "%v", err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.tracker.Invalidate(id)
	if err != nil {
		return err
	}
	if !ok {
		return failf(ExitDataError, "no cached check result for %s", id)
	}

	if humanOutput {
		outputHuman("Invalidated %s; the next check re-queries all ISBNs\n", id)
		return nil
	}
	return outputJSON(StatusResponse{Status: "invalidated", Item: id})
}
