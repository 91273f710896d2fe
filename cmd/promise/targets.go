package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/promise/internal/archive"
	"github.com/matsen/promise/internal/logging"
	"github.com/matsen/promise/internal/promise"
)

// targetFlags selects which promise items a command works on.
type targetFlags struct {
	count     int
	directURL string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.count, "count", 1, "Number of most recent promise items to process")
	cmd.Flags().StringVar(&f.directURL, "direct-url", "", "Process only this promise item (archive.org URL or identifier)")
}

// identifiers resolves the flags into promise item identifiers, newest first.
func (f *targetFlags) identifiers(ctx context.Context, src *archive.Client) ([]string, error) {
	if f.directURL != "" {
		id, err := archive.IdentifierFromURL(f.directURL)
		if err != nil {
			return nil, failf(ExitError, "%v", err)
		}
		return []string{id}, nil
	}

	if f.count <= 0 {
		return nil, failf(ExitError, "--count must be positive, got %d", f.count)
	}
	ids, err := src.LatestIdentifiers(ctx, f.count)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// TargetError reports a promise item that could not be processed.
type TargetError struct {
	ItemID string `json:"item"`
	Error  string `json:"error"`
}

// loadItem returns the manifest of a promise item. The cached copy wins
// over a fresh download so that ISBN order and membership stay stable
// between check and add-missing.
func (a *app) loadItem(ctx context.Context, id string) (promise.PromiseItem, error) {
	if r, ok := a.cache.Result(id); ok {
		return r.Item, nil
	}

	item, err := a.archive.FetchItem(ctx, id)
	if err != nil {
		return promise.PromiseItem{}, err
	}
	a.logger.Debug("fetched promise item",
		logging.String(logging.FieldItem, id),
		logging.Int("isbns", len(item.ISBNs)))
	return item, nil
}

// forEachTarget runs fn for every target. A failing target is recorded and
// the rest still run; cancellation stops the loop.
func (a *app) forEachTarget(ctx context.Context, ids []string, fn func(promise.PromiseItem) error) ([]TargetError, error) {
	var failures []TargetError
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return failures, err
		}

		item, err := a.loadItem(ctx, id)
		if err == nil {
			err = fn(item)
		}
		if err != nil {
			if ctx.Err() != nil {
				return failures, ctx.Err()
			}
			a.logger.Error("promise item failed",
				logging.String(logging.FieldItem, id),
				logging.Error(err))
			failures = append(failures, TargetError{ItemID: id, Error: err.Error()})
		}
	}
	return failures, nil
}

// targetsError turns per-target failures into the command's error.
func targetsError(failures []TargetError, total int) error {
	if len(failures) == 0 {
		return nil
	}
	return failf(ExitDataError, "%d of %d promise items failed", len(failures), total)
}

func describeTargets(f *targetFlags, ids []string) string {
	if f.directURL != "" {
		return fmt.Sprintf("promise item %s", ids[0])
	}
	return fmt.Sprintf("latest %d promise items", len(ids))
}
