package main

import (
	"fmt"

	"github.com/matsen/promise/internal/config"
	"github.com/matsen/promise/internal/index"
	"github.com/matsen/promise/internal/logging"
)

// openIndex rebuilds the SQLite index from the cache and returns it.
// The caller is responsible for calling Close() on the returned DB.
func openIndex(a *app) (*index.DB, error) {
	db, err := index.OpenDB(config.DBPath(a.cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	results, attempts := a.cache.Results(), a.cache.Attempts()
	if err := db.Rebuild(results, attempts); err != nil {
		db.Close()
		return nil, fmt.Errorf("rebuilding index: %w", err)
	}
	a.logger.Debug("rebuilt index",
		logging.Int("results", len(results)),
		logging.Int("attempts", len(attempts)))
	return db, nil
}
