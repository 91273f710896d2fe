// Package store persists check results and attempt records under the data
// directory.
//
// Each checked promise item is one JSON file in items/, named by its
// identifier. Attempt records live in attempts.jsonl, one record per line.
// Both are read once by Open and written by Save.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matsen/promise/internal/config"
	"github.com/matsen/promise/internal/logging"
	"github.com/matsen/promise/internal/promise"
)

// Cache is the file-backed promise.Cache. It is not safe for concurrent use;
// use Lock to keep other processes out of the data directory.
type Cache struct {
	dataDir string
	logger  *slog.Logger

	results map[string]promise.CheckResult
	dirty   map[string]bool

	attempts      map[promise.AttemptKey]promise.AttemptRecord
	attemptsDirty bool
}

var _ promise.Cache = (*Cache)(nil)

// Open creates the data directory if needed and loads everything cached in
// it. Missing files mean an empty cache; unreadable item files, an unreadable
// attempts file and malformed attempt lines are logged and skipped.
func Open(dataDir string, logger *slog.Logger) (*Cache, error) {
	if err := config.EnsureDataDir(dataDir); err != nil {
		return nil, err
	}

	c := &Cache{
		dataDir:  dataDir,
		logger:   logging.NewComponentLogger(logger, "store"),
		results:  make(map[string]promise.CheckResult),
		dirty:    make(map[string]bool),
		attempts: make(map[promise.AttemptKey]promise.AttemptRecord),
	}

	if err := c.loadResults(); err != nil {
		return nil, err
	}

	for _, r := range ReadAttempts(config.AttemptsPath(dataDir), c.logger) {
		c.attempts[r.Key()] = r
	}

	c.logger.Debug("loaded cache",
		logging.String("data_dir", dataDir),
		logging.Int("results", len(c.results)),
		logging.Int("attempts", len(c.attempts)))

	return c, nil
}

func (c *Cache) loadResults() error {
	dir := config.ItemsPath(c.dataDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(dir, name)
		result, err := readResult(path)
		if err != nil {
			c.logger.Warn("skipping unreadable check result",
				logging.String(logging.FieldEventType, "result_load_failed"),
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the item will be checked again from scratch"))
			continue
		}
		c.results[result.ItemID()] = result
	}
	return nil
}

func readResult(path string) (promise.CheckResult, error) {
	var result promise.CheckResult
	data, err := os.ReadFile(path)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	want := strings.TrimSuffix(filepath.Base(path), ".json")
	if result.ItemID() != want {
		return result, fmt.Errorf("item id %q does not match file name", result.ItemID())
	}
	return result, nil
}

// Result returns the cached check result for an item.
func (c *Cache) Result(itemID string) (promise.CheckResult, bool) {
	r, ok := c.results[itemID]
	return r, ok
}

// PutResult stores a check result; it is written by the next Save.
func (c *Cache) PutResult(result promise.CheckResult) {
	id := result.ItemID()
	c.results[id] = result
	c.dirty[id] = true
}

// Results returns all cached check results ordered by item ID.
func (c *Cache) Results() []promise.CheckResult {
	out := make([]promise.CheckResult, 0, len(c.results))
	for _, r := range c.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID() < out[j].ItemID() })
	return out
}

// Attempt returns the attempt record for an ISBN of an item.
func (c *Cache) Attempt(itemID, isbn string) (promise.AttemptRecord, bool) {
	r, ok := c.attempts[promise.AttemptKey{ItemID: itemID, ISBN: isbn}]
	return r, ok
}

// PutAttempt stores an attempt record; it is written by the next Save.
func (c *Cache) PutAttempt(record promise.AttemptRecord) {
	c.attempts[record.Key()] = record
	c.attemptsDirty = true
}

// Attempts returns all attempt records ordered by item ID then ISBN.
func (c *Cache) Attempts() []promise.AttemptRecord {
	out := make([]promise.AttemptRecord, 0, len(c.attempts))
	for _, r := range c.attempts {
		out = append(out, r)
	}
	sortAttempts(out)
	return out
}

// AttemptsFor returns the attempt records of one item ordered by ISBN.
func (c *Cache) AttemptsFor(itemID string) []promise.AttemptRecord {
	var out []promise.AttemptRecord
	for k, r := range c.attempts {
		if k.ItemID == itemID {
			out = append(out, r)
		}
	}
	sortAttempts(out)
	return out
}

// Save writes changed check results and, if any attempt changed, the whole
// attempt store.
func (c *Cache) Save() error {
	ids := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := writeJSONAtomic(config.ItemPath(c.dataDir, id), c.results[id]); err != nil {
			return fmt.Errorf("saving result for %s: %w", id, err)
		}
		delete(c.dirty, id)
	}

	if c.attemptsDirty {
		if err := WriteAttempts(config.AttemptsPath(c.dataDir), c.Attempts()); err != nil {
			return fmt.Errorf("saving attempts: %w", err)
		}
		c.attemptsDirty = false
	}

	return nil
}

func sortAttempts(records []promise.AttemptRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ItemID != records[j].ItemID {
			return records[i].ItemID < records[j].ItemID
		}
		return records[i].ISBN < records[j].ISBN
	})
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename so a
// crash never leaves a truncated result behind.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
