// Package config handles the data directory layout and tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	ItemsDir     = "items"
	AttemptsFile = "attempts.jsonl"
	CacheDir     = "cache"
	DBFile       = "promise.db"
	LockFile     = ".promise.lock"
	MissesSuffix = "_misses.tsv"
)

// ItemsPath returns the directory holding one JSON file per checked promise item.
func ItemsPath(dataDir string) string {
	return filepath.Join(dataDir, ItemsDir)
}

// ItemPath returns the JSON result file for a promise item.
func ItemPath(dataDir, id string) string {
	return filepath.Join(dataDir, ItemsDir, id+".json")
}

// AttemptsPath returns the path to attempts.jsonl.
func AttemptsPath(dataDir string) string {
	return filepath.Join(dataDir, AttemptsFile)
}

// MissesPath returns the TSV of original misses for a promise item.
func MissesPath(dataDir, id string) string {
	return filepath.Join(dataDir, id+MissesSuffix)
}

// CachePath returns the path to the ephemeral cache directory.
func CachePath(dataDir string) string {
	return filepath.Join(dataDir, CacheDir)
}

// DBPath returns the path to the ephemeral SQLite index.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, CacheDir, DBFile)
}

// LockPath returns the path of the data directory lock file.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, LockFile)
}

// EnsureDataDir creates the data directory and its subdirectories if needed.
func EnsureDataDir(dataDir string) error {
	for _, dir := range []string{dataDir, ItemsPath(dataDir), CachePath(dataDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
