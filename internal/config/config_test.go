package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathFunctions(t *testing.T) {
	dataDir := "/test/data"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ItemsPath", ItemsPath(dataDir), "/test/data/items"},
		{"ItemPath", ItemPath(dataDir, "BWB-2022-09-22"), "/test/data/items/BWB-2022-09-22.json"},
		{"AttemptsPath", AttemptsPath(dataDir), "/test/data/attempts.jsonl"},
		{"MissesPath", MissesPath(dataDir, "BWB-2022-09-22"), "/test/data/BWB-2022-09-22_misses.tsv"},
		{"CachePath", CachePath(dataDir), "/test/data/cache"},
		{"DBPath", DBPath(dataDir), "/test/data/cache/promise.db"},
		{"LockPath", LockPath(dataDir), "/test/data/.promise.lock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestEnsureDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")

	if err := EnsureDataDir(dataDir); err != nil {
		t.Fatalf("EnsureDataDir() error = %v", err)
	}

	for _, dir := range []string{dataDir, ItemsPath(dataDir), CachePath(dataDir)} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	// Idempotent
	if err := EnsureDataDir(dataDir); err != nil {
		t.Errorf("second EnsureDataDir() error = %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}

	tests := []struct {
		input string
		want  string
	}{
		{"~/data", filepath.Join(home, "data")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ExpandPath(tt.input); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
