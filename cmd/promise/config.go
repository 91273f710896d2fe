package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/promise/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get or set configuration values",
	Long: `Get or set configuration values.

Usage:
  promise config                          # Show all config
  promise config data-dir                 # Get specific value
  promise config data-dir ~/promise-data  # Set value

Keys:
  data-dir         Directory holding cached results and attempts
  openlibrary-url  Open Library base URL
  archive-url      archive.org base URL
  user-agent       User-Agent sent with every request
  batch-size       ISBNs per Open Library search
  search-rate      Open Library searches per second
  add-interval     Pause between add submissions (e.g. 500ms)
  http-timeout     HTTP request timeout (e.g. 30s)
  log-level        debug, info, warn or error
  log-format       console or json (empty picks by terminal)

Values set in the file can be overridden with PROMISE_<KEY> environment
variables, e.g. PROMISE_DATA_DIR.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

// UpdateResponse is the response for config set commands.
type UpdateResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// No args: show all config
	if len(args) == 0 {
		if humanOutput {
			for _, k := range config.Keys {
				v, _ := cfg.Get(k)
				outputHuman("%-16s %s\n", k+":", v)
			}
			return nil
		}
		return outputJSON(cfg.Values())
	}

	key := config.NormalizeKey(args[0])

	// One arg: get specific value
	if len(args) == 1 {
		v, err := cfg.Get(key)
		if err != nil {
			return err
		}
		if humanOutput {
			outputHuman("%s\n", v)
			return nil
		}
		return outputJSON(map[string]string{key: v})
	}

	// Two args: set value. Save from the file's own contents so environment
	// overrides are not persisted.
	path := resolvedConfigPath()
	fileCfg, err := config.LoadFile(path)
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	if err := fileCfg.Set(key, args[1]); err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	if err := fileCfg.Validate(); err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	if err := fileCfg.Save(path); err != nil {
		return err
	}

	value, _ := fileCfg.Get(key)
	if humanOutput {
		outputHuman("Updated %s to %s\n", key, value)
		return nil
	}
	return outputJSON(UpdateResponse{Status: "updated", Key: key, Value: value})
}
