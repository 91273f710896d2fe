// Package main provides the promise CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// Global flags.
var (
	humanOutput bool
	configPath  string
	dataDirFlag string
)

func main() {
	// A missing .env is normal; anything else is worth a warning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	os.Exit(reportError(err))
}

var rootCmd = &cobra.Command{
	Use:   "promise",
	Short: "Check promise items against Open Library and add what is missing",
	Long: `promise checks the ISBNs of archive.org promise items (donation manifests)
against the Open Library catalog and submits the missing ones for import.

Check results and add attempts are cached in the data directory, so repeated
runs only query what is still unknown and never resubmit an ISBN twice unless
asked to. All commands output JSON by default; use --human for text.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/promise/config.yml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (overrides config)")
	rootCmd.Version = Version
}
