package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/matsen/promise/internal/archive"
	"github.com/matsen/promise/internal/config"
	"github.com/matsen/promise/internal/openlibrary"
	"github.com/matsen/promise/internal/store"
)

// Exit codes
const (
	ExitSuccess      = 0   // Success
	ExitError        = 1   // General error (invalid arguments, runtime failure)
	ExitConfigError  = 2   // Configuration error (bad config file or value)
	ExitDataError    = 3   // Data error (item not found, unreadable cache)
	ExitNetworkError = 4   // archive.org or Open Library unreachable
	ExitLocked       = 5   // Another process holds the data directory
	ExitInterrupted  = 130 // Interrupted by SIGINT/SIGTERM
)

// exitError carries the exit code a command failed with.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// failf returns an error that exits with code.
func failf(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, store.ErrLocked):
		return ExitLocked
	case errors.Is(err, config.ErrUnknownKey):
		return ExitConfigError
	case errors.Is(err, archive.ErrNotFound):
		return ExitDataError
	case errors.Is(err, archive.ErrNetworkError),
		errors.Is(err, openlibrary.ErrNetworkError),
		openlibrary.IsTransient(err):
		return ExitNetworkError
	}
	return ExitError
}
