package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/matsen/promise/internal/archive"
	"github.com/matsen/promise/internal/config"
	"github.com/matsen/promise/internal/logging"
	"github.com/matsen/promise/internal/openlibrary"
	"github.com/matsen/promise/internal/promise"
	"github.com/matsen/promise/internal/store"
)

// app holds the collaborators shared by the data commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	lock    *store.Lock
	cache   *store.Cache
	archive *archive.Client
	catalog *openlibrary.Client
	tracker *promise.Tracker
}

// resolvedConfigPath returns --config or the global config location.
func resolvedConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.GlobalConfigPath()
}

// loadConfig loads configuration and applies the --data-dir override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: fmt.Errorf("loading config: %w", err)}
	}
	if dataDirFlag != "" {
		cfg.DataDir = config.ExpandPath(dataDirFlag)
	}
	return cfg, nil
}

// openApp loads configuration, locks the data directory and opens the cache
// and clients. Callers must Close the returned app.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: err}
	}

	lock, err := store.AcquireLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	cache, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		lock.Release()
		return nil, &exitError{code: ExitDataError, err: fmt.Errorf("opening cache: %w", err)}
	}

	timeout, err := cfg.HTTPTimeoutDuration()
	if err != nil {
		lock.Release()
		return nil, &exitError{code: ExitConfigError, err: err}
	}
	addInterval, err := cfg.AddIntervalDuration()
	if err != nil {
		lock.Release()
		return nil, &exitError{code: ExitConfigError, err: err}
	}
	httpClient := &http.Client{Timeout: timeout}

	catalog := openlibrary.NewClient(
		openlibrary.WithHTTPClient(httpClient),
		openlibrary.WithBaseURL(cfg.OpenLibraryURL),
		openlibrary.WithUserAgent(cfg.UserAgent),
		openlibrary.WithSearchRate(cfg.SearchRate),
		openlibrary.WithAddInterval(addInterval),
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		lock:   lock,
		cache:  cache,
		archive: archive.NewClient(
			archive.WithHTTPClient(httpClient),
			archive.WithBaseURL(cfg.ArchiveURL),
			archive.WithUserAgent(cfg.UserAgent),
		),
		catalog: catalog,
		tracker: promise.NewTracker(catalog, cache,
			promise.WithBatchSize(cfg.BatchSize),
			promise.WithLogger(logger),
		),
	}, nil
}

// Close releases the data directory lock.
func (a *app) Close() {
	if err := a.lock.Release(); err != nil {
		a.logger.Warn("releasing data directory lock", logging.Error(err))
	}
}
