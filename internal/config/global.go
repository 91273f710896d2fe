package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents configuration stored in ~/.config/promise/config.yml.
type Config struct {
	DataDir        string  `yaml:"data_dir"`
	OpenLibraryURL string  `yaml:"openlibrary_url"`
	ArchiveURL     string  `yaml:"archive_url"`
	UserAgent      string  `yaml:"user_agent"`
	BatchSize      int     `yaml:"batch_size"`
	SearchRate     float64 `yaml:"search_rate"`  // search requests per second
	AddInterval    string  `yaml:"add_interval"` // minimum gap between add submissions
	HTTPTimeout    string  `yaml:"http_timeout"`
	LogLevel       string  `yaml:"log_level"`
	LogFormat      string  `yaml:"log_format"` // console, json, or empty for auto
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "promise"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"

	// EnvPrefix prefixes every environment override, e.g. PROMISE_DATA_DIR.
	EnvPrefix = "PROMISE_"
)

// Default returns the configuration used when no file or override is present.
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		OpenLibraryURL: "https://openlibrary.org",
		ArchiveURL:     "https://archive.org",
		UserAgent:      "promise/dev (+https://openlibrary.org)",
		BatchSize:      100,
		SearchRate:     2,
		AddInterval:    "500ms",
		HTTPTimeout:    "30s",
		LogLevel:       "info",
	}
}

// Keys lists the settable configuration keys in the order they are displayed.
var Keys = []string{
	"data-dir",
	"openlibrary-url",
	"archive-url",
	"user-agent",
	"batch-size",
	"search-rate",
	"add-interval",
	"http-timeout",
	"log-level",
	"log-format",
}

// ErrUnknownKey is returned for configuration keys that do not exist.
var ErrUnknownKey = errors.New("unknown configuration key")

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/promise/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// Load reads configuration from path, layering it over Default and then
// applying PROMISE_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.DataDir = ExpandPath(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from path over Default without environment
// overrides, for editing and saving back.
func LoadFile(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		return errors.New("no config path available")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	for _, key := range Keys {
		env := EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := c.Set(key, v); err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
		}
	}
	return nil
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must not be empty")
	}
	for name, raw := range map[string]string{"openlibrary_url": c.OpenLibraryURL, "archive_url": c.ArchiveURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.SearchRate <= 0 {
		return fmt.Errorf("search_rate must be positive, got %v", c.SearchRate)
	}
	if _, err := c.AddIntervalDuration(); err != nil {
		return err
	}
	if _, err := c.HTTPTimeoutDuration(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (valid: console, json)", c.LogFormat)
	}
	return nil
}

// AddIntervalDuration parses AddInterval.
func (c *Config) AddIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.AddInterval)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid add_interval: %q", c.AddInterval)
	}
	return d, nil
}

// HTTPTimeoutDuration parses HTTPTimeout.
func (c *Config) HTTPTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid http_timeout: %q", c.HTTPTimeout)
	}
	return d, nil
}

// NormalizeKey converts key formats (data-dir, data_dir, DATA_DIR) to the
// dashed form used by Keys.
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.ReplaceAll(key, "_", "-")
}

// Get returns the string form of a configuration value.
func (c *Config) Get(key string) (string, error) {
	switch NormalizeKey(key) {
	case "data-dir":
		return c.DataDir, nil
	case "openlibrary-url":
		return c.OpenLibraryURL, nil
	case "archive-url":
		return c.ArchiveURL, nil
	case "user-agent":
		return c.UserAgent, nil
	case "batch-size":
		return strconv.Itoa(c.BatchSize), nil
	case "search-rate":
		return strconv.FormatFloat(c.SearchRate, 'g', -1, 64), nil
	case "add-interval":
		return c.AddInterval, nil
	case "http-timeout":
		return c.HTTPTimeout, nil
	case "log-level":
		return c.LogLevel, nil
	case "log-format":
		return c.LogFormat, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

// Set assigns a configuration value from its string form. The caller is
// responsible for calling Validate afterwards.
func (c *Config) Set(key, value string) error {
	switch NormalizeKey(key) {
	case "data-dir":
		c.DataDir = value
	case "openlibrary-url":
		c.OpenLibraryURL = strings.TrimRight(value, "/")
	case "archive-url":
		c.ArchiveURL = strings.TrimRight(value, "/")
	case "user-agent":
		c.UserAgent = value
	case "batch-size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("batch-size: %w", err)
		}
		c.BatchSize = n
	case "search-rate":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("search-rate: %w", err)
		}
		c.SearchRate = f
	case "add-interval":
		c.AddInterval = value
	case "http-timeout":
		c.HTTPTimeout = value
	case "log-level":
		c.LogLevel = value
	case "log-format":
		c.LogFormat = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

// Values returns every key with its current value.
func (c *Config) Values() map[string]string {
	out := make(map[string]string, len(Keys))
	for _, k := range Keys {
		v, _ := c.Get(k)
		out[k] = v
	}
	return out
}
