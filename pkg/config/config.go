package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is the browser identification sent with every request.
const DefaultUserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:15.0) Gecko/20100101 Firefox/15.0.1"

// Config holds all configuration options for the archiver
type Config struct {
	Reddit    RedditConfig    `yaml:"reddit" json:"reddit"`
	Archive   ArchiveConfig   `yaml:"archive" json:"archive"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Download  DownloadConfig  `yaml:"download" json:"download"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Journal   JournalConfig   `yaml:"journal" json:"journal"`
}

// RedditConfig describes the community being archived and how to reach it
type RedditConfig struct {
	Subreddit string        `yaml:"subreddit" json:"subreddit"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	PageSize  int           `yaml:"page_size" json:"page_size"`
	IndexURL  string        `yaml:"index_url" json:"index_url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	// Account names stored API credentials; empty means anonymous access.
	Account string `yaml:"account" json:"account"`
}

// ArchiveConfig holds the archive directory layout
type ArchiveConfig struct {
	Directory  string `yaml:"directory" json:"directory"`
	SlugLength int    `yaml:"slug_length" json:"slug_length"`
	UTC        bool   `yaml:"utc" json:"utc"`
}

// RateLimitConfig holds request pacing and 429 handling
type RateLimitConfig struct {
	Strategy          string        `yaml:"strategy" json:"strategy"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// DownloadConfig holds media download settings
type DownloadConfig struct {
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
	ChunkSize int           `yaml:"chunk_size" json:"chunk_size"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// MetricsConfig controls how run counters are exposed
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Textfile   string `yaml:"textfile" json:"textfile"`
}

// JournalConfig points at the run journal; empty selects the data directory.
type JournalConfig struct {
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Reddit: RedditConfig{
			Subreddit: "castaneda",
			UserAgent: DefaultUserAgent,
			PageSize:  25,
			Timeout:   0, // transport default
		},
		Archive: ArchiveConfig{
			Directory:  "./archive",
			SlugLength: 70,
		},
		RateLimit: RateLimitConfig{
			Strategy:          "token_bucket",
			RequestsPerMinute: 60,
			MaxRetries:        5,
			RetryDelay:        60 * time.Second,
		},
		Download: DownloadConfig{
			BatchSize: 100,
			ChunkSize: 512,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from SUBARCHIVE_* environment variables
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SUBARCHIVE_SUBREDDIT"); v != "" {
		c.Reddit.Subreddit = v
	}
	if v := os.Getenv("SUBARCHIVE_USER_AGENT"); v != "" {
		c.Reddit.UserAgent = v
	}
	if v := os.Getenv("SUBARCHIVE_ACCOUNT"); v != "" {
		c.Reddit.Account = v
	}
	if v := os.Getenv("SUBARCHIVE_ARCHIVE_DIR"); v != "" {
		c.Archive.Directory = v
	}
	if v := os.Getenv("SUBARCHIVE_UTC"); v != "" {
		c.Archive.UTC = strings.ToLower(v) == "true"
	}

	var errs []error
	if v := os.Getenv("SUBARCHIVE_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SUBARCHIVE_REQUESTS_PER_MINUTE: %w", err))
		} else {
			c.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("SUBARCHIVE_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SUBARCHIVE_RETRY_DELAY: %w", err))
		} else {
			c.RateLimit.RetryDelay = d
		}
	}
	if v := os.Getenv("SUBARCHIVE_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SUBARCHIVE_BATCH_SIZE: %w", err))
		} else {
			c.Download.BatchSize = n
		}
	}

	if v := os.Getenv("SUBARCHIVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SUBARCHIVE_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("SUBARCHIVE_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
	if v := os.Getenv("SUBARCHIVE_METRICS_TEXTFILE"); v != "" {
		c.Metrics.Textfile = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".subarchive.yaml",
		".subarchive.yml",
		filepath.Join(home, ".config", "subarchive", "config.yaml"),
		filepath.Join(home, ".config", "subarchive", "config.yml"),
		filepath.Join(home, ".subarchive.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Reddit.Subreddit == "" {
		errs = append(errs, errors.New("subreddit is required"))
	}
	if strings.ContainsAny(c.Reddit.Subreddit, "/ ") {
		errs = append(errs, errors.New("subreddit must be a bare name"))
	}
	if c.Reddit.UserAgent == "" {
		errs = append(errs, errors.New("user agent is required"))
	}
	if c.Reddit.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}

	if c.Archive.Directory == "" {
		errs = append(errs, errors.New("archive directory is required"))
	}
	if c.Archive.SlugLength <= 0 {
		errs = append(errs, errors.New("slug length must be positive"))
	}

	switch c.RateLimit.Strategy {
	case "token_bucket", "sliding_window", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit strategy %q", c.RateLimit.Strategy))
	}
	if c.RateLimit.Strategy != "none" && c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.MaxRetries <= 0 {
		errs = append(errs, errors.New("max retries must be positive"))
	}
	if c.RateLimit.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}

	if c.Download.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Download.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Zero values are ignored so unset flags never clobber file or env settings.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["archive-dir"].(string); ok && v != "" {
		c.Archive.Directory = v
	}
	if v, ok := flags["subreddit"].(string); ok && v != "" {
		c.Reddit.Subreddit = v
	}
	if v, ok := flags["account"].(string); ok && v != "" {
		c.Reddit.Account = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["batch-size"].(int); ok && v > 0 {
		c.Download.BatchSize = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.ListenAddr = v
	}
	if v, ok := flags["metrics-textfile"].(string); ok && v != "" {
		c.Metrics.Textfile = v
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment (including .env files) > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".subarchive.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Location returns the time zone used for datestamps.
func (c *Config) Location() *time.Location {
	if c.Archive.UTC {
		return time.UTC
	}
	return time.Local
}
