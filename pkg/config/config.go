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

// Feed filters accepted by app.bsky.feed.getAuthorFeed.
var validFeedFilters = map[string]bool{
	"posts_with_replies":       true,
	"posts_no_replies":         true,
	"posts_with_media":         true,
	"posts_and_author_threads": true,
}

// Config holds all configuration options for the archiver
type Config struct {
	Bluesky    BlueskyConfig    `yaml:"bluesky" json:"bluesky"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Pagination PaginationConfig `yaml:"pagination" json:"pagination"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Export     ExportConfig     `yaml:"export" json:"export"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Sessions   SessionsConfig   `yaml:"sessions" json:"sessions"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// BlueskyConfig holds account and API settings
type BlueskyConfig struct {
	// Service is the PDS host used to create sessions, e.g. https://bsky.social.
	Service    string        `yaml:"service" json:"service"`
	Identifier string        `yaml:"identifier" json:"identifier"`
	Password   string        `yaml:"password,omitempty" json:"-"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	FeedFilter string        `yaml:"feed_filter" json:"feed_filter"`
	PageLimit  int           `yaml:"page_limit" json:"page_limit"`
}

// RateLimitConfig holds the download cooldown and request pacing settings
type RateLimitConfig struct {
	MinInterval       time.Duration `yaml:"min_interval" json:"min_interval"`
	MaxInterval       time.Duration `yaml:"max_interval" json:"max_interval"`
	StateFile         string        `yaml:"state_file" json:"state_file"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int           `yaml:"burst" json:"burst"`
}

// PaginationConfig holds the randomized delay inserted between pages
type PaginationConfig struct {
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	BatchSize     int    `yaml:"batch_size" json:"batch_size"`
	Compress      bool   `yaml:"compress" json:"compress"`
}

// ExportConfig holds where fetched entities are written as folder trees
type ExportConfig struct {
	Directory string `yaml:"directory" json:"directory"`
	// MaxDepth is the folder depth below which values are written as files.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
}

// RetryConfig holds per-request retry settings
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval"`
	Multiplier      float64       `yaml:"multiplier" json:"multiplier"`
}

// SessionsConfig holds where sessions are persisted
type SessionsConfig struct {
	TokensPath string `yaml:"tokens_path" json:"tokens_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Bluesky: BlueskyConfig{
			Service:    "https://bsky.social",
			UserAgent:  "bskyarchive/1.0",
			Timeout:    30 * time.Second,
			FeedFilter: "posts_with_replies",
			PageLimit:  100,
		},
		RateLimit: RateLimitConfig{
			MinInterval:       4 * time.Minute,
			MaxInterval:       6 * time.Minute,
			StateFile:         filepath.Join(DefaultStateDir(), "ratelimit.json"),
			RequestsPerMinute: 120,
			Burst:             5,
		},
		Pagination: PaginationConfig{
			MinDelay: 1 * time.Second,
			MaxDelay: 3 * time.Second,
		},
		Output: OutputConfig{
			BaseDirectory: "profiles",
			BatchSize:     100,
			Compress:      true,
		},
		Export: ExportConfig{
			Directory: "downloads",
			MaxDepth:  5,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 1 * time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		},
		Sessions: SessionsConfig{
			TokensPath: filepath.Join(DefaultStateDir(), "sessions"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultStateDir returns the per-user directory for process-wide state.
func DefaultStateDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bskyarchive")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bskyarchive"
	}
	return filepath.Join(home, ".config", "bskyarchive")
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// Variables shared with the original bsky scripts
	if dom := os.Getenv("BSKY_DOM"); dom != "" {
		c.Bluesky.Service = normalizeService(dom)
	}
	if id := os.Getenv("BSKY_ID"); id != "" {
		c.Bluesky.Identifier = id
	}
	if passwd := os.Getenv("BSKY_PASSWD"); passwd != "" {
		c.Bluesky.Password = passwd
	}
	if tokens := os.Getenv("BSKY_TOKENS_PATH"); tokens != "" {
		c.Sessions.TokensPath = tokens
	}

	if outputDir := os.Getenv("BSKYARCHIVE_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if exportDir := os.Getenv("BSKYARCHIVE_EXPORT_DIR"); exportDir != "" {
		c.Export.Directory = exportDir
	}
	if compress := os.Getenv("BSKYARCHIVE_COMPRESS"); compress != "" {
		c.Output.Compress = strings.ToLower(compress) == "true"
	}
	if stateFile := os.Getenv("BSKYARCHIVE_RATE_LIMIT_FILE"); stateFile != "" {
		c.RateLimit.StateFile = stateFile
	}
	if filter := os.Getenv("BSKYARCHIVE_FEED_FILTER"); filter != "" {
		c.Bluesky.FeedFilter = filter
	}
	if logLevel := os.Getenv("BSKYARCHIVE_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("BSKYARCHIVE_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	if v := os.Getenv("BSKYARCHIVE_PAGE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BSKYARCHIVE_PAGE_LIMIT: %w", err))
		} else {
			c.Bluesky.PageLimit = n
		}
	}
	if v := os.Getenv("BSKYARCHIVE_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BSKYARCHIVE_REQUESTS_PER_MINUTE: %w", err))
		} else {
			c.RateLimit.RequestsPerMinute = n
		}
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
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

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".bskyarchive.yaml",
		".bskyarchive.yml",
		filepath.Join(DefaultStateDir(), "config.yaml"),
		filepath.Join(DefaultStateDir(), "config.yml"),
		filepath.Join(home, ".bskyarchive.yaml"),
		filepath.Join(home, ".bskyarchive.yml"),
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

	if c.Bluesky.Service == "" {
		errs = append(errs, errors.New("bluesky service is required"))
	}
	if c.Bluesky.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Bluesky.PageLimit < 1 || c.Bluesky.PageLimit > 100 {
		errs = append(errs, errors.New("page limit must be between 1 and 100"))
	}
	if !validFeedFilters[c.Bluesky.FeedFilter] {
		errs = append(errs, fmt.Errorf("invalid feed filter %q", c.Bluesky.FeedFilter))
	}

	if c.RateLimit.MinInterval <= 0 {
		errs = append(errs, errors.New("minimum download interval must be positive"))
	}
	if c.RateLimit.MaxInterval < c.RateLimit.MinInterval {
		errs = append(errs, errors.New("maximum download interval must not be below the minimum"))
	}
	if c.RateLimit.StateFile == "" {
		errs = append(errs, errors.New("rate limit state file is required"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Pagination.MinDelay < 0 || c.Pagination.MaxDelay < c.Pagination.MinDelay {
		errs = append(errs, errors.New("page delay range is invalid"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}

	if c.Export.Directory == "" {
		errs = append(errs, errors.New("export directory is required"))
	}
	if c.Export.MaxDepth < 1 {
		errs = append(errs, errors.New("export depth must be at least 1"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, errors.New("retry interval range is invalid"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if service, ok := flags["service"].(string); ok && service != "" {
		c.Bluesky.Service = normalizeService(service)
	}
	if user, ok := flags["user"].(string); ok && user != "" {
		c.Bluesky.Identifier = user
	}
	if password, ok := flags["password"].(string); ok && password != "" {
		c.Bluesky.Password = password
	}
	if filter, ok := flags["filter"].(string); ok && filter != "" {
		c.Bluesky.FeedFilter = filter
	}
	if limit, ok := flags["limit"].(int); ok && limit > 0 {
		c.Bluesky.PageLimit = limit
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if batch, ok := flags["batch-size"].(int); ok && batch > 0 {
		c.Output.BatchSize = batch
	}
	if exportDir, ok := flags["export-dir"].(string); ok && exportDir != "" {
		c.Export.Directory = exportDir
	}
	if depth, ok := flags["max-depth"].(int); ok && depth > 0 {
		c.Export.MaxDepth = depth
	}
	if noCompress, ok := flags["no-compress"].(bool); ok && noCompress {
		c.Output.Compress = false
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".env"))
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".bskyarchive.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// normalizeService turns a bare domain such as "bsky.social" into a URL.
func normalizeService(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if s == "" || strings.Contains(s, "://") {
		return s
	}
	return "https://" + s
}
