package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Config holds engine configuration.
type Config struct {
	Country         string
	Cadence         string
	PageIDs         []string
	URLs            []string
	Locale          string
	DataDir         string
	StorageBackend  string // file or sqlite
	StrategyTimeout time.Duration
	PipelineTimeout time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	PageConcurrency int
	URLConcurrency  int
	RateLimit       float64 // requests per second, 0 disables
	ProxyURL        string
	RenderEnabled   bool
	Headless        bool
	BrowserURL      string
	UserAgents      []string
	MetricsAddr     string
	CacheSize       int
	Verbose         bool
}

// DefaultConfig returns the defaults used by the scheduler and the CLI.
func DefaultConfig() *Config {
	return &Config{
		Country:         "PT",
		Cadence:         "*/15 * * * *",
		Locale:          "pt-PT",
		DataDir:         "data",
		StorageBackend:  StorageFile,
		StrategyTimeout: 45 * time.Second,
		PipelineTimeout: 3 * time.Minute,
		MaxRetries:      1,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 5 * time.Second,
		PageConcurrency: 3,
		URLConcurrency:  5,
		RateLimit:       0,
		RenderEnabled:   true,
		Headless:        true,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		CacheSize: 1000,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if len(c.Country) != 2 {
		return fmt.Errorf("country must be a two-letter code, got %q", c.Country)
	}
	if strings.TrimSpace(c.Cadence) == "" {
		return fmt.Errorf("cadence cannot be empty")
	}
	if c.Locale == "" {
		return fmt.Errorf("locale cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir cannot be empty")
	}
	if c.StorageBackend != StorageFile && c.StorageBackend != StorageSQLite {
		return fmt.Errorf("storage backend must be file or sqlite")
	}
	if c.StrategyTimeout <= 0 {
		return fmt.Errorf("strategy timeout must be positive")
	}
	if c.PipelineTimeout <= 0 {
		return fmt.Errorf("pipeline timeout must be positive")
	}
	if c.StrategyTimeout > c.PipelineTimeout {
		return fmt.Errorf("strategy timeout (%s) cannot exceed pipeline timeout (%s)", c.StrategyTimeout, c.PipelineTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.PageConcurrency <= 0 {
		return fmt.Errorf("page concurrency must be positive")
	}
	if c.URLConcurrency <= 0 {
		return fmt.Errorf("url concurrency must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.ProxyURL != "" {
		parsed, err := url.Parse(c.ProxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("proxy URL must include a host")
		}
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user agents cannot be empty")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	return nil
}

// EnvString returns a trimmed environment value and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvFloat parses a float environment value.
func EnvFloat(key string) (float64, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvBool parses a boolean environment value.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvDuration parses a duration environment value such as "45s".
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvList splits a comma-separated environment value, dropping blanks.
func EnvList(key string) ([]string, bool) {
	value, ok := EnvString(key)
	if !ok {
		return nil, false
	}
	return SplitList(value), true
}

// SplitList splits a comma-separated list, trimming items and dropping blanks.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// FromEnv applies ADWATCH_* overrides to cfg.
func FromEnv(cfg *Config) error {
	strs := map[string]*string{
		"ADWATCH_COUNTRY":      &cfg.Country,
		"ADWATCH_CADENCE":      &cfg.Cadence,
		"ADWATCH_LOCALE":       &cfg.Locale,
		"ADWATCH_DATA_DIR":     &cfg.DataDir,
		"ADWATCH_STORAGE":      &cfg.StorageBackend,
		"ADWATCH_PROXY_URL":    &cfg.ProxyURL,
		"ADWATCH_BROWSER_URL":  &cfg.BrowserURL,
		"ADWATCH_METRICS_ADDR": &cfg.MetricsAddr,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}
	cfg.Country = strings.ToUpper(cfg.Country)

	lists := map[string]*[]string{
		"ADWATCH_PAGE_IDS":    &cfg.PageIDs,
		"ADWATCH_URLS":        &cfg.URLs,
		"ADWATCH_USER_AGENTS": &cfg.UserAgents,
	}
	for key, dst := range lists {
		if value, ok := EnvList(key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"ADWATCH_MAX_RETRIES":      &cfg.MaxRetries,
		"ADWATCH_PAGE_CONCURRENCY": &cfg.PageConcurrency,
		"ADWATCH_URL_CONCURRENCY":  &cfg.URLConcurrency,
		"ADWATCH_CACHE_SIZE":       &cfg.CacheSize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"ADWATCH_STRATEGY_TIMEOUT":  &cfg.StrategyTimeout,
		"ADWATCH_PIPELINE_TIMEOUT":  &cfg.PipelineTimeout,
		"ADWATCH_RETRY_BACKOFF":     &cfg.RetryBackoff,
		"ADWATCH_RETRY_BACKOFF_MAX": &cfg.RetryBackoffMax,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	bools := map[string]*bool{
		"ADWATCH_RENDER":   &cfg.RenderEnabled,
		"ADWATCH_HEADLESS": &cfg.Headless,
		"ADWATCH_VERBOSE":  &cfg.Verbose,
	}
	for key, dst := range bools {
		value, ok, err := EnvBool(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	if value, ok, err := EnvFloat("ADWATCH_RATE_LIMIT"); err != nil {
		return err
	} else if ok {
		cfg.RateLimit = value
	}
	return nil
}
