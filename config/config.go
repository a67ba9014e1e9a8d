package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper and API client configuration.
type Config struct {
	BaseURL       string
	Headers       map[string]string
	UserAgent     string
	DelayMin      time.Duration
	DelayMax      time.Duration
	MaxRetries    int
	Timeout       time.Duration
	MaxPages      int
	LinkCacheSize int

	APIBaseURL      string
	APIToken        string
	APIUserAgent    string
	APIMaxPages     int
	APIPageInterval time.Duration

	OutputDir    string
	OutputFormat string // csv, json, or dual
	MetricsAddr  string
	Verbose      bool
}

// DefaultConfig returns conservative defaults for the demo targets.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://news.ycombinator.com",
		Headers:       map[string]string{},
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		DelayMin:      1 * time.Second,
		DelayMax:      3 * time.Second,
		MaxRetries:    3,
		Timeout:       30 * time.Second,
		MaxPages:      10,
		LinkCacheSize: 4096,

		APIBaseURL:      "https://jsonplaceholder.typicode.com",
		APIUserAgent:    "Go-API-Client/1.0",
		APIMaxPages:     10,
		APIPageInterval: 1 * time.Second,

		OutputDir:    "output",
		OutputFormat: "dual",
		MetricsAddr:  "",
		Verbose:      false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("base URL", c.BaseURL); err != nil {
		return err
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DelayMin < 0 {
		return fmt.Errorf("delay min cannot be negative")
	}
	if c.DelayMax < c.DelayMin {
		return fmt.Errorf("delay max (%s) cannot be below delay min (%s)", c.DelayMax, c.DelayMin)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.LinkCacheSize <= 0 {
		return fmt.Errorf("link cache size must be positive")
	}

	if err := validateURL("API base URL", c.APIBaseURL); err != nil {
		return err
	}
	if c.APIMaxPages <= 0 {
		return fmt.Errorf("API max pages must be positive")
	}
	if c.APIPageInterval < 0 {
		return fmt.Errorf("API page interval cannot be negative")
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}

	return nil
}

// Clone returns a deep copy so callers can hold an immutable snapshot.
func (c *Config) Clone() *Config {
	out := *c
	out.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	return &out
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
