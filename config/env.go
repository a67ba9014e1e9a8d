package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns a trimmed, non-empty environment value.
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

// EnvDuration parses a duration environment value such as "1500ms".
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

// ApplyEnv overlays HARVEST_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if value, ok := EnvString("HARVEST_BASE_URL"); ok {
		c.BaseURL = value
	}
	if value, ok := EnvString("HARVEST_USER_AGENT"); ok {
		c.UserAgent = value
	}
	if value, ok := EnvString("HARVEST_API_BASE_URL"); ok {
		c.APIBaseURL = value
	}
	if value, ok := EnvString("HARVEST_API_TOKEN"); ok {
		c.APIToken = value
	}
	if value, ok := EnvString("HARVEST_OUTPUT_DIR"); ok {
		c.OutputDir = value
	}
	if value, ok := EnvString("HARVEST_METRICS_ADDR"); ok {
		c.MetricsAddr = value
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"HARVEST_MAX_PAGES", &c.MaxPages},
		{"HARVEST_MAX_RETRIES", &c.MaxRetries},
		{"HARVEST_API_MAX_PAGES", &c.APIMaxPages},
	}
	for _, item := range ints {
		value, ok, err := EnvInt(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HARVEST_DELAY_MIN", &c.DelayMin},
		{"HARVEST_DELAY_MAX", &c.DelayMax},
		{"HARVEST_TIMEOUT", &c.Timeout},
		{"HARVEST_API_PAGE_INTERVAL", &c.APIPageInterval},
	}
	for _, item := range durations {
		value, ok, err := EnvDuration(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = value
		}
	}
	return nil
}
