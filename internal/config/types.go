package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/pandock/internal/convert"
	"github.com/ZebulonRouseFrantzich/pandock/internal/logging"
)

// Config represents the complete pandock configuration.
type Config struct {
	Converter  ConverterConfig  `json:"converter"`
	Download   DownloadConfig   `json:"download"`
	Conversion ConversionConfig `json:"conversion"`
	Logging    LoggingConfig    `json:"logging"`
}

// ConverterConfig selects the pandoc release and how it is verified.
type ConverterConfig struct {
	Version string `json:"version"`
	Mirror  string `json:"mirror"`
	// ChecksumURL points at a SHA-256 list; "{version}" is substituted.
	ChecksumURL string `json:"checksum_url,omitempty"`
	// Keyring is an OpenPGP public keyring used to check release signatures.
	Keyring         string `json:"keyring,omitempty"`
	SignatureSuffix string `json:"signature_suffix,omitempty"`
	// ProbeTimeout in seconds for `pandoc --version`.
	ProbeTimeout int `json:"probe_timeout"`
}

// DownloadConfig tunes the release download.
type DownloadConfig struct {
	// Timeout in seconds for one download attempt.
	Timeout int `json:"timeout"`
	// Retries after a transient failure; 0 disables retrying.
	Retries            int   `json:"retries"`
	ProgressIntervalMS int   `json:"progress_interval_ms"`
	ProgressBytes      int64 `json:"progress_bytes"`
}

// ConversionConfig tunes document conversion.
type ConversionConfig struct {
	Workers int `json:"workers"`
	// Timeout in seconds for one pandoc run; 0 means no limit.
	Timeout int `json:"timeout,omitempty"`
	// Options are default pandoc options merged under each request's.
	Options map[string]string `json:"options,omitempty"`
}

// LoggingConfig configures the process log.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Converter: ConverterConfig{
			Version:         "3.6.4",
			Mirror:          "https://github.com/jgm/pandoc/releases/download",
			SignatureSuffix: ".asc",
			ProbeTimeout:    10,
		},
		Download: DownloadConfig{
			Timeout:            300,
			Retries:            3,
			ProgressIntervalMS: 100,
			ProgressBytes:      256 * 1024,
		},
		Conversion: ConversionConfig{
			Workers: 4,
			Options: map[string]string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ProbeTimeoutDuration returns ProbeTimeout as a duration.
func (c ConverterConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(c.ProbeTimeout) * time.Second
}

// TimeoutDuration returns Timeout as a duration.
func (c DownloadConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ProgressInterval returns ProgressIntervalMS as a duration.
func (c DownloadConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

// TimeoutDuration returns Timeout as a duration.
func (c ConversionConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// versionPattern matches release versions such as 3.6.4 or 3.1.11.1.
var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,3}$`)

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	if !versionPattern.MatchString(c.Converter.Version) {
		return &ValidationError{Field: "converter.version", Message: fmt.Sprintf("invalid version %q (expected e.g. 3.6.4)", c.Converter.Version)}
	}
	if err := validateURL(c.Converter.Mirror); err != nil {
		return &ValidationError{Field: "converter.mirror", Message: err.Error()}
	}
	if c.Converter.ChecksumURL != "" {
		if err := validateURL(strings.ReplaceAll(c.Converter.ChecksumURL, "{version}", c.Converter.Version)); err != nil {
			return &ValidationError{Field: "converter.checksum_url", Message: err.Error()}
		}
	}
	if c.Converter.Keyring != "" && !filepath.IsAbs(c.Converter.Keyring) {
		return &ValidationError{Field: "converter.keyring", Message: "keyring path must be absolute or start with ~/"}
	}
	if s := c.Converter.SignatureSuffix; s != "" && (!strings.HasPrefix(s, ".") || strings.ContainsAny(s, "/\\")) {
		return &ValidationError{Field: "converter.signature_suffix", Message: fmt.Sprintf("invalid suffix %q", s)}
	}
	if c.Converter.ProbeTimeout <= 0 || c.Converter.ProbeTimeout > 300 {
		return &ValidationError{Field: "converter.probe_timeout", Message: "must be between 1 and 300 seconds"}
	}

	if c.Download.Timeout <= 0 {
		return &ValidationError{Field: "download.timeout", Message: "must be positive"}
	}
	if c.Download.Retries < 0 || c.Download.Retries > MaxRetries {
		return &ValidationError{Field: "download.retries", Message: fmt.Sprintf("must be between 0 and %d", MaxRetries)}
	}
	if c.Download.ProgressIntervalMS <= 0 {
		return &ValidationError{Field: "download.progress_interval_ms", Message: "must be positive"}
	}
	if c.Download.ProgressBytes <= 0 {
		return &ValidationError{Field: "download.progress_bytes", Message: "must be positive"}
	}

	if c.Conversion.Workers <= 0 || c.Conversion.Workers > MaxWorkers {
		return &ValidationError{Field: "conversion.workers", Message: fmt.Sprintf("must be between 1 and %d", MaxWorkers)}
	}
	if c.Conversion.Timeout < 0 {
		return &ValidationError{Field: "conversion.timeout", Message: "must not be negative"}
	}
	if len(c.Conversion.Options) > MaxOptionCount {
		return &ValidationError{Field: "conversion.options", Message: fmt.Sprintf("too many options (%d), maximum is %d", len(c.Conversion.Options), MaxOptionCount)}
	}
	for key := range c.Conversion.Options {
		if err := convert.ValidateOptionKey(key); err != nil {
			return &ValidationError{Field: "conversion.options." + key, Message: err.Error()}
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return &ValidationError{Field: "logging.level", Message: err.Error()}
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return &ValidationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q (expected console or json)", c.Logging.Format)}
	}
	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

// validateURL accepts http(s) URLs with a host and no embedded credentials.
func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL must use https:// or http:// scheme (got: %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	if u.User != nil {
		return fmt.Errorf("URL must not embed credentials")
	}
	return nil
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
