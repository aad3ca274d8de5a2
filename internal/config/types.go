// Package config loads sqlsense settings. It is decoupled from CLI concerns
// so that the language server and the commands share the same keys.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// AnalysisConfig controls background analysis.
type AnalysisConfig struct {
	DebounceDelay      time.Duration `koanf:"debounce_delay"`
	ScreenMargin       int           `koanf:"screen_margin"`
	MaxProblems        int           `koanf:"max_problems"`
	BlankLineDelimiter bool          `koanf:"blank_line_delimiter"`
	TriggerChars       string        `koanf:"trigger_chars"`
	ReadMetadata       bool          `koanf:"read_metadata"`
	// CommandMarker starts a control command line.
	CommandMarker string   `koanf:"command_marker"`
	PseudoColumns []string `koanf:"pseudo_columns"`
}

// CompletionConfig controls completion proposals.
type CompletionConfig struct {
	KeywordCase  string `koanf:"keyword_case"` // upper, lower, as-typed
	MaxProposals int    `koanf:"max_proposals"`
}

// CatalogConfig selects where metadata comes from. At most one of File,
// Snapshot and DSN is used, in that order.
type CatalogConfig struct {
	File           string `koanf:"file"`
	Snapshot       string `koanf:"snapshot"`
	Driver         string `koanf:"driver"` // postgres, duckdb, sqlite
	DSN            string `koanf:"dsn"`
	DefaultCatalog string `koanf:"default_catalog"`
	DefaultSchema  string `koanf:"default_schema"`
	Watch          bool   `koanf:"watch"`
}

// Config holds all sqlsense configuration.
type Config struct {
	Analysis    AnalysisConfig    `koanf:"analysis"`
	Completion  CompletionConfig  `koanf:"completion"`
	Catalog     CatalogConfig     `koanf:"catalog"`
	Variables   map[string]string `koanf:"variables"`
	LogLevel    string            `koanf:"log_level"`
	LogFormat   string            `koanf:"log_format"` // text, json
	MetricsAddr string            `koanf:"metrics_addr"`

	// ProjectRoot is the directory paths are resolved against. It is set
	// by the loader.
	ProjectRoot string `koanf:"-"`
}

// Source reports which catalog source is configured: "file", "snapshot",
// "live" or "" for none.
func (c CatalogConfig) Source() string {
	switch {
	case c.File != "":
		return "file"
	case c.Snapshot != "":
		return "snapshot"
	case c.DSN != "" || c.Driver != "":
		return "live"
	}
	return ""
}

// CommandMarkerByte returns the command marker, '@' when unset.
func (a AnalysisConfig) CommandMarkerByte() byte {
	if a.CommandMarker == "" {
		return '@'
	}
	return a.CommandMarker[0]
}

var (
	validKeywordCases = []string{"upper", "lower", "as-typed"}
	validDrivers      = []string{"postgres", "duckdb", "sqlite"}
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validLogFormats   = []string{"text", "json"}
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.Analysis.DebounceDelay < 0 {
		errs = append(errs, fmt.Errorf("analysis.debounce_delay must not be negative, got %s", c.Analysis.DebounceDelay))
	}
	if c.Analysis.ScreenMargin < 0 {
		errs = append(errs, fmt.Errorf("analysis.screen_margin must not be negative, got %d", c.Analysis.ScreenMargin))
	}
	if c.Analysis.MaxProblems < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_problems must not be negative, got %d", c.Analysis.MaxProblems))
	}
	if len(c.Analysis.CommandMarker) > 1 {
		errs = append(errs, fmt.Errorf("analysis.command_marker must be a single character, got %q", c.Analysis.CommandMarker))
	}
	if c.Completion.MaxProposals < 0 {
		errs = append(errs, fmt.Errorf("completion.max_proposals must not be negative, got %d", c.Completion.MaxProposals))
	}
	if err := oneOf("completion.keyword_case", c.Completion.KeywordCase, validKeywordCases); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("log_level", c.LogLevel, validLogLevels); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("log_format", c.LogFormat, validLogFormats); err != nil {
		errs = append(errs, err)
	}
	if c.Catalog.Source() == "live" {
		if c.Catalog.DSN == "" {
			errs = append(errs, fmt.Errorf("catalog.driver %q needs catalog.dsn", c.Catalog.Driver))
		}
		if err := oneOf("catalog.driver", c.Catalog.Driver, validDrivers); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Catalog.Watch && c.Catalog.File == "" {
		errs = append(errs, errors.New("catalog.watch needs catalog.file"))
	}
	return errors.Join(errs...)
}

func oneOf(key, value string, valid []string) error {
	for _, v := range valid {
		if strings.EqualFold(value, v) {
			return nil
		}
	}
	return fmt.Errorf("unknown %s %q (want one of %s)", key, value, strings.Join(valid, ", "))
}

// SlogLevel returns LogLevel as a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
