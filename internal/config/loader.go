package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "sqlsense.yaml"
	ConfigFileNameAlt = "sqlsense.yml"
)

// EnvPrefix starts every environment variable read. Nested keys use a
// double underscore: SQLSENSE_ANALYSIS__SCREEN_MARGIN.
const EnvPrefix = "SQLSENSE_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// FlagKeys maps command-line flag names to configuration keys. Flags not
// listed are not configuration.
var FlagKeys = map[string]string{
	"debounce-delay":       "analysis.debounce_delay",
	"screen-margin":        "analysis.screen_margin",
	"max-problems":         "analysis.max_problems",
	"blank-line-delimiter": "analysis.blank_line_delimiter",
	"trigger-chars":        "analysis.trigger_chars",
	"read-metadata":        "analysis.read_metadata",
	"keyword-case":         "completion.keyword_case",
	"max-proposals":        "completion.max_proposals",
	"catalog":              "catalog.file",
	"snapshot":             "catalog.snapshot",
	"driver":               "catalog.driver",
	"dsn":                  "catalog.dsn",
	"watch":                "catalog.watch",
	"log-level":            "log_level",
	"log-format":           "log_format",
	"metrics-addr":         "metrics_addr",
}

// VarFlag is the repeatable name=value flag setting variables.
const VarFlag = "var"

// Options tells Load where to look.
type Options struct {
	// File is an explicit config file. When empty, sqlsense.yaml or
	// sqlsense.yml is searched upward from Dir.
	File string
	// Dir defaults to the working directory.
	Dir string
	// Flags holds command-line overrides. Only changed flags count.
	Flags *pflag.FlagSet
}

// Load reads the configuration. Precedence, highest first: changed flags,
// environment, config file, defaults.
func Load(opts Options) (*Config, string, error) {
	k := koanf.New(".")

	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	cfgFile := opts.File
	projectRoot := dir
	if cfgFile == "" {
		if root := findProjectRootUpward(dir); root != "" {
			projectRoot = root
			cfgFile = findConfigFile(root)
		}
	} else if abs, err := filepath.Abs(cfgFile); err == nil {
		projectRoot = filepath.Dir(abs)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, "", fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment: SQLSENSE_ANALYSIS__SCREEN_MARGIN -> analysis.screen_margin
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	var flagCatalog, flagSnapshot string
	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !f.Changed || !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, "", fmt.Errorf("failed to load flags: %w", err)
		}
		// paths given on the command line are relative to the working directory
		flagCatalog = changedPath(opts.Flags, "catalog")
		flagSnapshot = changedPath(opts.Flags, "snapshot")
	}

	cfg := Config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, "", fmt.Errorf("unable to decode config: %w", err)
	}
	if opts.Flags != nil && opts.Flags.Changed(VarFlag) {
		vars, err := opts.Flags.GetStringToString(VarFlag)
		if err != nil {
			return nil, "", fmt.Errorf("invalid --%s: %w", VarFlag, err)
		}
		if cfg.Variables == nil {
			cfg.Variables = map[string]string{}
		}
		for name, val := range vars {
			cfg.Variables[name] = val
		}
	}

	cfg.ProjectRoot = projectRoot
	cfg.Catalog.File = pick(flagCatalog, resolvePathRelativeTo(cfg.Catalog.File, projectRoot))
	cfg.Catalog.Snapshot = pick(flagSnapshot, resolvePathRelativeTo(cfg.Catalog.Snapshot, projectRoot))
	cfg.Catalog.DSN = expandEnvVars(cfg.Catalog.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, cfgFile, nil
}

func changedPath(flags *pflag.FlagSet, name string) string {
	if flags.Lookup(name) == nil || !flags.Changed(name) {
		return ""
	}
	v, _ := flags.GetString(name)
	if v == "" {
		return ""
	}
	abs, err := filepath.Abs(v)
	if err != nil {
		return v
	}
	return abs
}

func pick(first, second string) string {
	if first != "" {
		return first
	}
	return second
}

// findConfigFile returns the config file in dir, or "".
func findConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// findProjectRootUpward searches upward from startDir for a config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for range maxUpwardSearchLevels {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values,
// leaving unknown ones in place.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}
