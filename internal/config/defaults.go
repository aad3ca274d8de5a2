package config

import "time"

// Default configuration values.
const (
	DefaultDebounceDelay = 300 * time.Millisecond
	DefaultScreenMargin  = 2
	DefaultMaxProblems   = 20
	DefaultTriggerChars  = "."
	DefaultKeywordCase   = "upper"
	DefaultMaxProposals  = 200
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// defaults returns the lowest-precedence layer of the configuration.
func defaults() map[string]any {
	return map[string]any{
		"analysis.debounce_delay":       DefaultDebounceDelay.String(),
		"analysis.screen_margin":        DefaultScreenMargin,
		"analysis.max_problems":         DefaultMaxProblems,
		"analysis.blank_line_delimiter": false,
		"analysis.trigger_chars":        DefaultTriggerChars,
		"analysis.read_metadata":        true,
		"analysis.command_marker":       "@",
		"completion.keyword_case":       DefaultKeywordCase,
		"completion.max_proposals":      DefaultMaxProposals,
		"catalog.watch":                 false,
		"log_level":                     DefaultLogLevel,
		"log_format":                    DefaultLogFormat,
		"metrics_addr":                  "",
	}
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			DebounceDelay: DefaultDebounceDelay,
			ScreenMargin:  DefaultScreenMargin,
			MaxProblems:   DefaultMaxProblems,
			TriggerChars:  DefaultTriggerChars,
			ReadMetadata:  true,
			CommandMarker: "@",
		},
		Completion: CompletionConfig{
			KeywordCase:  DefaultKeywordCase,
			MaxProposals: DefaultMaxProposals,
		},
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
	}
}
