package semantic

import (
	"context"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
)

// VariableResolver supplies the values of ${name} references.
type VariableResolver interface {
	ResolveVariable(name string) (string, bool)
}

// Variables is a VariableResolver backed by a map. Names are matched
// case-insensitively.
type Variables map[string]string

// ResolveVariable implements VariableResolver.
func (v Variables) ResolveVariable(name string) (string, bool) {
	if val, ok := v[name]; ok {
		return val, true
	}
	for k, val := range v {
		if strings.EqualFold(k, name) {
			return val, true
		}
	}
	return "", false
}

// Options configures a Recognizer.
type Options struct {
	// Catalog answers metadata lookups. It may be nil.
	Catalog catalog.Provider
	// ReadMetadata enables lookups against Catalog.
	ReadMetadata bool
	// Variables resolves variable references. When nil every reference
	// resolves to a placeholder.
	Variables VariableResolver
	// MaxProblems caps the problems kept per statement.
	MaxProblems int
	// PseudoColumns are exposed by every table in addition to those the
	// catalog reports.
	PseudoColumns []string
	// CommandMarker starts a control command line. Zero means '@'.
	CommandMarker byte
	Logger        *slog.Logger
}

// Recognizer turns statement text into a Model. A Recognizer is safe for
// concurrent use.
type Recognizer struct {
	opts   Options
	logger *slog.Logger
}

// NewRecognizer returns a recognizer with the given options.
func NewRecognizer(opts Options) *Recognizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxProblems <= 0 {
		opts.MaxProblems = DefaultMaxProblems
	}
	if opts.CommandMarker == 0 {
		opts.CommandMarker = '@'
	}
	return &Recognizer{opts: opts, logger: logger}
}

// Options returns the recognizer's configuration.
func (r *Recognizer) Options() Options {
	return r.opts
}

// Recognize analyses one statement. Commands are lines starting with the
// command marker; everything else is parsed as SQL. Malformed input never
// fails: it yields problems and unknown symbols.
func (r *Recognizer) Recognize(ctx context.Context, text string, isCommand bool) *Model {
	if isCommand {
		return r.recognizeCommand(text)
	}
	return r.recognizeQuery(ctx, text)
}

// resolveVariable returns the origin of a reference to name.
func (r *Recognizer) resolveVariable(name string) VariableOrigin {
	if r.opts.Variables == nil {
		return VariableOrigin{Name: name, Value: "${" + name + "}"}
	}
	val, ok := r.opts.Variables.ResolveVariable(name)
	if !ok {
		return VariableOrigin{Name: name, Value: "${" + name + "}"}
	}
	return VariableOrigin{Name: name, Value: val, Resolved: true}
}
