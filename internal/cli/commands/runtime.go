// Package commands implements the sqlsense subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/internal/cli/output"
	"github.com/leapstack-labs/sqlsense/internal/config"
	"github.com/leapstack-labs/sqlsense/internal/engine"
	"github.com/leapstack-labs/sqlsense/internal/header"
	"github.com/leapstack-labs/sqlsense/internal/lsp"
	"github.com/leapstack-labs/sqlsense/internal/semantic"
	"github.com/leapstack-labs/sqlsense/pkg/parser"
)

// Runtime is what the root command resolved before a subcommand runs.
type Runtime struct {
	Config *config.Config
	// ConfigFile is the file the configuration was read from, if any.
	ConfigFile string
	Logger     *slog.Logger
	Renderer   *output.Renderer
}

type runtimeKey struct{}

// WithRuntime stores rt in ctx.
func WithRuntime(ctx context.Context, rt *Runtime) context.Context {
	return context.WithValue(ctx, runtimeKey{}, rt)
}

// GetRuntime returns the runtime of cmd, or defaults when the root command
// did not set one.
func GetRuntime(cmd *cobra.Command) *Runtime {
	if ctx := cmd.Context(); ctx != nil {
		if rt, ok := ctx.Value(runtimeKey{}).(*Runtime); ok {
			return rt
		}
	}
	return &Runtime{
		Config:   config.Default(),
		Logger:   slog.New(slog.DiscardHandler),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.ModeAuto),
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// metadata is the catalog a command analyses against.
type metadata struct {
	provider catalog.Provider
	// reloadable and static are set for file, snapshot and empty catalogs.
	reloadable *catalog.Reloadable
	static     *catalog.Static
	live       *catalog.Live
}

func (m *metadata) Close() error {
	if m.live != nil {
		return m.live.Close()
	}
	return nil
}

// openMetadata opens the catalog source selected by cfg.
func openMetadata(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*metadata, error) {
	cc := cfg.Catalog
	var s *catalog.Static
	switch cc.Source() {
	case "file":
		var err error
		if s, err = catalog.LoadFile(cc.File); err != nil {
			return nil, err
		}
	case "snapshot":
		store, err := catalog.OpenStore(cc.Snapshot, logger)
		if err != nil {
			return nil, err
		}
		s, err = store.Load(ctx)
		if cerr := store.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshot %s: %w", cc.Snapshot, err)
		}
	case "live":
		live, err := catalog.OpenLive(ctx, cc.Driver, cc.DSN, logger)
		if err != nil {
			return nil, err
		}
		return &metadata{provider: catalog.NewCached(live), live: live}, nil
	default:
		s = catalog.NewStatic("", "")
	}
	if cc.DefaultCatalog != "" {
		s.DefaultCatalog = cc.DefaultCatalog
	}
	if cc.DefaultSchema != "" {
		s.DefaultSchema = cc.DefaultSchema
	}
	logger.Debug("catalog loaded", "source", cc.Source(), "relations", len(s.Relations()))
	r := catalog.NewReloadable(s)
	return &metadata{provider: r, reloadable: r, static: s}, nil
}

// engineConfig maps the configuration onto the analysis engine.
func engineConfig(cfg *config.Config, provider catalog.Provider, logger *slog.Logger) engine.Config {
	return engine.Config{
		Catalog:       provider,
		ReadMetadata:  cfg.Analysis.ReadMetadata,
		Variables:     semantic.Variables(cfg.Variables),
		MaxProblems:   cfg.Analysis.MaxProblems,
		PseudoColumns: cfg.Analysis.PseudoColumns,
		Split: parser.SplitOptions{
			BlankLineDelimiter: cfg.Analysis.BlankLineDelimiter,
			CommandMarker:      cfg.Analysis.CommandMarkerByte(),
		},
		Delay:        cfg.Analysis.DebounceDelay,
		ScreenMargin: cfg.Analysis.ScreenMargin,
		TriggerChars: cfg.Analysis.TriggerChars,
		KeywordCase:  cfg.Completion.KeywordCase,
		MaxProposals: cfg.Completion.MaxProposals,
		Logger:       logger,
	}
}

// scriptConfig applies the header of text, if any, on top of cfg.
func scriptConfig(cfg *config.Config, path, text string) (*config.Config, error) {
	h, err := header.Parse(text)
	if err != nil {
		var perr *header.ParseError
		if errors.As(err, &perr) {
			perr.File = path
		}
		var uerr *header.UnknownFieldError
		if errors.As(err, &uerr) {
			uerr.File = path
		}
		return nil, err
	}
	if h == nil {
		return cfg, nil
	}
	c := *cfg
	c.Variables = h.Merge(cfg.Variables)
	if h.ReadMetadata != nil {
		c.Analysis.ReadMetadata = *h.ReadMetadata
	}
	if h.MaxProblems != nil {
		c.Analysis.MaxProblems = *h.MaxProblems
	}
	return &c, nil
}

// readScript reads a script from path, or from in when path is "-".
func readScript(path string, in io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// scriptURI names a script for the engine.
func scriptURI(path string) string {
	if path == "-" {
		return "untitled:stdin"
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return lsp.PathToURI(path)
}
