// Package cli provides the command-line interface for sqlsense.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/sqlsense/internal/cli/commands"
	"github.com/leapstack-labs/sqlsense/internal/cli/output"
	"github.com/leapstack-labs/sqlsense/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile, outputFlag string

	rootCmd := &cobra.Command{
		Use:   "sqlsense",
		Short: "sqlsense - SQL semantic analysis for editors and scripts",
		Long: `sqlsense splits SQL scripts into statements, resolves every name against
database metadata and offers completion, diagnostics and hover information.

It runs as a language server (sqlsense lsp) or on files from the command
line. Metadata comes from a YAML catalog, a snapshot or a live connection.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, file, err := config.Load(config.Options{File: cfgFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			mode, err := output.ParseMode(outputFlag)
			if err != nil {
				return err
			}

			logger := NewLogger(cfg, cmd.ErrOrStderr())
			if file != "" {
				logger.Debug("using config file", "path", file)
			}
			rt := &commands.Runtime{
				Config:     cfg,
				ConfigFile: file,
				Logger:     logger,
				Renderer:   output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(commands.WithRuntime(ctx, rt))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (commit %s, built %s)\n", GitCommit, BuildDate))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: sqlsense.yaml in the project)")
	pf.StringVarP(&outputFlag, "output", "o", "", "Output format (auto|text|markdown|json)")
	registerConfigFlags(pf)

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return output.Modes(), cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("driver", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"postgres", "duckdb", "sqlite"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("keyword-case", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"upper", "lower", "as-typed"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewAnalyzeCommand())
	rootCmd.AddCommand(commands.NewCompleteCommand())
	rootCmd.AddCommand(commands.NewREPLCommand())
	rootCmd.AddCommand(commands.NewCatalogCommand())
	rootCmd.AddCommand(commands.NewLSPCommand(Version))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// registerConfigFlags adds a flag for every key in config.FlagKeys. Only
// flags set on the command line override the configuration.
func registerConfigFlags(pf *pflag.FlagSet) {
	pf.Duration("debounce-delay", config.DefaultDebounceDelay, "Delay before analysing after an edit")
	pf.Int("screen-margin", config.DefaultScreenMargin, "Screens analysed around the visible range")
	pf.Int("max-problems", config.DefaultMaxProblems, "Problems reported per statement")
	pf.Bool("blank-line-delimiter", false, "Treat blank lines as statement delimiters")
	pf.String("trigger-chars", config.DefaultTriggerChars, "Characters that shorten the analysis delay")
	pf.Bool("read-metadata", true, "Resolve names against the catalog")
	pf.String("keyword-case", config.DefaultKeywordCase, "Case of proposed keywords (upper|lower|as-typed)")
	pf.Int("max-proposals", config.DefaultMaxProposals, "Completion proposals returned at most")
	pf.String("catalog", "", "YAML catalog file")
	pf.String("snapshot", "", "Catalog snapshot written by 'catalog import'")
	pf.String("driver", "", "Live catalog driver (postgres|duckdb|sqlite)")
	pf.String("dsn", "", "Live catalog connection string")
	pf.Bool("watch", false, "Reload the catalog file when it changes")
	pf.String("log-level", config.DefaultLogLevel, "Log level (debug|info|warn|error)")
	pf.String("log-format", config.DefaultLogFormat, "Log format (text|json)")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.StringToString(config.VarFlag, nil, "Variable value as name=value (repeatable)")
}

// NewLogger returns the structured logger configured by cfg, writing to w.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for sqlsense.

To load completions:

Bash:
  $ source <(sqlsense completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ sqlsense completion bash > /etc/bash_completion.d/sqlsense
  # macOS:
  $ sqlsense completion bash > $(brew --prefix)/etc/bash_completion.d/sqlsense

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ sqlsense completion zsh > "${fpath[1]}/_sqlsense"

Fish:
  $ sqlsense completion fish | source

  # To load completions for each session, execute once:
  $ sqlsense completion fish > ~/.config/fish/completions/sqlsense.fish

PowerShell:
  PS> sqlsense completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
