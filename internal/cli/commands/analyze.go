package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlsense/internal/cli/output"
	"github.com/leapstack-labs/sqlsense/internal/document"
	"github.com/leapstack-labs/sqlsense/internal/engine"
	"github.com/leapstack-labs/sqlsense/internal/semantic"
	"github.com/leapstack-labs/sqlsense/internal/syntaxctx"
)

// ErrProblemsFound is returned by analyze when --fail-on matched a problem.
var ErrProblemsFound = errors.New("problems found")

// AnalyzeOptions holds flags of the analyze command.
type AnalyzeOptions struct {
	Highlight bool
	Keywords  bool
	FailOn    string
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &AnalyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <file|->",
		Short: "Analyse a SQL script and report its symbols and problems",
		Long: `Split a script into statements, resolve every name against the configured
catalog and report the symbols and problems found.

Reads standard input when the file is "-".`,
		Example: `  sqlsense analyze query.sql --catalog catalog.yaml
  sqlsense analyze query.sql --highlight
  cat query.sql | sqlsense analyze - -o json
  sqlsense analyze query.sql --fail-on warning`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Highlight, "highlight", false, "Print each statement with its symbols coloured")
	cmd.Flags().BoolVar(&opts.Keywords, "keywords", false, "Include keywords in the symbol list")
	cmd.Flags().StringVar(&opts.FailOn, "fail-on", "", "Exit with an error on problems of this severity or worse (error|warning|info)")
	_ = cmd.RegisterFlagCompletionFunc("fail-on", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"error", "warning", "info"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// AnalysisReport is the JSON form of an analysis.
type AnalysisReport struct {
	URI        string            `json:"uri"`
	Statements []StatementReport `json:"statements"`
}

// StatementReport describes one script item.
type StatementReport struct {
	Start    int             `json:"start"`
	End      int             `json:"end"`
	Line     int             `json:"line"`
	Command  bool            `json:"command,omitempty"`
	Text     string          `json:"text"`
	Symbols  []SymbolReport  `json:"symbols"`
	Problems []ProblemReport `json:"problems"`
}

// SymbolReport describes a classified name. Offsets are document offsets.
type SymbolReport struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Name     string `json:"name"`
	Class    string `json:"class"`
	Resolves string `json:"resolves,omitempty"`
}

// ProblemReport describes a problem. Line and Column are 1-based.
type ProblemReport struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func parseSeverity(s string) (semantic.Severity, bool, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return 0, false, nil
	case "error":
		return semantic.SeverityError, true, nil
	case "warning", "warn":
		return semantic.SeverityWarning, true, nil
	case "info":
		return semantic.SeverityInfo, true, nil
	}
	return 0, false, fmt.Errorf("unknown severity %q (want error, warning or info)", s)
}

// atLeast reports whether sev is as severe as threshold. Severities are
// ordered most severe first.
func atLeast(sev, threshold semantic.Severity) bool {
	return sev <= threshold
}

func runAnalyze(cmd *cobra.Command, path string, opts *AnalyzeOptions) error {
	rt := GetRuntime(cmd)
	failOn, failing, err := parseSeverity(opts.FailOn)
	if err != nil {
		return err
	}

	text, err := readScript(path, cmd.InOrStdin())
	if err != nil {
		return err
	}
	report, items, doc, err := analyzeScript(cmd, rt, path, text, opts.Keywords)
	if err != nil {
		return err
	}

	r := rt.Renderer
	if r.Mode() == output.ModeJSON {
		if err := r.JSON(report); err != nil {
			return err
		}
	} else {
		printAnalysis(r, report, items, doc, opts)
	}

	if failing {
		for _, st := range report.Statements {
			for _, p := range st.Problems {
				sev, _, _ := parseSeverity(p.Severity)
				if atLeast(sev, failOn) {
					return ErrProblemsFound
				}
			}
		}
	}
	return nil
}

// analyzeScript runs one full analysis of text.
func analyzeScript(cmd *cobra.Command, rt *Runtime, path, text string, keywords bool) (*AnalysisReport, []syntaxctx.ScriptItem, *document.Document, error) {
	ctx := commandContext(cmd)
	cfg, err := scriptConfig(rt.Config, path, text)
	if err != nil {
		return nil, nil, nil, err
	}
	meta, err := openMetadata(ctx, cfg, rt.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	defer func() { _ = meta.Close() }()

	eng, err := engine.New(engineConfig(cfg, meta.provider, rt.Logger))
	if err != nil {
		return nil, nil, nil, err
	}
	defer eng.Shutdown()

	uri := scriptURI(path)
	sess, err := eng.Open(uri, text, 1)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := eng.Flush(ctx, uri); err != nil {
		return nil, nil, nil, fmt.Errorf("analysis did not finish: %w", err)
	}
	snap, err := eng.Context(uri)
	if err != nil {
		return nil, nil, nil, err
	}

	doc := sess.Document
	report := &AnalysisReport{URI: uri, Statements: []StatementReport{}}
	for _, it := range snap.Items {
		st := StatementReport{
			Start:    it.Start,
			End:      it.End(),
			Line:     doc.OffsetToPosition(it.Start).Line + 1,
			Command:  it.IsCommand,
			Text:     it.Text,
			Symbols:  []SymbolReport{},
			Problems: []ProblemReport{},
		}
		for _, sym := range it.Symbols() {
			if sym.Class == semantic.ClassKeyword && !keywords {
				continue
			}
			st.Symbols = append(st.Symbols, SymbolReport{
				Start:    it.Start + sym.Start,
				End:      it.Start + sym.End,
				Name:     sym.Name,
				Class:    sym.Class.String(),
				Resolves: resolution(sym),
			})
		}
		for _, p := range it.Problems() {
			pos := doc.OffsetToPosition(it.Start + p.Start)
			st.Problems = append(st.Problems, ProblemReport{
				Line:     pos.Line + 1,
				Column:   pos.Character + 1,
				Start:    it.Start + p.Start,
				End:      it.Start + p.End,
				Severity: p.Severity.String(),
				Message:  p.Message,
			})
		}
		report.Statements = append(report.Statements, st)
	}
	return report, snap.Items, doc, nil
}

func printAnalysis(r *output.Renderer, report *AnalysisReport, items []syntaxctx.ScriptItem, doc *document.Document, opts *AnalyzeOptions) {
	styles := r.Styles()
	problems := 0
	for i, st := range report.Statements {
		kind := "Statement"
		if st.Command {
			kind = "Command"
		}
		r.Header(2, fmt.Sprintf("%s %d (line %d)", kind, i+1, st.Line))
		if opts.Highlight && i < len(items) {
			if r.Mode() == output.ModeMarkdown {
				r.Printf("```sql\n%s\n```\n", strings.TrimRight(items[i].Text, "\n"))
			} else {
				r.Println(styles.Highlight(items[i].Text, items[i].Symbols()))
			}
		}

		if len(st.Symbols) > 0 {
			t := newTable(r, "Offset", "Name", "Class", "Resolves To")
			for _, sym := range st.Symbols {
				t.AppendRow([]any{
					fmt.Sprintf("%d-%d", sym.Start, sym.End),
					sym.Name,
					styles.Class(classOf(items, i, sym)).Render(sym.Class),
					sym.Resolves,
				})
			}
			renderTable(r, t)
		}

		for _, p := range st.Problems {
			problems++
			sev, _, _ := parseSeverity(p.Severity)
			label := styles.Severity(sev).Render(p.Severity)
			r.Printf("%s:%d:%d: %s %s\n", doc.URI(), p.Line, p.Column, label, p.Message)
		}
	}

	if problems == 0 {
		r.Success(fmt.Sprintf("%d statements, no problems", len(report.Statements)))
		return
	}
	r.Muted(fmt.Sprintf("%d statements, %d problems", len(report.Statements), problems))
}

// classOf finds the class of a reported symbol for styling.
func classOf(items []syntaxctx.ScriptItem, i int, sym SymbolReport) semantic.SymbolClass {
	if i >= len(items) {
		return semantic.ClassUnknown
	}
	it := items[i]
	for _, s := range it.Symbols() {
		if it.Start+s.Start == sym.Start && it.Start+s.End == sym.End {
			return s.Class
		}
	}
	return semantic.ClassUnknown
}
