package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/internal/cli/output"
	"github.com/leapstack-labs/sqlsense/internal/completion"
	"github.com/leapstack-labs/sqlsense/internal/config"
	"github.com/leapstack-labs/sqlsense/internal/engine"
)

const (
	replURI        = "untitled:repl"
	replPrompt     = "sqlsense> "
	replContPrompt = "     ...> "
	// replCompleteTimeout bounds a completion triggered by TAB.
	replCompleteTimeout = time.Second
)

// REPLOptions holds flags of the repl command.
type REPLOptions struct {
	HistoryFile string
}

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	opts := &REPLOptions{}
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Type SQL interactively with completion and diagnostics",
		Long: `Start an interactive prompt. TAB completes keywords, tables and columns
from the configured catalog; every statement ending in ";" is analysed and
its problems are printed.

Type .help for the available dot commands.`,
		Example: `  sqlsense repl --catalog catalog.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.HistoryFile, "history", defaultHistoryFile(), "History file (empty to disable)")
	return cmd
}

func defaultHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sqlsense", "history")
}

func runREPL(cmd *cobra.Command, opts *REPLOptions) error {
	rt := GetRuntime(cmd)
	ctx := commandContext(cmd)

	meta, err := openMetadata(ctx, rt.Config, rt.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = meta.Close() }()

	s, err := newREPLSession(ctx, rt, meta.provider)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.HistoryFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.HistoryFile), 0o750); err != nil {
			rt.Logger.Warn("history disabled", "error", err)
			opts.HistoryFile = ""
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     opts.HistoryFile,
		AutoComplete:    s,
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	rt.Renderer.Println("sqlsense REPL")
	rt.Renderer.Muted("Type .help for commands, .quit to exit")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			s.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.HandleLine(line) {
			return nil
		}
		if s.Pending() {
			rl.SetPrompt(replContPrompt)
		} else {
			rl.SetPrompt(replPrompt)
		}
	}
}

// replSession keeps the statements typed so far as one document, so that
// later statements are analysed in the context of earlier ones.
type replSession struct {
	ctx      context.Context
	r        *output.Renderer
	cfg      *config.Config
	provider catalog.Provider
	eng      *engine.Engine

	mu      sync.Mutex
	script  string
	pending strings.Builder
}

var _ readline.AutoCompleter = (*replSession)(nil)

func newREPLSession(ctx context.Context, rt *Runtime, provider catalog.Provider) (*replSession, error) {
	cfg := engineConfig(rt.Config, provider, rt.Logger)
	// nobody types into the document between two prompts
	cfg.Delay = 0
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := eng.Open(replURI, "", 1); err != nil {
		eng.Shutdown()
		return nil, err
	}
	return &replSession{
		ctx:      ctx,
		r:        rt.Renderer,
		cfg:      rt.Config,
		provider: provider,
		eng:      eng,
	}, nil
}

func (s *replSession) Close() { s.eng.Shutdown() }

// Pending reports whether an unfinished statement is buffered.
func (s *replSession) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len() > 0
}

// Reset drops the unfinished statement.
func (s *replSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Reset()
}

// HandleLine processes one input line and reports whether to quit.
func (s *replSession) HandleLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, ".") && !s.Pending() {
		return s.dotCommand(trimmed)
	}

	s.mu.Lock()
	s.pending.WriteString(line)
	s.pending.WriteString("\n")
	if !strings.HasSuffix(trimmed, ";") {
		s.mu.Unlock()
		return false
	}
	stmt := s.pending.String()
	s.pending.Reset()
	start := len(s.script)
	s.script += stmt
	script := s.script
	s.mu.Unlock()

	if err := s.report(script, start); err != nil {
		s.r.Warning(err.Error())
	}
	return false
}

// report analyses script and prints the problems of the statements that
// start at or after from.
func (s *replSession) report(script string, from int) error {
	if err := s.eng.Swap(replURI, script, 0); err != nil {
		return err
	}
	if err := s.eng.Flush(s.ctx, replURI); err != nil {
		return err
	}
	diags, err := s.eng.Diagnostics(replURI)
	if err != nil {
		return err
	}
	sess, err := s.eng.Session(replURI)
	if err != nil {
		return err
	}
	styles := s.r.Styles()
	found := 0
	for _, d := range diags {
		if d.Start < from {
			continue
		}
		found++
		pos := sess.Document.OffsetToPosition(d.Start)
		s.r.Printf("%d:%d: %s %s\n", pos.Line+1, pos.Character+1, styles.Severity(d.Severity).Render(d.Severity.String()), d.Message)
	}
	if found == 0 {
		s.r.Success("ok")
	}
	return nil
}

// Do implements readline.AutoCompleter. Only proposals extending the word
// before the cursor are offered since readline appends to the line.
func (s *replSession) Do(line []rune, pos int) ([][]rune, int) {
	s.mu.Lock()
	prefix := s.script + s.pending.String()
	s.mu.Unlock()

	before := string(line[:pos])
	text := prefix + string(line)
	offset := len(prefix) + len(before)

	ctx, cancel := context.WithTimeout(s.ctx, replCompleteTimeout)
	defer cancel()
	if err := s.eng.Swap(replURI, text, 0); err != nil {
		return nil, 0
	}
	_, proposals, err := s.eng.Complete(ctx, replURI, offset)
	if err != nil {
		return nil, 0
	}
	return suffixCandidates(text, offset, proposals)
}

// suffixCandidates turns proposals into the suffixes readline appends, and
// the length in runes of the word they share.
func suffixCandidates(text string, offset int, proposals []completion.Proposal) ([][]rune, int) {
	var (
		out  [][]rune
		word string
	)
	for _, p := range proposals {
		if p.Kind == completion.KindStarExpansion || p.ReplaceStart > offset {
			continue
		}
		typed := text[p.ReplaceStart:offset]
		if len(p.Insert) < len(typed) || !strings.EqualFold(p.Insert[:len(typed)], typed) {
			continue
		}
		if out != nil && typed != word {
			continue
		}
		word = typed
		out = append(out, []rune(p.Insert[len(typed):]))
	}
	return out, len([]rune(word))
}

func (s *replSession) dotCommand(line string) bool {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true
	case ".help":
		s.printHelp()
	case ".tables":
		if err := s.listTables(); err != nil {
			s.r.Warning(err.Error())
		}
	case ".schema":
		if len(parts) < 2 {
			s.r.Warning("usage: .schema <table>")
			break
		}
		if err := s.showSchema(parts[1]); err != nil {
			s.r.Warning(err.Error())
		}
	case ".vars":
		s.listVariables()
	case ".clear":
		s.mu.Lock()
		s.script = ""
		s.pending.Reset()
		s.mu.Unlock()
		_ = s.eng.Swap(replURI, "", 0)
		s.r.Muted("script cleared")
	default:
		s.r.Warning(fmt.Sprintf("unknown command %s (type .help for commands)", parts[0]))
	}
	return false
}

func (s *replSession) printHelp() {
	s.r.Println(`Commands:
  .tables          List the tables of the default schema
  .schema <table>  Show the columns of a table
  .vars            List the variables
  .clear           Forget the statements typed so far
  .help            Show this help
  .quit            Exit

End a statement with ";" to analyse it. TAB completes.`)
}

func (s *replSession) listTables() error {
	schema := catalog.SearchSchema(s.ctx, s.provider)
	if schema == nil {
		s.r.Muted("no default schema")
		return nil
	}
	rels, err := s.provider.Children(s.ctx, schema)
	if err != nil {
		return err
	}
	t := newTable(s.r, "Name", "Kind", "Comment")
	for _, rel := range rels {
		if rel.Kind.IsRelation() {
			t.AppendRow([]any{rel.Name, rel.Kind.String(), rel.Comment})
		}
	}
	renderTable(s.r, t)
	return nil
}

func (s *replSession) showSchema(name string) error {
	obj, err := s.provider.FindObject(s.ctx, strings.Split(name, "."))
	if err != nil {
		return err
	}
	if obj == nil || !obj.Kind.IsRelation() {
		return fmt.Errorf("unknown table %s", name)
	}
	cols, err := s.provider.Attributes(s.ctx, obj)
	if err != nil {
		return err
	}
	s.r.Header(2, obj.QualifiedName())
	t := newTable(s.r, "#", "Column", "Type", "Nullable")
	for _, c := range cols {
		t.AppendRow([]any{c.Position, c.Name, c.Type, c.Nullable})
	}
	renderTable(s.r, t)
	return nil
}

func (s *replSession) listVariables() {
	if len(s.cfg.Variables) == 0 {
		s.r.Muted("no variables")
		return
	}
	names := make([]string, 0, len(s.cfg.Variables))
	for name := range s.cfg.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.r.Println(output.FormatKeyValue(name, s.cfg.Variables[name]))
	}
}
