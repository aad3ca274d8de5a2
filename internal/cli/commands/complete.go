package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlsense/internal/cli/output"
	"github.com/leapstack-labs/sqlsense/internal/completion"
	"github.com/leapstack-labs/sqlsense/internal/engine"
)

// CompleteOptions holds flags of the complete command.
type CompleteOptions struct {
	Offset int
	Cursor string
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand() *cobra.Command {
	opts := &CompleteOptions{}
	cmd := &cobra.Command{
		Use:   "complete <file|->",
		Short: "Propose completions at a position in a SQL script",
		Long: `Analyse a script and print the completion proposals at a cursor.

The cursor is given either as a byte offset with --offset, or by a marker in
the text (by default "|") that is removed before analysis.`,
		Example: `  echo 'SELECT * FROM table1 t WHERE t.|' | sqlsense complete - --catalog catalog.yaml
  sqlsense complete query.sql --offset 42 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplete(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.Offset, "offset", -1, "Byte offset of the cursor")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "|", "Marker standing for the cursor in the text")
	return cmd
}

// CompletionReport is the JSON form of a completion request.
type CompletionReport struct {
	Offset    int              `json:"offset"`
	Mode      string           `json:"mode"`
	Prefix    string           `json:"prefix,omitempty"`
	Proposals []ProposalReport `json:"proposals"`
}

// ProposalReport describes one proposal. Replace is the document range the
// proposal overwrites.
type ProposalReport struct {
	Label   string `json:"label"`
	Insert  string `json:"insert"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
	Replace [2]int `json:"replace"`
}

// cursorOffset locates the cursor and returns the text without a marker.
func cursorOffset(text string, opts *CompleteOptions) (string, int, error) {
	if opts.Offset >= 0 {
		if opts.Offset > len(text) {
			return "", 0, fmt.Errorf("offset %d is past the end of the script (%d bytes)", opts.Offset, len(text))
		}
		return text, opts.Offset, nil
	}
	if opts.Cursor == "" {
		return "", 0, errors.New("either --offset or --cursor is needed")
	}
	i := strings.Index(text, opts.Cursor)
	if i < 0 {
		return "", 0, fmt.Errorf("cursor marker %q not found", opts.Cursor)
	}
	return text[:i] + text[i+len(opts.Cursor):], i, nil
}

func runComplete(cmd *cobra.Command, path string, opts *CompleteOptions) error {
	rt := GetRuntime(cmd)
	ctx := commandContext(cmd)

	raw, err := readScript(path, cmd.InOrStdin())
	if err != nil {
		return err
	}
	text, offset, err := cursorOffset(raw, opts)
	if err != nil {
		return err
	}

	cfg, err := scriptConfig(rt.Config, path, text)
	if err != nil {
		return err
	}
	meta, err := openMetadata(ctx, cfg, rt.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = meta.Close() }()

	eng, err := engine.New(engineConfig(cfg, meta.provider, rt.Logger))
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	uri := scriptURI(path)
	if _, err := eng.Open(uri, text, 1); err != nil {
		return err
	}
	c, proposals, err := eng.Complete(ctx, uri, offset)
	if err != nil {
		return err
	}

	report := CompletionReport{
		Offset:    offset,
		Mode:      c.Mode.String(),
		Prefix:    c.Prefix,
		Proposals: make([]ProposalReport, len(proposals)),
	}
	for i, p := range proposals {
		report.Proposals[i] = ProposalReport{
			Label:   p.Label,
			Insert:  p.Insert,
			Kind:    p.Kind.String(),
			Detail:  p.Detail,
			Replace: [2]int{p.ReplaceStart, p.ReplaceEnd},
		}
	}

	r := rt.Renderer
	if r.Mode() == output.ModeJSON {
		return r.JSON(report)
	}
	printProposals(r, report, proposals)
	return nil
}

func printProposals(r *output.Renderer, report CompletionReport, proposals []completion.Proposal) {
	r.Muted(fmt.Sprintf("%s at offset %d", report.Mode, report.Offset))
	if len(proposals) == 0 {
		r.Println("(no proposals)")
		return
	}
	t := newTable(r, "Label", "Kind", "Detail", "Insert")
	for _, p := range proposals {
		insert := p.Insert
		if insert == p.Label {
			insert = ""
		}
		t.AppendRow([]any{p.Label, p.Kind.String(), p.Detail, insert})
	}
	renderTable(r, t)
}
