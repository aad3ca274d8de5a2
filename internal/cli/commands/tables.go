package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/sqlsense/internal/cli/output"
	"github.com/leapstack-labs/sqlsense/internal/semantic"
)

// newTable returns a table writing to the renderer's output.
func newTable(r *output.Renderer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

// renderTable writes t in the renderer's mode.
func renderTable(r *output.Renderer, t table.Writer) {
	if r.Mode() == output.ModeMarkdown {
		t.RenderMarkdown()
		r.Println()
		return
	}
	t.Render()
}

// resolution describes what a symbol resolved to in one line.
func resolution(sym *semantic.SymbolEntry) string {
	def := sym.Definition
	if def == nil {
		switch o := sym.Origin.(type) {
		case semantic.VariableOrigin:
			if o.Resolved {
				return fmt.Sprintf("= %s", o.Value)
			}
			return "unresolved"
		case semantic.PotentialObject:
			return "not in catalog"
		case semantic.ExpandableTupleRef:
			return "expandable"
		}
		return ""
	}
	switch {
	case def.Column != nil:
		if def.Column.Table != nil {
			return def.Column.Table.QualifiedName() + "." + def.Column.Name
		}
		return def.Column.Name
	case def.Object != nil:
		return def.Object.QualifiedName()
	case def.Symbol != nil:
		return fmt.Sprintf("%s %s", def.Symbol.Class, def.Symbol.Name)
	}
	return ""
}
