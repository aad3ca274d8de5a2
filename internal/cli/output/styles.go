package output

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/leapstack-labs/sqlsense/internal/semantic"
)

// Styles holds the lipgloss styles used by the commands.
type Styles struct {
	Header  lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	// classes colours symbols when highlighting statements.
	classes map[semantic.SymbolClass]lipgloss.Style
}

// NewStyles builds the styles on r.
func NewStyles(r *lipgloss.Renderer) *Styles {
	s := &Styles{
		Header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2: r.NewStyle().Bold(true),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		Success: r.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Info:    r.NewStyle().Foreground(lipgloss.Color("14")),
	}
	s.classes = map[semantic.SymbolClass]lipgloss.Style{
		semantic.ClassKeyword:     r.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		semantic.ClassCatalog:     r.NewStyle().Foreground(lipgloss.Color("6")),
		semantic.ClassSchema:      r.NewStyle().Foreground(lipgloss.Color("6")),
		semantic.ClassTable:       r.NewStyle().Foreground(lipgloss.Color("12")),
		semantic.ClassTableAlias:  r.NewStyle().Foreground(lipgloss.Color("12")).Italic(true),
		semantic.ClassColumn:      r.NewStyle().Foreground(lipgloss.Color("10")),
		semantic.ClassColumnAlias: r.NewStyle().Foreground(lipgloss.Color("10")).Italic(true),
		semantic.ClassFunction:    r.NewStyle().Foreground(lipgloss.Color("11")),
		semantic.ClassVariable:    r.NewStyle().Foreground(lipgloss.Color("14")),
		semantic.ClassCommand:     r.NewStyle().Foreground(lipgloss.Color("5")).Bold(true),
		semantic.ClassParameter:   r.NewStyle().Foreground(lipgloss.Color("14")),
		semantic.ClassLiteral:     r.NewStyle().Foreground(lipgloss.Color("3")),
		semantic.ClassUnknown:     r.NewStyle().Foreground(lipgloss.Color("9")).Underline(true),
	}
	return s
}

// Class returns the style for a symbol class.
func (s *Styles) Class(c semantic.SymbolClass) lipgloss.Style {
	if st, ok := s.classes[c]; ok {
		return st
	}
	return s.Bold
}

// Severity returns the style for a problem severity.
func (s *Styles) Severity(sev semantic.Severity) lipgloss.Style {
	switch sev {
	case semantic.SeverityError:
		return s.Error
	case semantic.SeverityWarning:
		return s.Warning
	default:
		return s.Info
	}
}

// Highlight colours the symbols of a statement. Symbol offsets are relative
// to text; overlapping symbols keep the first.
func (s *Styles) Highlight(text string, symbols []*semantic.SymbolEntry) string {
	var b strings.Builder
	pos := 0
	for _, sym := range symbols {
		if sym.Start < pos || sym.End > len(text) || sym.Start >= sym.End {
			continue
		}
		b.WriteString(text[pos:sym.Start])
		b.WriteString(s.Class(sym.Class).Render(text[sym.Start:sym.End]))
		pos = sym.End
	}
	b.WriteString(text[pos:])
	return b.String()
}
