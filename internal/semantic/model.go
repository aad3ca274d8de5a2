package semantic

import (
	"sort"

	"github.com/leapstack-labs/sqlsense/pkg/parser"
)

// QueryNode is one node of a statement's query model. Given is the data
// context the node receives from its parent, Result the one it exposes to
// what follows. Offsets are relative to the statement start.
type QueryNode struct {
	Start    int
	End      int
	Syntax   *parser.Node
	Given    *RowsDataContext
	Result   *RowsDataContext
	Parent   *QueryNode
	Children []*QueryNode
}

// Kind returns the syntax kind of the node.
func (n *QueryNode) Kind() parser.NodeKind {
	if n.Syntax == nil {
		return parser.KindError
	}
	return n.Syntax.Kind
}

// Touches reports whether offset lies inside the node or on its end.
func (n *QueryNode) Touches(offset int) bool {
	return offset >= n.Start && offset <= n.End
}

// Innermost returns the deepest node touching offset, or nil. As with syntax
// nodes, a child ending at offset yields to a sibling starting there.
func (n *QueryNode) Innermost(offset int) *QueryNode {
	if n == nil || !n.Touches(offset) {
		return nil
	}
	cur := n
	for {
		var next *QueryNode
		for _, c := range cur.Children {
			if c.Touches(offset) {
				next = c
				if c.End > offset {
					break
				}
			}
		}
		if next == nil {
			return cur
		}
		cur = next
	}
}

// Enclosing returns the nearest ancestor-or-self of the given kind, or nil.
func (n *QueryNode) Enclosing(kind parser.NodeKind) *QueryNode {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Kind() == kind {
			return cur
		}
	}
	return nil
}

// Model is the semantic model of one statement.
type Model struct {
	Text      string
	IsCommand bool
	Tree      *parser.Tree // nil for commands
	Root      *QueryNode
	Symbols   []*SymbolEntry // ordered by Start
	Problems  []Problem
}

// SymbolAt returns the symbol touching offset. When two symbols touch it,
// the one starting at offset wins.
func (m *Model) SymbolAt(offset int) *SymbolEntry {
	i := sort.Search(len(m.Symbols), func(i int) bool {
		return m.Symbols[i].End >= offset
	})
	var found *SymbolEntry
	for ; i < len(m.Symbols) && m.Symbols[i].Start <= offset; i++ {
		if m.Symbols[i].Touches(offset) {
			found = m.Symbols[i]
			if found.Start == offset && found.End > offset {
				break
			}
		}
	}
	return found
}

// SymbolsIn returns the symbols intersecting [from, to).
func (m *Model) SymbolsIn(from, to int) []*SymbolEntry {
	var out []*SymbolEntry
	for _, s := range m.Symbols {
		if s.Start < to && s.End > from {
			out = append(out, s)
		}
	}
	return out
}

// InnermostNode returns the deepest query node touching offset.
func (m *Model) InnermostNode(offset int) *QueryNode {
	return m.Root.Innermost(offset)
}

// CoveredInterval returns the smallest range holding every symbol. It is
// empty when there are no symbols.
func (m *Model) CoveredInterval() (start, end int) {
	if len(m.Symbols) == 0 {
		return 0, 0
	}
	start, end = m.Symbols[0].Start, m.Symbols[0].End
	for _, s := range m.Symbols[1:] {
		end = max(end, s.End)
	}
	return start, end
}

// HasErrors reports whether any problem is an error.
func (m *Model) HasErrors() bool {
	for _, p := range m.Problems {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}
