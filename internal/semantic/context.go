package semantic

import (
	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/pkg/parser"
)

// SourceKind tells what a rows source is backed by.
type SourceKind int

// Source kinds.
const (
	SourceUnresolved SourceKind = iota
	SourceTable
	SourceCTE
	SourceDerived
)

func (k SourceKind) String() string {
	switch k {
	case SourceTable:
		return "table"
	case SourceCTE:
		return "cte"
	case SourceDerived:
		return "derived"
	default:
		return "unresolved"
	}
}

// SourceInfo describes one rows source: a table, view, CTE or derived table
// visible to a query under a name.
type SourceInfo struct {
	Kind  SourceKind
	Key   string   // normalized name the source is visible under
	Parts []string // name as written, empty for derived tables
	Node  *parser.Node
	Model *QueryNode       // query producing the rows of a CTE or derived table
	Table *catalog.Object  // resolved table or view
	Data  *RowsDataContext // output columns of a CTE or derived table
	// Alias is the alias symbol, if the source was renamed.
	Alias *SymbolEntry
	// Symbol is the symbol defining the source: the CTE name, or the last
	// part of a table reference.
	Symbol *SymbolEntry
}

// Resolved reports whether the source is known. A recursive CTE counts as
// known while its own body is analysed even though its columns are not.
func (s *SourceInfo) Resolved() bool {
	return s.Kind != SourceUnresolved
}

// Label returns the name the source is visible under as written.
func (s *SourceInfo) Label() string {
	if s.Alias != nil {
		return s.Alias.Name
	}
	if len(s.Parts) > 0 {
		return s.Parts[len(s.Parts)-1]
	}
	return ""
}

type sourceCell struct {
	info *SourceInfo
	next *sourceCell
}

// RowsSourceContext is an immutable scope of rows sources. Every Append
// method returns a new context sharing structure with the receiver, so
// contexts handed to sibling clauses never see each other's sources unless
// explicitly combined.
//
// The nil *RowsSourceContext is a valid empty scope.
type RowsSourceContext struct {
	outer      *RowsSourceContext
	head       *sourceCell // most recently added first
	ctes       *sourceCell
	size       int
	unresolved bool
}

// NewRowsSourceContext returns an empty scope nested in outer. Names not found
// in the new scope are looked up in outer, which is how correlated subqueries
// see the sources of their enclosing query.
func NewRowsSourceContext(outer *RowsSourceContext) *RowsSourceContext {
	return &RowsSourceContext{outer: outer}
}

func (c *RowsSourceContext) clone() *RowsSourceContext {
	if c == nil {
		return &RowsSourceContext{}
	}
	n := *c
	return &n
}

// Outer returns the enclosing scope, or nil.
func (c *RowsSourceContext) Outer() *RowsSourceContext {
	if c == nil {
		return nil
	}
	return c.outer
}

// AppendSource returns a scope with info added.
func (c *RowsSourceContext) AppendSource(info *SourceInfo) *RowsSourceContext {
	n := c.clone()
	n.head = &sourceCell{info: info, next: n.head}
	n.size++
	n.unresolved = n.unresolved || !info.Resolved()
	return n
}

// AppendAlias returns a scope in which the most recently added source is
// visible under alias instead of its name.
func (c *RowsSourceContext) AppendAlias(alias string, sym *SymbolEntry) *RowsSourceContext {
	if c == nil || c.head == nil {
		return c
	}
	info := *c.head.info
	info.Key = catalog.Normalize(alias)
	info.Alias = sym
	n := c.clone()
	n.head = &sourceCell{info: &info, next: c.head.next}
	return n
}

// AppendCteSources returns a scope in which ctes can be referenced by name.
// CTEs do not contribute columns until a FROM clause references them.
func (c *RowsSourceContext) AppendCteSources(ctes ...*SourceInfo) *RowsSourceContext {
	n := c.clone()
	for _, cte := range ctes {
		n.ctes = &sourceCell{info: cte, next: n.ctes}
	}
	return n
}

// Combine returns a scope holding the sources of a followed by those of b.
// The outer scope and CTEs of a are kept. Neither argument is modified.
func Combine(a, b *RowsSourceContext) *RowsSourceContext {
	n := a.clone()
	for _, info := range b.Sources() {
		n.head = &sourceCell{info: info, next: n.head}
		n.size++
	}
	n.unresolved = a.HasUnresolvedSource() || b.HasUnresolvedSource()
	return n
}

// Sources returns the sources of this scope, without outer scopes, in the
// order they were added.
func (c *RowsSourceContext) Sources() []*SourceInfo {
	if c == nil {
		return nil
	}
	out := make([]*SourceInfo, c.size)
	i := c.size
	for cell := c.head; cell != nil; cell = cell.next {
		i--
		out[i] = cell.info
	}
	return out
}

// Head returns the most recently added source of this scope, or nil.
func (c *RowsSourceContext) Head() *SourceInfo {
	if c == nil || c.head == nil {
		return nil
	}
	return c.head.info
}

// Len returns the number of sources in this scope.
func (c *RowsSourceContext) Len() int {
	if c == nil {
		return 0
	}
	return c.size
}

// HasUnresolvedSource reports whether any source of this scope failed to
// resolve. Consumers use it to avoid reporting columns as missing when
// they may come from the unknown source.
func (c *RowsSourceContext) HasUnresolvedSource() bool {
	return c != nil && c.unresolved
}

// FindLocal returns the first source of this scope visible under name.
func (c *RowsSourceContext) FindLocal(name string) *SourceInfo {
	key := catalog.Normalize(name)
	for _, info := range c.Sources() {
		if info.Key == key {
			return info
		}
	}
	return nil
}

// Find looks name up in this scope, then in the outer scopes.
func (c *RowsSourceContext) Find(name string) *SourceInfo {
	for s := c; s != nil; s = s.outer {
		if info := s.FindLocal(name); info != nil {
			return info
		}
	}
	return nil
}

// FindPath resolves a possibly qualified source reference such as "o" or
// "public.orders" the way column qualifiers resolve.
func (c *RowsSourceContext) FindPath(parts []string) *SourceInfo {
	if len(parts) == 0 {
		return nil
	}
	return findSource(parts, c)
}

// FindCte returns the CTE named name visible from this scope.
func (c *RowsSourceContext) FindCte(name string) *SourceInfo {
	key := catalog.Normalize(name)
	for s := c; s != nil; s = s.outer {
		for cell := s.ctes; cell != nil; cell = cell.next {
			if cell.info.Key == key {
				return cell.info
			}
		}
	}
	return nil
}

// Ctes returns every CTE visible from this scope, innermost first.
func (c *RowsSourceContext) Ctes() []*SourceInfo {
	var out []*SourceInfo
	seen := map[string]bool{}
	for s := c; s != nil; s = s.outer {
		for cell := s.ctes; cell != nil; cell = cell.next {
			if !seen[cell.info.Key] {
				seen[cell.info.Key] = true
				out = append(out, cell.info)
			}
		}
	}
	return out
}

// ResultColumn is a column of a rows data context.
type ResultColumn struct {
	Label string
	// Position is the ordinal of the column within the list that produced
	// it. Columns of different set operation branches share positions.
	Position  int
	Source    *SourceInfo
	Attribute *catalog.Column
	Symbol    *SymbolEntry
	Node      *parser.Node
}

// PseudoColumn is a row-level column such as rowid that is not part of the
// table's attribute list.
type PseudoColumn struct {
	Name   string
	Source *SourceInfo
}

// AttributeFunc returns the columns of a table, or nil when they are not
// available.
type AttributeFunc func(table *catalog.Object) []catalog.Column

// RowsDataContext is the immutable set of columns and sources visible at a
// point of a query.
type RowsDataContext struct {
	sources *RowsSourceContext
	columns []*ResultColumn
	pseudo  []*PseudoColumn
}

// NewRowsDataContext returns a data context. The slices are copied.
func NewRowsDataContext(sources *RowsSourceContext, columns []*ResultColumn, pseudo []*PseudoColumn) *RowsDataContext {
	return &RowsDataContext{
		sources: sources,
		columns: append([]*ResultColumn(nil), columns...),
		pseudo:  append([]*PseudoColumn(nil), pseudo...),
	}
}

// Sources returns the scope the context was built from.
func (d *RowsDataContext) Sources() *RowsSourceContext {
	if d == nil {
		return nil
	}
	return d.sources
}

// Columns returns the explicitly listed columns. The slice must not be
// modified.
func (d *RowsDataContext) Columns() []*ResultColumn {
	if d == nil {
		return nil
	}
	return d.columns
}

// PseudoColumns returns the pseudo-columns. The slice must not be modified.
func (d *RowsDataContext) PseudoColumns() []*PseudoColumn {
	if d == nil {
		return nil
	}
	return d.pseudo
}

// WithColumns returns a context with the same sources and the given columns.
func (d *RowsDataContext) WithColumns(columns []*ResultColumn) *RowsDataContext {
	return NewRowsDataContext(d.Sources(), columns, d.PseudoColumns())
}

// HasUnresolvedSource reports whether any source of the context's scope is
// unresolved.
func (d *RowsDataContext) HasUnresolvedSource() bool {
	return d.Sources().HasUnresolvedSource()
}

// CombineData concatenates two data contexts, as for the branches of a set
// operation. Columns with the same name are all kept.
func CombineData(a, b *RowsDataContext) *RowsDataContext {
	return &RowsDataContext{
		sources: Combine(a.Sources(), b.Sources()),
		columns: append(append([]*ResultColumn(nil), a.Columns()...), b.Columns()...),
		pseudo:  append(append([]*PseudoColumn(nil), a.PseudoColumns()...), b.PseudoColumns()...),
	}
}

// SourceColumns returns the columns a source exposes: the output of a CTE
// or derived table, or the attributes of a table when attrs can read them.
func SourceColumns(src *SourceInfo, attrs AttributeFunc) []*ResultColumn {
	switch {
	case src.Data != nil:
		cols := src.Data.Columns()
		out := make([]*ResultColumn, len(cols))
		for i, c := range cols {
			rc := *c
			rc.Source = src
			rc.Position = i
			out[i] = &rc
		}
		return out
	case src.Table != nil && attrs != nil:
		attributes := attrs(src.Table)
		out := make([]*ResultColumn, len(attributes))
		for i := range attributes {
			out[i] = &ResultColumn{
				Label:     attributes[i].Name,
				Position:  i,
				Source:    src,
				Attribute: &attributes[i],
			}
		}
		return out
	}
	return nil
}

// VisibleColumns returns the explicit columns followed by the columns of
// every source of the context's own scope.
func (d *RowsDataContext) VisibleColumns(attrs AttributeFunc) []*ResultColumn {
	out := append([]*ResultColumn(nil), d.Columns()...)
	for _, src := range d.Sources().Sources() {
		out = append(out, SourceColumns(src, attrs)...)
	}
	return out
}

// Resolution is the outcome of resolving a column name.
type Resolution struct {
	Column *ResultColumn
	// Ambiguous is set when more than one distinct column matched. Column
	// is then the first one listed.
	Ambiguous bool
}

// Found reports whether a column was resolved.
func (r Resolution) Found() bool {
	return r.Column != nil
}

// ResolveColumn resolves an unqualified column name. Explicit columns are
// matched by label, then by the name of their underlying attribute. Failing
// that, the columns of each source are probed, scope by scope outwards.
//
// When several columns match, the first listed wins and the resolution is
// flagged ambiguous. Explicit columns sharing a position (set operation
// branches) are not ambiguous, nor is one source exposing a name once.
func (d *RowsDataContext) ResolveColumn(name string, attrs AttributeFunc) Resolution {
	key := catalog.Normalize(name)

	var byLabel, byAttr []*ResultColumn
	for _, c := range d.Columns() {
		switch {
		case catalog.Normalize(c.Label) == key:
			byLabel = append(byLabel, c)
		case c.Attribute != nil && catalog.Normalize(c.Attribute.Name) == key:
			byAttr = append(byAttr, c)
		}
	}
	if r, ok := pickByPosition(byLabel); ok {
		return r
	}
	if r, ok := pickByPosition(byAttr); ok {
		return r
	}

	for scope := d.Sources(); scope != nil; scope = scope.Outer() {
		var matches []*ResultColumn
		for _, src := range scope.Sources() {
			for _, c := range SourceColumns(src, attrs) {
				if catalog.Normalize(c.Label) == key {
					matches = append(matches, c)
					break
				}
			}
		}
		if len(matches) > 0 {
			return Resolution{Column: matches[0], Ambiguous: len(matches) > 1}
		}
	}
	return Resolution{}
}

func pickByPosition(matches []*ResultColumn) (Resolution, bool) {
	if len(matches) == 0 {
		return Resolution{}, false
	}
	r := Resolution{Column: matches[0]}
	for _, m := range matches[1:] {
		if m.Position != matches[0].Position {
			r.Ambiguous = true
		}
	}
	return r, true
}

// ResolvePseudoColumn looks name up among the pseudo-columns. Pseudo-columns
// form their own namespace and are only consulted once ResolveColumn fails.
func (d *RowsDataContext) ResolvePseudoColumn(name string) *PseudoColumn {
	key := catalog.Normalize(name)
	for _, p := range d.PseudoColumns() {
		if catalog.Normalize(p.Name) == key {
			return p
		}
	}
	return nil
}
