package semantic

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/pkg/parser"
	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// frameKind identifies the scope a frame stands for.
type frameKind int

const (
	frameStatement frameKind = iota
	frameQuery
	frameSelect
	frameDML
)

// frame is the scope state of one query, SELECT or data modification
// statement while its subtree is walked.
type frame struct {
	kind  frameKind
	given *RowsDataContext

	// frameQuery
	scope *RowsSourceContext // given sources plus the CTEs defined so far
	body  *parser.Node

	// frameSelect, frameDML
	sources *RowsSourceContext
	pseudo  []*PseudoColumn
	from    *RowsDataContext // set once the FROM clause is done
	items   []*ResultColumn
	result  *RowsDataContext
}

type columnName struct {
	name string
	sym  *SymbolEntry
}

// analyzer walks one statement's syntax tree and builds its model.
type analyzer struct {
	text     string
	tree     *parser.Tree
	lookup   *lookup
	resolve  func(name string) VariableOrigin
	problems *problemCollector

	base    *RowsDataContext
	parent  map[*parser.Node]*parser.Node
	frames  map[*parser.Node]*frame
	nodes   map[*parser.Node]*QueryNode
	results map[*parser.Node]*RowsDataContext
	ctes    map[*parser.Node]*SourceInfo
	names   map[*parser.Node][]columnName // column lists by owner
	refs    map[*parser.Node]*ResultColumn
	refSyms map[*parser.Node]*SymbolEntry

	root    *QueryNode
	symbols []*SymbolEntry
}

func (r *Recognizer) recognizeQuery(ctx context.Context, text string) *Model {
	tree := parser.Parse(text)
	a := &analyzer{
		text:     text,
		tree:     tree,
		lookup:   newLookup(ctx, r.opts, r.logger),
		resolve:  r.resolveVariable,
		problems: newProblemCollector(r.opts.MaxProblems, len(text)),
		base:     NewRowsDataContext(nil, nil, nil),
		parent:   make(map[*parser.Node]*parser.Node),
		frames:   make(map[*parser.Node]*frame),
		nodes:    make(map[*parser.Node]*QueryNode),
		results:  make(map[*parser.Node]*RowsDataContext),
		ctes:     make(map[*parser.Node]*SourceInfo),
		names:    make(map[*parser.Node][]columnName),
		refs:     make(map[*parser.Node]*ResultColumn),
		refSyms:  make(map[*parser.Node]*SymbolEntry),
	}
	for _, e := range tree.Errors {
		end := e.End.Offset
		if end < e.Pos.Offset {
			end = e.Pos.Offset
		}
		a.problems.add(Problem{Start: e.Pos.Offset, End: end, Severity: SeverityError, Message: e.Message})
	}

	a.linkParents()
	parser.Walk(tree.Root, a)
	a.sweepTokens()

	sort.SliceStable(a.symbols, func(i, j int) bool {
		return a.symbols[i].Start < a.symbols[j].Start
	})
	return &Model{
		Text:     text,
		Tree:     tree,
		Root:     a.root,
		Symbols:  a.symbols,
		Problems: a.problems.problems(),
	}
}

// linkParents records the parent of every syntax node. Scopes are found by
// walking up from a node, which stays correct when children are deferred.
func (a *analyzer) linkParents() {
	var stack []*parser.Node
	parser.Walk(a.tree.Root, parser.VisitorFuncs{
		EnterFunc: func(n *parser.Node) parser.Traversal {
			if len(stack) > 0 {
				a.parent[n] = stack[len(stack)-1]
			}
			stack = append(stack, n)
			return parser.Descend
		},
		LeaveFunc: func(*parser.Node) {
			stack = stack[:len(stack)-1]
		},
	})
}

// Enter implements parser.Visitor.
func (a *analyzer) Enter(n *parser.Node) parser.Traversal {
	if h := handlers[n.Kind]; h.enter != nil {
		return h.enter(a, n)
	}
	return parser.Descend
}

// Leave implements parser.Visitor.
func (a *analyzer) Leave(n *parser.Node) {
	if h := handlers[n.Kind]; h.leave != nil {
		h.leave(a, n)
	}
}

// ---------- Scope helpers ----------

// enclosing returns the frame of the nearest strict ancestor that has one.
func (a *analyzer) enclosing(n *parser.Node) *frame {
	for p := a.parent[n]; p != nil; p = a.parent[p] {
		if f, ok := a.frames[p]; ok {
			return f
		}
	}
	return a.frames[a.tree.Root]
}

// dataOf returns the data context names resolve against inside f.
func (a *analyzer) dataOf(f *frame) *RowsDataContext {
	switch f.kind {
	case frameSelect, frameDML:
		if f.from != nil {
			return f.from
		}
		return NewRowsDataContext(f.sources, nil, f.pseudo)
	case frameQuery:
		if r := a.results[f.body]; f.body != nil && r != nil {
			return r
		}
		return NewRowsDataContext(f.scope, nil, nil)
	default:
		return f.given
	}
}

// givenFor returns the context a nested query receives from its parent.
func (a *analyzer) givenFor(q *parser.Node) *RowsDataContext {
	pf := a.enclosing(q)
	p := a.parent[q]
	if p == nil {
		return a.base
	}
	switch p.Kind {
	case parser.KindStatement, parser.KindInsert, parser.KindCreate:
		return pf.given
	case parser.KindDerivedTable:
		if p.Token.Type == token.LATERAL {
			return a.dataOf(pf)
		}
		return pf.given
	case parser.KindCTE, parser.KindSetOp, parser.KindQuery:
		if pf.kind == frameQuery {
			return NewRowsDataContext(pf.scope, nil, nil)
		}
		return pf.given
	default:
		return a.dataOf(pf)
	}
}

// newNode adds a model node for n under the nearest ancestor model node.
func (a *analyzer) newNode(n *parser.Node, given *RowsDataContext) *QueryNode {
	q := &QueryNode{Start: n.Start, End: n.End, Syntax: n, Given: given}
	for p := a.parent[n]; p != nil; p = a.parent[p] {
		if parent, ok := a.nodes[p]; ok {
			q.Parent = parent
			parent.Children = append(parent.Children, q)
			break
		}
	}
	a.nodes[n] = q
	return q
}

// queryBody returns the body of a Query node: the child that is neither
// the WITH clause nor a trailing ORDER BY or LIMIT.
func queryBody(q *parser.Node) *parser.Node {
	for _, c := range q.Children {
		switch c.Kind {
		case parser.KindWith, parser.KindOrderBy, parser.KindLimit:
		default:
			return c
		}
	}
	return nil
}

// ---------- Symbols ----------

// addSymbol records a symbol for an identifier-like node. Empty nodes, the
// placeholders the parser leaves after a trailing dot, get no symbol.
func (a *analyzer) addSymbol(n *parser.Node, class SymbolClass, origin Origin, def *Definition) *SymbolEntry {
	if n == nil || n.Start >= n.End {
		return nil
	}
	name := n.Token.Literal
	canonical := name
	if !n.Token.Quoted {
		canonical = catalog.Normalize(name)
	}
	s := &SymbolEntry{
		Start:      n.Start,
		End:        n.End,
		Name:       name,
		Canonical:  canonical,
		Class:      class,
		Origin:     origin,
		Definition: def,
	}
	a.symbols = append(a.symbols, s)
	return s
}

func (a *analyzer) addUnknown(ids []*parser.Node) {
	for _, id := range ids {
		a.addSymbol(id, ClassUnknown, nil, nil)
	}
}

// sweepTokens classifies every token not claimed by the walk: keywords as
// keywords and stray identifiers, typically inside malformed input, as
// unknown.
func (a *analyzer) sweepTokens() {
	claimed := make(map[int]bool, len(a.symbols))
	for _, s := range a.symbols {
		claimed[s.Start] = true
	}
	for _, tok := range a.tree.Tokens {
		if tok.Type == token.EOF || claimed[tok.Pos.Offset] || tok.Len() == 0 {
			continue
		}
		leaf := &parser.Node{Start: tok.Pos.Offset, End: tok.End.Offset, Token: tok}
		switch {
		case token.IsKeyword(tok.Type):
			s := a.addSymbol(leaf, ClassKeyword, nil, nil)
			s.Canonical = tok.Type.String()
		case tok.Type == token.IDENT:
			a.addSymbol(leaf, ClassUnknown, nil, nil)
		}
	}
}

// ---------- Name resolution ----------

// classifyPath classifies ids as the trailing path of obj: the last id names
// obj, the one before it obj's parent and so on. Ids left over once the path
// runs out are unknown. It returns the symbol of the last id.
func (a *analyzer) classifyPath(ids []*parser.Node, obj *catalog.Object) *SymbolEntry {
	var last *SymbolEntry
	cur := obj
	for i := len(ids) - 1; i >= 0; i-- {
		if cur == nil {
			a.addUnknown(ids[:i+1])
			break
		}
		var origin Origin
		if cur.Parent != nil {
			origin = MemberOfObject{Object: cur.Parent}
		}
		s := a.addSymbol(ids[i], classForObject(cur.Kind), origin, &Definition{Object: cur})
		if i == len(ids)-1 {
			last = s
		}
		cur = cur.Parent
	}
	return last
}

// classifyUnresolved classifies a name none of whose suffixes resolved. The
// longest prefix naming a database object is classified as that object; the
// part after it, or the first part when no prefix resolves, is marked as a
// potential object. Everything else is unknown.
func (a *analyzer) classifyUnresolved(ids []*parser.Node, parts []string) {
	for k := len(parts) - 1; k >= 1; k-- {
		obj := a.lookup.findObject(parts[:k])
		if obj == nil {
			continue
		}
		a.classifyPath(ids[:k], obj)
		a.addSymbol(ids[k], ClassUnknown, PotentialObject{Parts: parts[k:], Parent: obj}, nil)
		a.addUnknown(ids[k+1:])
		return
	}
	if len(ids) == 0 {
		return
	}
	a.addSymbol(ids[0], ClassUnknown, PotentialObject{Parts: parts}, nil)
	a.addUnknown(ids[1:])
}

// trimEmpty drops a trailing empty part left by an unfinished "name.".
func trimEmpty(ids []*parser.Node, parts []string) ([]*parser.Node, []string) {
	if n := len(parts); n > 0 && parts[n-1] == "" {
		return ids[:n-1], parts[:n-1]
	}
	return ids, parts
}

// resolveTable resolves the name of a table reference into a source. CTEs
// are tried first for single part names. Then metadata is queried from the
// full name down to its shortest suffix, stopping at the first that
// resolves. Leading parts left unmatched are flagged with a warning.
func (a *analyzer) resolveTable(ref *parser.Node, scope *RowsSourceContext) *SourceInfo {
	qn := ref.Child(parser.KindQualifiedName)
	if qn == nil {
		return &SourceInfo{Node: ref}
	}
	allParts := qn.Parts()
	ids, parts := trimEmpty(qn.Children, allParts)
	info := &SourceInfo{Parts: parts, Node: ref}
	if len(parts) == 0 {
		return info
	}
	info.Key = catalog.Normalize(parts[len(parts)-1])
	complete := len(parts) == len(allParts)

	if complete && len(parts) == 1 {
		if cte := scope.FindCte(parts[0]); cte != nil {
			info.Kind = SourceCTE
			info.Model = cte.Model
			info.Data = cte.Data
			info.Symbol = a.addSymbol(ids[0], ClassTable,
				DataContextOrigin{Context: NewRowsDataContext(scope, nil, nil)},
				&Definition{Symbol: cte.Symbol})
			return info
		}
	}

	if complete {
		for k := 0; k < len(parts); k++ {
			obj := a.lookup.findObject(parts[k:])
			if obj == nil {
				continue
			}
			a.addUnknown(ids[:k])
			if k > 0 {
				a.problems.addf(ids[0].Start, ids[k-1].End, SeverityWarning,
					"qualifier %q does not match %s", strings.Join(parts[:k], "."), obj.QualifiedName())
			}
			sym := a.classifyPath(ids[k:], obj)
			if obj.Kind.IsRelation() {
				info.Kind = SourceTable
				info.Table = obj
				info.Symbol = sym
			}
			return info
		}
	}

	a.classifyUnresolved(ids, parts)
	return info
}

// addTableSource resolves a table reference and adds it, with its alias and
// pseudo-columns, to f.
func (a *analyzer) addTableSource(ref *parser.Node, f *frame) {
	info := a.resolveTable(ref, f.sources)
	f.sources = f.sources.AppendSource(info)

	if alias := ref.Child(parser.KindAlias); alias != nil {
		if id := alias.Child(parser.KindIdentifier); id != nil {
			def := &Definition{Symbol: info.Symbol}
			if info.Table != nil {
				def = &Definition{Object: info.Table}
			}
			sym := a.addSymbol(id, ClassTableAlias, nil, def)
			f.sources = f.sources.AppendAlias(id.Token.Literal, sym)
		}
	}

	if info.Table != nil {
		head := f.sources.Head()
		for _, name := range a.lookup.pseudoColumns(info.Table) {
			f.pseudo = append(f.pseudo, &PseudoColumn{Name: name, Source: head})
		}
	}
}

// findSource returns the source a column qualifier names. A single part
// matches a source's visible name; longer qualifiers match the path of an
// unaliased table.
func findSource(prefix []string, scope *RowsSourceContext) *SourceInfo {
	if len(prefix) == 1 {
		return scope.Find(prefix[0])
	}
	for s := scope; s != nil; s = s.Outer() {
		for _, src := range s.Sources() {
			if src.Alias != nil {
				continue
			}
			if src.Table != nil && pathHasSuffix(src.Table.Path(), prefix) {
				return src
			}
			if pathHasSuffix(src.Parts, prefix) {
				return src
			}
		}
	}
	return nil
}

func pathHasSuffix(path, suffix []string) bool {
	if len(suffix) > len(path) {
		return false
	}
	off := len(path) - len(suffix)
	for i, p := range suffix {
		if catalog.Normalize(path[off+i]) != catalog.Normalize(p) {
			return false
		}
	}
	return true
}

// classifyQualifier classifies the parts of a column qualifier that named
// src.
func (a *analyzer) classifyQualifier(ids []*parser.Node, src *SourceInfo, d *RowsDataContext) {
	last := ids[len(ids)-1]
	switch {
	case src.Alias != nil && len(ids) == 1:
		a.addSymbol(last, ClassTableAlias, DataContextOrigin{Context: d}, &Definition{Symbol: src.Alias})
	case src.Table != nil:
		a.classifyPath(ids, src.Table)
	default:
		a.addUnknown(ids[:len(ids)-1])
		a.addSymbol(last, ClassTable, DataContextOrigin{Context: d}, &Definition{Symbol: src.Symbol})
	}
}

// resolveColumnRef classifies the parts of a column reference. The longest
// prefix naming a source wins and the part after it is a column of that
// source.
func (a *analyzer) resolveColumnRef(ref *parser.Node, d *RowsDataContext) {
	qn := ref.Child(parser.KindQualifiedName)
	if qn == nil {
		return
	}
	ids, parts := qn.Children, qn.Parts()
	attrs := a.lookup.attributeFunc()

	for k := len(parts) - 1; k >= 1; k-- {
		src := findSource(parts[:k], d.Sources())
		if src == nil {
			continue
		}
		a.classifyQualifier(ids[:k], src, d)
		a.resolveMember(ref, ids[k], src, attrs)
		a.addUnknown(ids[k+1:])
		return
	}

	if len(parts) == 1 {
		a.resolveUnqualified(ref, ids[0], d, attrs)
		return
	}
	ids, parts = trimEmpty(ids, parts)
	a.classifyUnresolved(ids, parts)
}

// resolveMember resolves id as a column of src.
func (a *analyzer) resolveMember(ref, id *parser.Node, src *SourceInfo, attrs AttributeFunc) {
	name := id.Token.Literal
	if name == "" {
		return
	}
	key := catalog.Normalize(name)
	cols := SourceColumns(src, attrs)
	for _, c := range cols {
		if catalog.Normalize(c.Label) != key {
			continue
		}
		def := &Definition{Column: c.Attribute, Symbol: c.Symbol}
		a.refSyms[ref] = a.addSymbol(id, ClassColumn, MemberOfSource{Source: src}, def)
		a.refs[ref] = c
		return
	}
	a.refSyms[ref] = a.addSymbol(id, ClassUnknown, MemberOfSource{Source: src}, nil)
	if len(cols) > 0 {
		a.problems.addf(id.Start, id.End, SeverityWarning, "column %q not found in %s", name, src.Label())
	}
}

// resolveUnqualified resolves a bare column name against d.
func (a *analyzer) resolveUnqualified(ref, id *parser.Node, d *RowsDataContext, attrs AttributeFunc) {
	name := id.Token.Literal
	if name == "" {
		return
	}
	origin := DataContextOrigin{Context: d}

	if res := d.ResolveColumn(name, attrs); res.Found() {
		c := res.Column
		class := ClassColumn
		def := &Definition{Column: c.Attribute, Symbol: c.Symbol}
		if c.Symbol != nil && c.Symbol.Class == ClassColumnAlias && slices.Contains(d.Columns(), c) {
			class = ClassColumnAlias
		}
		a.refSyms[ref] = a.addSymbol(id, class, origin, def)
		a.refs[ref] = c
		if res.Ambiguous {
			a.problems.addf(id.Start, id.End, SeverityWarning, "ambiguous column reference %q", name)
		}
		return
	}
	if p := d.ResolvePseudoColumn(name); p != nil {
		a.refSyms[ref] = a.addSymbol(id, ClassColumn, origin, nil)
		return
	}

	a.refSyms[ref] = a.addSymbol(id, ClassUnknown, PotentialObject{Parts: []string{name}}, nil)
	if a.canReportMissing(d, attrs) {
		a.problems.addf(id.Start, id.End, SeverityWarning, "unknown column %q", name)
	}
}

// canReportMissing reports whether every column visible in d is known, so
// that a name absent from d is certainly wrong.
func (a *analyzer) canReportMissing(d *RowsDataContext, attrs AttributeFunc) bool {
	if attrs == nil || d.Sources().Len() == 0 {
		return false
	}
	for s := d.Sources(); s != nil; s = s.Outer() {
		if s.HasUnresolvedSource() {
			return false
		}
		for _, src := range s.Sources() {
			if len(SourceColumns(src, attrs)) == 0 {
				return false
			}
		}
	}
	return true
}

// renameColumns applies a column list, as in "name(a, b) AS (...)", to the
// output columns of a query. Columns are matched by position, so every
// branch of a set operation is renamed.
func renameColumns(cols []*ResultColumn, names []columnName) []*ResultColumn {
	if len(names) == 0 {
		return cols
	}
	out := make([]*ResultColumn, 0, len(cols)+len(names))
	seen := make([]bool, len(names))
	for _, c := range cols {
		rc := *c
		if rc.Position < len(names) {
			n := names[rc.Position]
			rc.Label, rc.Symbol = n.name, n.sym
			seen[rc.Position] = true
		}
		out = append(out, &rc)
	}
	for i, n := range names {
		if !seen[i] {
			out = append(out, &ResultColumn{Label: n.name, Position: i, Symbol: n.sym})
		}
	}
	return out
}

// selectItemLabel returns the name a select list item is known by.
func selectItemLabel(expr, alias *parser.Node) string {
	if alias != nil {
		if id := alias.Child(parser.KindIdentifier); id != nil {
			return id.Token.Literal
		}
	}
	if expr == nil {
		return ""
	}
	switch expr.Kind {
	case parser.KindColumnRef, parser.KindFunctionCall:
		qn := expr.Child(parser.KindQualifiedName)
		if qn == nil {
			return ""
		}
		parts := qn.Parts()
		return parts[len(parts)-1]
	}
	return ""
}

// valuesColumns names the columns of a VALUES list column1, column2, ...
func valuesColumns(values *parser.Node) []*ResultColumn {
	if len(values.Children) == 0 {
		return nil
	}
	row := values.Children[0]
	out := make([]*ResultColumn, len(row.Children))
	for i := range row.Children {
		out[i] = &ResultColumn{Label: "column" + strconv.Itoa(i+1), Position: i, Node: row.Children[i]}
	}
	return out
}
