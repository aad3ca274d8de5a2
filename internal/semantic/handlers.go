package semantic

import (
	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/pkg/parser"
	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// handler reacts to one kind of syntax node during the walk.
type handler struct {
	enter func(a *analyzer, n *parser.Node) parser.Traversal
	leave func(a *analyzer, n *parser.Node)
}

// handlers has an entry for every node kind, even when there is nothing to
// do, so that a new kind cannot be silently ignored.
var handlers map[parser.NodeKind]handler

func init() {
	handlers = map[parser.NodeKind]handler{
		parser.KindError:      {},
		parser.KindStatement:  {enter: enterStatement, leave: leaveStatement},
		parser.KindQuery:      {enter: enterQuery, leave: leaveQuery},
		parser.KindWith:       {},
		parser.KindCTE:        {enter: enterCTE, leave: leaveCTE},
		parser.KindColumnList: {leave: leaveColumnList},
		parser.KindSetOp:      {enter: enterSetOp, leave: leaveSetOp},
		parser.KindSelect:     {enter: enterSelect, leave: leaveSelect},
		parser.KindSelectList: {enter: enterSelectList, leave: leaveSelectList},
		parser.KindSelectItem: {leave: leaveSelectItem},
		parser.KindStar:       {enter: enterStar},
		parser.KindFrom:       {enter: enterClause, leave: leaveFrom},
		parser.KindTableRef:   {enter: enterTableRef},
		parser.KindDerivedTable: {
			enter: enterClause,
			leave: leaveDerivedTable,
		},
		parser.KindJoin:          {},
		parser.KindJoinCondition: {},
		parser.KindWhere:         {enter: enterClause},
		parser.KindGroupBy:       {enter: enterClause},
		parser.KindHaving:        {enter: enterClause},
		parser.KindOrderBy:       {enter: enterClause},
		parser.KindLimit:         {enter: enterClause},
		parser.KindValues:        {enter: enterClause, leave: leaveValues},
		parser.KindQualifiedName: {},
		parser.KindIdentifier:    {},
		parser.KindAlias:         {enter: enterAlias},
		parser.KindColumnRef:     {enter: enterColumnRef},
		parser.KindFunctionCall:  {enter: enterFunctionCall},
		parser.KindSubquery:      {},
		parser.KindLiteral:       {enter: enterLiteral},
		parser.KindParam:         {enter: enterParam},
		parser.KindVariable:      {enter: enterVariable},
		parser.KindExpression:    {},
		parser.KindInsert:        {enter: enterDML, leave: leaveDML},
		parser.KindUpdate:        {enter: enterDML, leave: leaveDML},
		parser.KindDelete:        {enter: enterDML, leave: leaveDML},
		parser.KindAssignment:    {enter: enterAssignment},
		parser.KindCreate:        {},
		parser.KindDrop:          {},
	}
}

// ---------- Statements and queries ----------

func enterStatement(a *analyzer, n *parser.Node) parser.Traversal {
	a.frames[n] = &frame{kind: frameStatement, given: a.base}
	a.root = a.newNode(n, a.base)
	return parser.Descend
}

func leaveStatement(a *analyzer, n *parser.Node) {
	for _, c := range n.Children {
		if r, ok := a.results[c]; ok {
			a.root.Result = r
			return
		}
		if q, ok := a.nodes[c]; ok && q.Result != nil {
			a.root.Result = q.Result
			return
		}
	}
}

func enterQuery(a *analyzer, n *parser.Node) parser.Traversal {
	given := a.givenFor(n)
	a.frames[n] = &frame{
		kind:  frameQuery,
		given: given,
		scope: given.Sources().AppendCteSources(),
		body:  queryBody(n),
	}
	a.newNode(n, given)
	return parser.Descend
}

func leaveQuery(a *analyzer, n *parser.Node) {
	res := a.dataOf(a.frames[n])
	a.results[n] = res
	a.nodes[n].Result = res
}

func enterCTE(a *analyzer, n *parser.Node) parser.Traversal {
	f := a.enclosing(n)
	id := n.Child(parser.KindIdentifier)
	info := &SourceInfo{Kind: SourceCTE, Node: n}
	if id != nil {
		info.Key = catalog.Normalize(id.Token.Literal)
		info.Parts = []string{id.Token.Literal}
		info.Symbol = a.addSymbol(id, ClassTable, nil, nil)
	}
	a.ctes[n] = info
	a.newNode(n, NewRowsDataContext(f.scope, nil, nil))
	if with := a.parent[n]; with != nil && with.IsRecursive() && id != nil {
		f.scope = f.scope.AppendCteSources(info)
	}
	return parser.Descend
}

func leaveCTE(a *analyzer, n *parser.Node) {
	f := a.enclosing(n)
	info := a.ctes[n]
	if body := n.Child(parser.KindQuery); body != nil {
		info.Model = a.nodes[body]
		info.Data = NewRowsDataContext(nil, renameColumns(a.results[body].Columns(), a.names[n]), nil)
	}
	a.nodes[n].Result = info.Data
	with := a.parent[n]
	if info.Key != "" && (with == nil || !with.IsRecursive()) {
		f.scope = f.scope.AppendCteSources(info)
	}
}

func enterSetOp(a *analyzer, n *parser.Node) parser.Traversal {
	a.newNode(n, a.givenFor(n))
	return parser.Descend
}

func leaveSetOp(a *analyzer, n *parser.Node) {
	var res *RowsDataContext
	for _, c := range n.Children {
		r, ok := a.results[c]
		if !ok {
			continue
		}
		if res == nil {
			res = r
		} else {
			res = CombineData(res, r)
		}
	}
	if res == nil {
		res = NewRowsDataContext(nil, nil, nil)
	}
	a.results[n] = res
	a.nodes[n].Result = res
}

func leaveValues(a *analyzer, n *parser.Node) {
	res := NewRowsDataContext(nil, valuesColumns(n), nil)
	a.results[n] = res
	a.nodes[n].Result = res
}

// ---------- SELECT ----------

func enterSelect(a *analyzer, n *parser.Node) parser.Traversal {
	given := a.givenFor(n)
	a.frames[n] = &frame{
		kind:    frameSelect,
		given:   given,
		sources: NewRowsSourceContext(given.Sources()),
	}
	a.newNode(n, given)
	return parser.Descend
}

func leaveSelect(a *analyzer, n *parser.Node) {
	f := a.frames[n]
	if f.result == nil {
		d := a.dataOf(f)
		f.result = NewRowsDataContext(d.Sources(), f.items, d.PseudoColumns())
	}
	a.results[n] = f.result
	a.nodes[n].Result = f.result
}

// enterSelectList postpones the select list until the rest of the SELECT,
// FROM in particular, has been analysed.
func enterSelectList(a *analyzer, n *parser.Node) parser.Traversal {
	a.newNode(n, nil)
	return parser.DeferChildren
}

func leaveSelectList(a *analyzer, n *parser.Node) {
	f := a.enclosing(n)
	d := a.dataOf(f)
	f.result = NewRowsDataContext(d.Sources(), f.items, d.PseudoColumns())
	q := a.nodes[n]
	q.Given = d
	q.Result = f.result
}

func leaveSelectItem(a *analyzer, n *parser.Node) {
	f := a.enclosing(n)
	if len(n.Children) == 0 {
		return
	}
	expr := n.Children[0]
	if expr.Kind == parser.KindStar {
		for _, c := range a.expandStar(expr, f) {
			c.Position = len(f.items)
			c.Node = n
			f.items = append(f.items, c)
		}
		return
	}

	alias := n.Child(parser.KindAlias)
	rc := &ResultColumn{
		Label:    selectItemLabel(expr, alias),
		Position: len(f.items),
		Node:     n,
		Symbol:   a.refSyms[expr],
	}
	if ref := a.refs[expr]; ref != nil {
		rc.Source = ref.Source
		rc.Attribute = ref.Attribute
	}
	if alias != nil {
		if s := a.refSyms[alias]; s != nil {
			rc.Symbol = s
		}
	}
	f.items = append(f.items, rc)
}

// expandStar returns the columns a star in a select list stands for.
func (a *analyzer) expandStar(star *parser.Node, f *frame) []*ResultColumn {
	attrs := a.lookup.attributeFunc()
	d := a.dataOf(f)
	if qn := star.Child(parser.KindQualifiedName); qn != nil {
		src := findSource(qn.Parts(), d.Sources())
		if src == nil {
			return nil
		}
		return SourceColumns(src, attrs)
	}
	var out []*ResultColumn
	for _, src := range d.Sources().Sources() {
		out = append(out, SourceColumns(src, attrs)...)
	}
	return out
}

func enterStar(a *analyzer, n *parser.Node) parser.Traversal {
	p := a.parent[n]
	if p == nil || p.Kind != parser.KindSelectItem {
		return parser.SkipChildren
	}
	d := a.dataOf(a.enclosing(n))
	origin := ExpandableTupleRef{Context: d}
	if qn := n.Child(parser.KindQualifiedName); qn != nil {
		parts := qn.Parts()
		if src := findSource(parts, d.Sources()); src != nil {
			a.classifyQualifier(qn.Children, src, d)
			origin.Source = src
		} else {
			a.classifyUnresolved(qn.Children, parts)
		}
	}
	leaf := &parser.Node{Start: n.Token.Pos.Offset, End: n.Token.End.Offset, Token: n.Token}
	a.addSymbol(leaf, ClassColumn, origin, nil)
	return parser.SkipChildren
}

func enterAlias(a *analyzer, n *parser.Node) parser.Traversal {
	if p := a.parent[n]; p != nil && p.Kind == parser.KindSelectItem {
		a.refSyms[n] = a.addSymbol(n.Child(parser.KindIdentifier), ClassColumnAlias, nil, nil)
	}
	// Table and derived table aliases are classified with their source.
	return parser.SkipChildren
}

// ---------- FROM ----------

// enterClause gives a clause its own model node.
func enterClause(a *analyzer, n *parser.Node) parser.Traversal {
	a.newNode(n, a.dataOf(a.enclosing(n)))
	return parser.Descend
}

func leaveFrom(a *analyzer, n *parser.Node) {
	f := a.enclosing(n)
	f.from = NewRowsDataContext(f.sources, nil, f.pseudo)
	a.nodes[n].Result = f.from
}

func enterTableRef(a *analyzer, n *parser.Node) parser.Traversal {
	p := a.parent[n]
	f := a.enclosing(n)
	switch {
	case p != nil && (p.Kind == parser.KindCreate || p.Kind == parser.KindDrop):
		a.resolveTable(n, f.given.Sources())
	case f.kind == frameSelect || f.kind == frameDML:
		a.addTableSource(n, f)
	default:
		a.resolveTable(n, nil)
	}
	return parser.SkipChildren
}

func leaveDerivedTable(a *analyzer, n *parser.Node) {
	f := a.enclosing(n)
	info := &SourceInfo{Kind: SourceDerived, Node: n}
	if q := n.Child(parser.KindQuery); q != nil {
		info.Model = a.nodes[q]
		info.Data = NewRowsDataContext(nil, renameColumns(a.results[q].Columns(), a.names[n]), nil)
	}
	if alias := n.Child(parser.KindAlias); alias != nil {
		if id := alias.Child(parser.KindIdentifier); id != nil {
			info.Key = catalog.Normalize(id.Token.Literal)
			info.Symbol = a.addSymbol(id, ClassTableAlias, nil, nil)
			info.Alias = info.Symbol
		}
	}
	a.nodes[n].Result = info.Data
	if f.kind == frameSelect || f.kind == frameDML {
		f.sources = f.sources.AppendSource(info)
	}
}

// leaveColumnList classifies the identifiers of a column list according to
// what owns the list.
func leaveColumnList(a *analyzer, n *parser.Node) {
	owner := a.parent[n]
	if owner == nil {
		return
	}
	switch owner.Kind {
	case parser.KindCTE, parser.KindDerivedTable:
		names := make([]columnName, 0, len(n.Children))
		for _, id := range n.Children {
			sym := a.addSymbol(id, ClassColumnAlias, nil, nil)
			names = append(names, columnName{name: id.Token.Literal, sym: sym})
		}
		a.names[owner] = names
		if owner.Kind == parser.KindCTE {
			// Visible to a recursive body before the body is analysed.
			info := a.ctes[owner]
			info.Data = NewRowsDataContext(nil, renameColumns(nil, names), nil)
		}
	case parser.KindJoinCondition:
		f := a.enclosing(n)
		d := a.dataOf(f)
		attrs := a.lookup.attributeFunc()
		for _, id := range n.Children {
			res := d.ResolveColumn(id.Token.Literal, attrs)
			if !res.Found() {
				a.addSymbol(id, ClassUnknown, PotentialObject{Parts: []string{id.Token.Literal}}, nil)
				continue
			}
			a.addSymbol(id, ClassColumn, DataContextOrigin{Context: d}, &Definition{Column: res.Column.Attribute})
		}
	case parser.KindInsert:
		f := a.enclosing(n)
		target := f.sources.Head()
		if target == nil {
			a.addUnknown(n.Children)
			return
		}
		attrs := a.lookup.attributeFunc()
		for _, id := range n.Children {
			a.resolveMember(id, id, target, attrs)
		}
	default:
		a.addUnknown(n.Children)
	}
}

// ---------- Expressions ----------

func enterColumnRef(a *analyzer, n *parser.Node) parser.Traversal {
	a.resolveColumnRef(n, a.dataOf(a.enclosing(n)))
	return parser.SkipChildren
}

func enterFunctionCall(a *analyzer, n *parser.Node) parser.Traversal {
	if qn := n.Child(parser.KindQualifiedName); qn != nil && len(qn.Children) > 0 {
		ids := qn.Children
		a.addUnknown(ids[:len(ids)-1])
		a.refSyms[n] = a.addSymbol(ids[len(ids)-1], ClassFunction, nil, nil)
	}
	return parser.Descend
}

func enterLiteral(a *analyzer, n *parser.Node) parser.Traversal {
	switch n.Token.Type {
	case token.STRING, token.NUMBER:
		if s := a.addSymbol(n, ClassLiteral, nil, nil); s != nil {
			s.Canonical = n.Token.Literal
		}
	}
	return parser.SkipChildren
}

func enterParam(a *analyzer, n *parser.Node) parser.Traversal {
	a.addSymbol(n, ClassParameter, nil, nil)
	return parser.SkipChildren
}

func enterVariable(a *analyzer, n *parser.Node) parser.Traversal {
	if s := a.addSymbol(n, ClassVariable, a.resolve(n.Token.Literal), nil); s != nil {
		s.Canonical = n.Token.Literal
	}
	return parser.SkipChildren
}

// ---------- Data modification ----------

func enterDML(a *analyzer, n *parser.Node) parser.Traversal {
	given := a.enclosing(n).given
	a.frames[n] = &frame{
		kind:    frameDML,
		given:   given,
		sources: NewRowsSourceContext(given.Sources()),
	}
	a.newNode(n, given)
	return parser.Descend
}

func leaveDML(a *analyzer, n *parser.Node) {
	a.nodes[n].Result = a.dataOf(a.frames[n])
}

// enterAssignment postpones SET assignments until the FROM clause of an
// UPDATE has been analysed.
func enterAssignment(*analyzer, *parser.Node) parser.Traversal {
	return parser.DeferChildren
}
