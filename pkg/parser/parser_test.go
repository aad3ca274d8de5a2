package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kindsOf returns the kinds of n's direct children.
func kindsOf(n *Node) []NodeKind {
	var out []NodeKind
	for _, c := range n.Children {
		out = append(out, c.Kind)
	}
	return out
}

func query(t *testing.T, tree *Tree) *Node {
	t.Helper()
	require.NotNil(t, tree.Root)
	q := tree.Root.Child(KindQuery)
	require.NotNil(t, q, "statement has no query")
	return q
}

func TestParse_SelectStructure(t *testing.T) {
	tree := Parse("SELECT a, t.b AS x FROM s.t1 t JOIN t2 ON t.id = t2.id WHERE a > 1")
	assert.Empty(t, tree.Errors)

	sel := query(t, tree).Child(KindSelect)
	require.NotNil(t, sel)
	assert.Equal(t, []NodeKind{KindSelectList, KindFrom, KindWhere}, kindsOf(sel))

	list := sel.Child(KindSelectList)
	require.Len(t, list.Children, 2)
	second := list.Children[1]
	assert.Equal(t, []NodeKind{KindColumnRef, KindAlias}, kindsOf(second))
	assert.Equal(t, []string{"t", "b"}, second.Children[0].Parts())
	assert.Equal(t, "x", second.Child(KindAlias).Name())

	from := sel.Child(KindFrom)
	require.Len(t, from.Children, 1)
	join := from.Children[0]
	assert.Equal(t, KindJoin, join.Kind)
	assert.Equal(t, []NodeKind{KindTableRef, KindTableRef, KindJoinCondition}, kindsOf(join))
	assert.Equal(t, []string{"s", "t1"}, join.Children[0].Child(KindQualifiedName).Parts())
	assert.Equal(t, "t", join.Children[0].Child(KindAlias).Name())
}

func TestParse_TrailingDot(t *testing.T) {
	text := "SELECT * FROM table1 a WHERE a."
	tree := Parse(text)
	assert.Empty(t, tree.Errors)

	where := query(t, tree).Child(KindSelect).Child(KindWhere)
	require.NotNil(t, where)
	ref := where.Children[0]
	assert.Equal(t, KindColumnRef, ref.Kind)
	assert.Equal(t, []string{"a", ""}, ref.Parts())

	inner := tree.Root.Innermost(len(text))
	require.NotNil(t, inner)
	assert.Equal(t, KindIdentifier, inner.Kind)
	assert.Equal(t, len(text), inner.Start)
}

func TestParse_QualifiedStar(t *testing.T) {
	tree := Parse("SELECT t.* FROM Table1 t")
	assert.Empty(t, tree.Errors)

	item := query(t, tree).Child(KindSelect).Child(KindSelectList).Children[0]
	star := item.Child(KindStar)
	require.NotNil(t, star)
	assert.Equal(t, []string{"t"}, star.Child(KindQualifiedName).Parts())
	assert.Equal(t, 7, star.Start)
	assert.Equal(t, 10, star.End)
}

func TestParse_MissingTable(t *testing.T) {
	tree := Parse("SELECT * FROM ")
	require.NotEmpty(t, tree.Errors)
	from := query(t, tree).Child(KindSelect).Child(KindFrom)
	require.NotNil(t, from)
	assert.Empty(t, from.Children)
}

func TestParse_WithAndSetOperations(t *testing.T) {
	tree := Parse("WITH RECURSIVE c(x) AS (SELECT 1) SELECT x FROM c UNION ALL SELECT 2 ORDER BY 1 LIMIT 5")
	assert.Empty(t, tree.Errors)

	q := query(t, tree)
	assert.Equal(t, []NodeKind{KindWith, KindSetOp, KindOrderBy, KindLimit}, kindsOf(q))
	with := q.Child(KindWith)
	assert.True(t, with.IsRecursive())
	cte := with.Child(KindCTE)
	require.NotNil(t, cte)
	assert.Equal(t, []NodeKind{KindIdentifier, KindColumnList, KindQuery}, kindsOf(cte))

	setOp := q.Child(KindSetOp)
	assert.Equal(t, "UNION", setOp.Token.Literal)
	assert.Equal(t, []NodeKind{KindSelect, KindSelect}, kindsOf(setOp))
}

func TestParse_DerivedTableAndSubquery(t *testing.T) {
	tree := Parse("SELECT d.n FROM (SELECT name n FROM users) d WHERE EXISTS (SELECT 1 FROM orders o WHERE o.uid = d.n)")
	assert.Empty(t, tree.Errors)

	sel := query(t, tree).Child(KindSelect)
	dt := sel.Child(KindFrom).Children[0]
	assert.Equal(t, KindDerivedTable, dt.Kind)
	assert.Equal(t, []NodeKind{KindQuery, KindAlias}, kindsOf(dt))

	sub := sel.Child(KindWhere).Children[0]
	assert.Equal(t, KindSubquery, sub.Kind)
}

func TestParse_Statements(t *testing.T) {
	tests := []struct {
		sql  string
		kind NodeKind
	}{
		{"INSERT INTO t (a, b) VALUES (1, 2)", KindInsert},
		{"INSERT INTO t SELECT * FROM u", KindInsert},
		{"UPDATE t x SET a = 1, b = x.c WHERE x.id = 2", KindUpdate},
		{"DELETE FROM t WHERE id = 1", KindDelete},
		{"CREATE TABLE IF NOT EXISTS s.t (a int, b varchar(10))", KindCreate},
		{"CREATE VIEW v AS SELECT 1", KindCreate},
		{"DROP TABLE t", KindDrop},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			tree := Parse(tt.sql)
			assert.Empty(t, tree.Errors)
			require.Len(t, tree.Root.Children, 1)
			assert.Equal(t, tt.kind, tree.Root.Children[0].Kind)
		})
	}
}

func TestParse_Recovery(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"unknown statement", "SEL"},
		{"missing operand", "SELECT a FROM t WHERE a ="},
		{"garbage in select list", "SELECT a, ) b FROM t"},
		{"unbalanced parentheses", "SELECT (a FROM t"},
		{"trailing input", "SELECT 1; SELECT 2"},
		{"deep nesting", "SELECT " + strings.Repeat("(", 1000) + "1" + strings.Repeat(")", 1000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tree *Tree
			require.NotPanics(t, func() { tree = Parse(tt.sql) })
			assert.NotEmpty(t, tree.Errors)
			assert.Equal(t, 0, tree.Root.Start)
			assert.Equal(t, len(tt.sql), tree.Root.End)
		})
	}
}

func TestParse_DelimiterIncluded(t *testing.T) {
	tree := Parse("SELECT 1;")
	assert.Empty(t, tree.Errors)
	assert.Equal(t, 9, tree.Root.End)
}

func TestNodeKind_Exhaustive(t *testing.T) {
	for _, k := range Kinds() {
		assert.NotContains(t, k.String(), "Kind(", "kind %d has no name", int(k))
	}
	assert.Len(t, Kinds(), int(kindCount))
}
