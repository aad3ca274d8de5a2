package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
)

func tableSource(name string) *SourceInfo {
	return &SourceInfo{
		Kind:  SourceTable,
		Key:   catalog.Normalize(name),
		Parts: []string{name},
		Table: &catalog.Object{Kind: catalog.KindTable, Name: name},
	}
}

func attrsOf(cols map[string][]string) AttributeFunc {
	return func(t *catalog.Object) []catalog.Column {
		var out []catalog.Column
		for i, c := range cols[t.Name] {
			out = append(out, catalog.Column{Name: c, Position: i + 1, Table: t})
		}
		return out
	}
}

func TestRowsSourceContextIsPersistent(t *testing.T) {
	a := NewRowsSourceContext(nil).AppendSource(tableSource("a"))
	b := a.AppendSource(tableSource("b"))
	aliased := b.AppendAlias("x", &SymbolEntry{Name: "x"})

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, b.Len())
	assert.NotNil(t, b.FindLocal("b"))
	assert.Nil(t, b.FindLocal("x"))

	assert.Nil(t, aliased.FindLocal("b"))
	x := aliased.FindLocal("X")
	require.NotNil(t, x)
	assert.Equal(t, "x", x.Label())
	assert.Equal(t, "b", b.Head().Label())
}

func TestRowsSourceContextOuterAndCtes(t *testing.T) {
	cte := &SourceInfo{Kind: SourceCTE, Key: "t", Parts: []string{"t"}}
	outer := NewRowsSourceContext(nil).AppendSource(tableSource("a")).AppendCteSources(cte)
	inner := NewRowsSourceContext(outer).AppendSource(tableSource("b"))

	assert.Nil(t, inner.FindLocal("a"))
	assert.NotNil(t, inner.Find("a"))
	assert.Same(t, cte, inner.FindCte("T"))
	assert.Nil(t, inner.FindLocal("t"))
	assert.Equal(t, []*SourceInfo{cte}, inner.Ctes())
}

func TestCombine(t *testing.T) {
	unresolved := &SourceInfo{Key: "u"}
	a := NewRowsSourceContext(nil).AppendSource(tableSource("a"))
	b := NewRowsSourceContext(nil).AppendSource(unresolved).AppendSource(tableSource("b"))

	c := Combine(a, b)
	require.Equal(t, 3, c.Len())
	labels := []string{}
	for _, s := range c.Sources() {
		labels = append(labels, s.Key)
	}
	assert.Equal(t, []string{"a", "u", "b"}, labels)
	assert.True(t, c.HasUnresolvedSource())
	assert.False(t, a.HasUnresolvedSource())
	assert.Equal(t, 1, a.Len())
}

func TestResolveColumn(t *testing.T) {
	attrs := attrsOf(map[string][]string{
		"a": {"id", "name"},
		"b": {"id", "total"},
	})
	a, b := tableSource("a"), tableSource("b")
	sources := NewRowsSourceContext(nil).AppendSource(a).AppendSource(b)
	d := NewRowsDataContext(sources, nil, []*PseudoColumn{{Name: "rowid", Source: a}})

	tests := []struct {
		name      string
		column    string
		source    *SourceInfo
		ambiguous bool
	}{
		{name: "unique", column: "NAME", source: a},
		{name: "other source", column: "total", source: b},
		{name: "first listed wins", column: "id", source: a, ambiguous: true},
		{name: "missing", column: "nope"},
		{name: "pseudo-columns are separate", column: "rowid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.ResolveColumn(tt.column, attrs)
			if tt.source == nil {
				assert.False(t, res.Found())
				return
			}
			require.True(t, res.Found())
			assert.Same(t, tt.source, res.Column.Source)
			assert.Equal(t, tt.ambiguous, res.Ambiguous)
		})
	}

	p := d.ResolvePseudoColumn("ROWID")
	require.NotNil(t, p)
	assert.Same(t, a, p.Source)
}

func TestResolveColumnExplicitColumns(t *testing.T) {
	branch1 := []*ResultColumn{{Label: "id", Position: 0}, {Label: "v", Position: 1}}
	branch2 := []*ResultColumn{{Label: "id", Position: 0}, {Label: "w", Position: 1}}
	d := CombineData(NewRowsDataContext(nil, branch1, nil), NewRowsDataContext(nil, branch2, nil))

	res := d.ResolveColumn("id", nil)
	require.True(t, res.Found())
	assert.Same(t, branch1[0], res.Column)
	assert.False(t, res.Ambiguous)

	dup := NewRowsDataContext(nil, []*ResultColumn{
		{Label: "x", Position: 0},
		{Label: "x", Position: 1},
	}, nil)
	res = dup.ResolveColumn("x", nil)
	require.True(t, res.Found())
	assert.Equal(t, 0, res.Column.Position)
	assert.True(t, res.Ambiguous)

	byAttr := NewRowsDataContext(nil, []*ResultColumn{
		{Label: "renamed", Attribute: &catalog.Column{Name: "orig"}},
	}, nil)
	assert.True(t, byAttr.ResolveColumn("orig", nil).Found())
}

func TestResolveColumnOuterScope(t *testing.T) {
	attrs := attrsOf(map[string][]string{
		"outer": {"id", "x"},
		"inner": {"id"},
	})
	outer := NewRowsSourceContext(nil).AppendSource(tableSource("outer"))
	inner := NewRowsSourceContext(outer).AppendSource(tableSource("inner"))
	d := NewRowsDataContext(inner, nil, nil)

	res := d.ResolveColumn("id", attrs)
	require.True(t, res.Found())
	assert.Equal(t, "inner", res.Column.Source.Key)
	assert.False(t, res.Ambiguous)

	res = d.ResolveColumn("x", attrs)
	require.True(t, res.Found())
	assert.Equal(t, "outer", res.Column.Source.Key)
}

func TestRenameColumns(t *testing.T) {
	cols := []*ResultColumn{{Label: "a", Position: 0}, {Label: "b", Position: 1}, {Label: "a2", Position: 0}}
	out := renameColumns(cols, []columnName{{name: "x"}, {name: "y"}, {name: "z"}})

	labels := []string{}
	for _, c := range out {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{"x", "y", "x", "z"}, labels)
	assert.Equal(t, "a", cols[0].Label)
}
