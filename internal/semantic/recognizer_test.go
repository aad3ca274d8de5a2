package semantic

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlsense/internal/catalog"
	"github.com/leapstack-labs/sqlsense/pkg/parser"
)

const shopYAML = `
default_catalog: shop
default_schema: public
pseudo_columns: [rowid]
catalogs:
  - name: shop
    schemas:
      - name: public
        tables:
          - name: customers
            columns: [id, name, email]
          - name: orders
            columns: [id, customer_id, total]
      - name: sales
        tables:
          - name: regions
            kind: view
            columns: [id, name]
`

func newTestRecognizer(t *testing.T) *Recognizer {
	t.Helper()
	cat, err := catalog.ParseYAML([]byte(shopYAML))
	require.NoError(t, err)
	return NewRecognizer(Options{Catalog: cat, ReadMetadata: true})
}

func recognize(t *testing.T, r *Recognizer, text string) *Model {
	t.Helper()
	m := r.Recognize(context.Background(), text, false)
	require.NotNil(t, m)
	require.NotNil(t, m.Root)
	return m
}

// symbolAt returns the symbol starting at the nth occurrence of needle.
func symbolAt(t *testing.T, m *Model, needle string, nth int) *SymbolEntry {
	t.Helper()
	off := -1
	for i := 0; i <= nth; i++ {
		next := strings.Index(m.Text[off+1:], needle)
		require.GreaterOrEqual(t, next, 0, "occurrence %d of %q", i, needle)
		off += next + 1
	}
	for _, s := range m.Symbols {
		if s.Start == off {
			return s
		}
	}
	t.Fatalf("no symbol at %q (offset %d)", needle, off)
	return nil
}

// lastSymbol returns the symbol starting at the last occurrence of needle.
func lastSymbol(t *testing.T, m *Model, needle string) *SymbolEntry {
	t.Helper()
	off := strings.LastIndex(m.Text, needle)
	require.GreaterOrEqual(t, off, 0)
	s := m.SymbolAt(off)
	require.NotNil(t, s)
	require.Equal(t, off, s.Start)
	return s
}

func messages(m *Model) []string {
	out := make([]string, len(m.Problems))
	for i, p := range m.Problems {
		out[i] = p.Message
	}
	return out
}

func TestRecognizeSimpleSelect(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "SELECT id, c.email FROM customers c WHERE name = 'x'")

	assert.Empty(t, m.Problems)
	assert.False(t, m.IsCommand)

	sel := symbolAt(t, m, "SELECT", 0)
	assert.Equal(t, ClassKeyword, sel.Class)

	table := symbolAt(t, m, "customers", 0)
	assert.Equal(t, ClassTable, table.Class)
	require.NotNil(t, table.Definition)
	assert.Equal(t, "customers", table.Definition.Object.Name)

	alias := symbolAt(t, m, "c ", 0)
	assert.Equal(t, ClassTableAlias, alias.Class)

	qualifier := symbolAt(t, m, "c.", 0)
	assert.Equal(t, ClassTableAlias, qualifier.Class)
	assert.Same(t, alias, qualifier.Definition.Symbol)

	email := symbolAt(t, m, "email", 0)
	assert.Equal(t, ClassColumn, email.Class)
	require.IsType(t, MemberOfSource{}, email.Origin)
	assert.Equal(t, "c", email.Origin.(MemberOfSource).Source.Label())
	assert.Equal(t, "email", email.Definition.Column.Name)

	id := symbolAt(t, m, "id", 0)
	assert.Equal(t, ClassColumn, id.Class)
	assert.Equal(t, "customers", id.Definition.Column.Table.Name)

	assert.Equal(t, ClassColumn, symbolAt(t, m, "name", 0).Class)
	assert.Equal(t, ClassLiteral, symbolAt(t, m, "'x'", 0).Class)

	cols := m.Root.Result.Columns()
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Label)
	assert.Equal(t, "email", cols[1].Label)
}

func TestRecognizeSymbolsAreSorted(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "SELECT o.total, c.name FROM orders o JOIN customers c ON o.customer_id = c.id")
	for i := 1; i < len(m.Symbols); i++ {
		assert.LessOrEqual(t, m.Symbols[i-1].Start, m.Symbols[i].Start)
	}
	assert.Empty(t, m.Problems)
}

func TestRecognizeColumnProblems(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "unknown column",
			sql:  "SELECT nope FROM customers",
			want: []string{`unknown column "nope"`},
		},
		{
			name: "ambiguous column",
			sql:  "SELECT id FROM customers, orders",
			want: []string{`ambiguous column reference "id"`},
		},
		{
			name: "qualified column not found",
			sql:  "SELECT c.nope FROM customers c",
			want: []string{`column "nope" not found in c`},
		},
		{
			name: "unresolved table silences column checks",
			sql:  "SELECT anything FROM nosuch",
			want: []string{},
		},
		{
			name: "pseudo-column",
			sql:  "SELECT rowid FROM customers",
			want: []string{},
		},
		{
			name: "set operation branches are not ambiguous",
			sql:  "SELECT id FROM customers UNION SELECT id FROM orders ORDER BY id",
			want: []string{},
		},
		{
			name: "correlated subquery",
			sql:  "SELECT id FROM customers c WHERE EXISTS (SELECT 1 FROM orders o WHERE o.customer_id = c.id AND total > 0)",
			want: []string{},
		},
	}
	r := newTestRecognizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := recognize(t, r, tt.sql)
			assert.Equal(t, tt.want, messages(m))
		})
	}
}

func TestRecognizeUnresolvedTable(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "SELECT a FROM sales.nosuch")

	schema := symbolAt(t, m, "sales", 0)
	assert.Equal(t, ClassSchema, schema.Class)

	potential := symbolAt(t, m, "nosuch", 0)
	assert.Equal(t, ClassUnknown, potential.Class)
	require.IsType(t, PotentialObject{}, potential.Origin)
	origin := potential.Origin.(PotentialObject)
	assert.Equal(t, []string{"nosuch"}, origin.Parts)
	assert.Equal(t, "sales", origin.Parent.Name)

	a := symbolAt(t, m, "a ", 0)
	assert.Equal(t, ClassUnknown, a.Class)
	assert.Empty(t, m.Problems)
}

func TestRecognizeUnmatchedQualifier(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		want  []Problem
		table string
	}{
		{
			name:  "full path",
			sql:   "SELECT id FROM shop.public.customers",
			want:  []Problem{},
			table: "shop.public.customers",
		},
		{
			name: "unknown schema before a known table",
			sql:  "SELECT id FROM shop.nope.customers",
			want: []Problem{{Start: 15, End: 24, Severity: SeverityWarning,
				Message: `qualifier "shop.nope" does not match shop.public.customers`}},
			table: "shop.public.customers",
		},
		{
			name: "unknown catalog before a known view",
			sql:  "SELECT id FROM other.sales.regions",
			want: []Problem{{Start: 15, End: 20, Severity: SeverityWarning,
				Message: `qualifier "other" does not match shop.sales.regions`}},
			table: "shop.sales.regions",
		},
	}
	r := newTestRecognizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := recognize(t, r, tt.sql)
			problems := m.Problems
			if problems == nil {
				problems = []Problem{}
			}
			assert.Equal(t, tt.want, problems)

			assert.Equal(t, ClassColumn, symbolAt(t, m, "id", 0).Class)
			parts := strings.Split(tt.table, ".")
			table := lastSymbol(t, m, parts[len(parts)-1])
			assert.Equal(t, ClassTable, table.Class)
			require.NotNil(t, table.Definition)
			require.NotNil(t, table.Definition.Object)
			assert.Equal(t, tt.table, table.Definition.Object.QualifiedName())
		})
	}
}

func TestRecognizeQualifiedStar(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "SELECT r.* FROM sales.regions r")

	assert.Equal(t, ClassSchema, symbolAt(t, m, "sales", 0).Class)
	assert.Equal(t, ClassTable, symbolAt(t, m, "regions", 0).Class)

	star := symbolAt(t, m, "*", 0)
	assert.Equal(t, ClassColumn, star.Class)
	require.IsType(t, ExpandableTupleRef{}, star.Origin)
	assert.Equal(t, "r", star.Origin.(ExpandableTupleRef).Source.Label())

	cols := m.Root.Result.Columns()
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Label)
	assert.Equal(t, "name", cols[1].Label)
}

func TestRecognizeCTE(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "WITH t(a, b) AS (SELECT id, name FROM customers) SELECT a FROM t")
	assert.Empty(t, m.Problems)

	def := symbolAt(t, m, "t(", 0)
	assert.Equal(t, ClassTable, def.Class)

	use := lastSymbol(t, m, "t")
	assert.Equal(t, ClassTable, use.Class)
	assert.Same(t, def, use.Definition.Symbol)

	listed := symbolAt(t, m, "a,", 0)
	assert.Equal(t, ClassColumnAlias, listed.Class)

	ref := symbolAt(t, m, "a FROM", 0)
	assert.Equal(t, ClassColumn, ref.Class)
	assert.Same(t, listed, ref.Definition.Symbol)
}

func TestRecognizeRecursiveCTE(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "WITH RECURSIVE r(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM r WHERE n < 3) SELECT n FROM r")
	assert.Empty(t, m.Problems)

	inner := symbolAt(t, m, "r WHERE", 0)
	assert.Equal(t, ClassTable, inner.Class)
	for _, s := range m.Symbols {
		if s.Name == "n" {
			assert.NotEqual(t, ClassUnknown, s.Class, "n at %d", s.Start)
		}
	}
}

func TestRecognizeDerivedTable(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "SELECT x.a FROM (SELECT id AS a FROM customers) x")
	assert.Empty(t, m.Problems)

	alias := symbolAt(t, m, "x", 1)
	assert.Equal(t, ClassTableAlias, alias.Class)

	qualifier := symbolAt(t, m, "x.", 0)
	assert.Equal(t, ClassTableAlias, qualifier.Class)

	a := symbolAt(t, m, "a FROM", 0)
	assert.Equal(t, ClassColumn, a.Class)
	require.NotNil(t, a.Definition.Symbol)
	assert.Equal(t, ClassColumnAlias, a.Definition.Symbol.Class)
}

func TestRecognizeOrderByAlias(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "SELECT count(*) AS n FROM orders ORDER BY n")
	assert.Empty(t, m.Problems)
	assert.Equal(t, ClassFunction, symbolAt(t, m, "count", 0).Class)
	assert.Equal(t, ClassColumnAlias, lastSymbol(t, m, "n").Class)
}

func TestRecognizeDML(t *testing.T) {
	r := newTestRecognizer(t)

	m := recognize(t, r, "INSERT INTO orders (id, total) SELECT id, id FROM customers")
	assert.Empty(t, m.Problems)
	total := symbolAt(t, m, "total", 0)
	assert.Equal(t, ClassColumn, total.Class)
	assert.IsType(t, MemberOfSource{}, total.Origin)

	m = recognize(t, r, "UPDATE customers SET name = 'x' WHERE id = 1")
	assert.Empty(t, m.Problems)
	assert.Equal(t, ClassTable, symbolAt(t, m, "customers", 0).Class)
	assert.Equal(t, ClassColumn, symbolAt(t, m, "name", 0).Class)
	assert.Equal(t, ClassColumn, symbolAt(t, m, "id", 0).Class)

	m = recognize(t, r, "DELETE FROM orders WHERE nope = 1")
	assert.Equal(t, []string{`unknown column "nope"`}, messages(m))
}

func TestRecognizeWithoutMetadata(t *testing.T) {
	cat, err := catalog.ParseYAML([]byte(shopYAML))
	require.NoError(t, err)
	r := NewRecognizer(Options{Catalog: cat, ReadMetadata: false})

	m := recognize(t, r, "SELECT nope FROM customers")
	assert.Empty(t, m.Problems)
	table := symbolAt(t, m, "customers", 0)
	assert.Equal(t, ClassUnknown, table.Class)
	assert.IsType(t, PotentialObject{}, table.Origin)
}

func TestRecognizeVariables(t *testing.T) {
	r := NewRecognizer(Options{Variables: Variables{"Limit": "10"}})
	m := recognize(t, r, "SELECT ${limit}, ${other}")

	resolved := symbolAt(t, m, "${limit}", 0)
	assert.Equal(t, ClassVariable, resolved.Class)
	assert.Equal(t, VariableOrigin{Name: "limit", Value: "10", Resolved: true}, resolved.Origin)

	missing := symbolAt(t, m, "${other}", 0)
	assert.Equal(t, VariableOrigin{Name: "other", Value: "${other}"}, missing.Origin)
}

func TestRecognizeParseErrors(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "SELECT id FROM customers WHERE")
	assert.True(t, m.HasErrors())
	// The valid prefix is still analysed.
	assert.Equal(t, ClassColumn, symbolAt(t, m, "id", 0).Class)
}

func TestRecognizeProblemLimit(t *testing.T) {
	cat, err := catalog.ParseYAML([]byte(shopYAML))
	require.NoError(t, err)
	r := NewRecognizer(Options{Catalog: cat, ReadMetadata: true, MaxProblems: 2})

	text := "SELECT a, b, c, d FROM customers"
	m := recognize(t, r, text)
	require.Len(t, m.Problems, 3)
	last := m.Problems[2]
	assert.Equal(t, MsgTooManyProblems, last.Message)
	assert.Equal(t, SeverityWarning, last.Severity)
	assert.Equal(t, strings.Index(text, "c,"), last.Start)
	assert.Equal(t, len(text), last.End)
}

func TestRecognizeIsIdempotent(t *testing.T) {
	r := newTestRecognizer(t)
	text := "WITH t AS (SELECT id FROM orders) SELECT c.name, t.id FROM customers c JOIN t ON t.id = c.id"

	type flat struct {
		Start, End int
		Class      SymbolClass
	}
	flatten := func(m *Model) []flat {
		out := make([]flat, len(m.Symbols))
		for i, s := range m.Symbols {
			out[i] = flat{s.Start, s.End, s.Class}
		}
		return out
	}
	first := recognize(t, r, text)
	second := recognize(t, r, text)
	assert.Equal(t, flatten(first), flatten(second))
	assert.Equal(t, first.Problems, second.Problems)
}

func TestRecognizeMalformedInputNeverPanics(t *testing.T) {
	r := newTestRecognizer(t)
	inputs := []string{
		"",
		"SELECT",
		"SELECT c. FROM customers c",
		"SELECT * FROM (",
		"WITH AS SELECT",
		"SELECT (((",
		"INSERT INTO",
		"UPDATE SET",
		"SELECT a FROM t1 JOIN",
		"garbage ;; more",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { r.Recognize(context.Background(), in, false) }, in)
	}
}

func TestTrailingDotKeepsQualifier(t *testing.T) {
	r := newTestRecognizer(t)
	m := recognize(t, r, "SELECT c. FROM customers c")
	assert.Equal(t, ClassTableAlias, symbolAt(t, m, "c.", 0).Class)
}

func TestEveryNodeKindHasHandler(t *testing.T) {
	for _, k := range parser.Kinds() {
		_, ok := handlers[k]
		assert.True(t, ok, "no handler for %s", k)
	}
}
