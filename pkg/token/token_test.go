package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupIdent(t *testing.T) {
	tests := []struct {
		in   string
		want TokenType
	}{
		{"select", SELECT},
		{"from", FROM},
		{"natural", NATURAL},
		{"values", VALUES},
		{"table1", IDENT},
		{"SELECT", IDENT}, // lookup expects lowercase input
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, LookupIdent(tt.in))
		})
	}
}

func TestKeywordsAreNamed(t *testing.T) {
	kws := Keywords()
	assert.Contains(t, kws, "SELECT")
	assert.Contains(t, kws, "WHERE")
	for typ := ALL; typ < maxToken; typ++ {
		assert.True(t, IsKeyword(typ))
		assert.NotContains(t, typ.String(), "TOKEN(", "keyword %d has no name", typ)
	}
}

func TestIsOperator(t *testing.T) {
	assert.True(t, IsOperator(SEMICOLON))
	assert.True(t, IsOperator(AT))
	assert.False(t, IsOperator(IDENT))
	assert.False(t, IsOperator(SELECT))
}

func TestSpan(t *testing.T) {
	s := Span{Start: Position{Line: 1, Column: 1, Offset: 2}, End: Position{Line: 1, Column: 4, Offset: 5}}
	assert.True(t, s.Contains(2))
	assert.False(t, s.Contains(5))
	assert.True(t, s.Touches(5))
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.IsValid())
}
