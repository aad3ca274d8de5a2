package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqlsense/pkg/token"
)

func TestLexer_Tokens(t *testing.T) {
	input := `SELECT a.b, 'it''s' FROM "T" -- trailing
;`
	want := []struct {
		typ TokenType
		lit string
	}{
		{token.SELECT, "SELECT"},
		{token.IDENT, "a"},
		{token.DOT, "."},
		{token.IDENT, "b"},
		{token.COMMA, ","},
		{token.STRING, "it's"},
		{token.FROM, "FROM"},
		{token.IDENT, "T"},
		{token.SEMICOLON, ";"},
		{token.EOF, ""},
	}

	l := NewLexer(input)
	for i, w := range want {
		tok := l.NextToken()
		assert.Equal(t, w.typ, tok.Type, "token %d", i)
		assert.Equal(t, w.lit, tok.Literal, "token %d", i)
	}
	require.Len(t, l.Comments, 1)
	assert.Equal(t, "-- trailing", l.Comments[0].Text)
	assert.Empty(t, l.Errors)
}

func TestLexer_Spans(t *testing.T) {
	toks := Tokenize("SELECT  x")
	require.Len(t, toks, 3)
	assert.Equal(t, 0, toks[0].Pos.Offset)
	assert.Equal(t, 6, toks[0].End.Offset)
	assert.Equal(t, 8, toks[1].Pos.Offset)
	assert.Equal(t, 9, toks[1].End.Offset)
	assert.Equal(t, 1, toks[1].Len())
}

func TestLexer_QuotedIdentifier(t *testing.T) {
	toks := Tokenize(`"col""name"`)
	require.Len(t, toks, 2)
	assert.Equal(t, token.IDENT, toks[0].Type)
	assert.Equal(t, `col"name`, toks[0].Literal)
	assert.True(t, toks[0].Quoted)
	assert.Equal(t, 11, toks[0].End.Offset)
}

func TestLexer_LineAndColumn(t *testing.T) {
	toks := Tokenize("a\n  b")
	require.Len(t, toks, 3)
	assert.Equal(t, token.Position{Line: 1, Column: 1, Offset: 0}, toks[0].Pos)
	assert.Equal(t, token.Position{Line: 2, Column: 3, Offset: 4}, toks[1].Pos)

	l := NewLexerAt("a\n  b", 2)
	tok := l.NextToken()
	assert.Equal(t, token.Position{Line: 2, Column: 3, Offset: 4}, tok.Pos)
}

func TestLexer_Tolerant(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		typ     TokenType
		literal string
	}{
		{"unterminated string", "'abc", token.STRING, "abc"},
		{"unterminated identifier", `"abc`, token.IDENT, "abc"},
		{"unterminated variable", "${abc", token.VARIABLE, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLexer(tt.input)
			tok := l.NextToken()
			assert.Equal(t, tt.typ, tok.Type)
			assert.Equal(t, tt.literal, tok.Literal)
			assert.Equal(t, len(tt.input), tok.End.Offset)
			assert.Len(t, l.Errors, 1)
			assert.Equal(t, token.EOF, l.NextToken().Type)
		})
	}

	l := NewLexer("/* open")
	assert.Equal(t, token.EOF, l.NextToken().Type)
	require.Len(t, l.Comments, 1)
	assert.False(t, l.Comments[0].Terminated)
	assert.Len(t, l.Errors, 1)
}

func TestLexer_ParamsAndVariables(t *testing.T) {
	toks := Tokenize("a = :p AND b = ? AND c = ${ var }")
	var got []string
	for _, tok := range toks {
		if tok.Type == token.PARAM || tok.Type == token.VARIABLE {
			got = append(got, tok.Type.String()+":"+tok.Literal)
		}
	}
	assert.Equal(t, []string{"PARAM:p", "PARAM:?", "VARIABLE:var"}, got)
}

func TestLexer_Numbers(t *testing.T) {
	for _, in := range []string{"1", "1.5", ".5", "1e10", "2E-3"} {
		toks := Tokenize(in)
		require.Len(t, toks, 2, in)
		assert.Equal(t, token.NUMBER, toks[0].Type, in)
		assert.Equal(t, in, toks[0].Literal)
	}
}
