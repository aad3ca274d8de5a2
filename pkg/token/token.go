// Package token defines the lexical tokens of the SQL dialect understood by
// the analysis engine.
//
// Token types are plain constants so that the lexer, the statement splitter
// and the completion clause tracker can switch on them cheaply.
package token

import "fmt"

// TokenType represents the type of a lexical token.
//
//nolint:revive // Accept stutter as token.TokenType is clear and widely used
type TokenType int32

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Literals
	IDENT    // identifier, quoted or not
	NUMBER   // 123, 45.67, 1e10
	STRING   // 'hello'
	PARAM    // :name or ?
	VARIABLE // ${name}

	// Operators
	PLUS      // +
	MINUS     // -
	STAR      // *
	SLASH     // /
	PERCENT   // %
	DPIPE     // ||
	EQ        // =
	NE        // != or <>
	LT        // <
	GT        // >
	LE        // <=
	GE        // >=
	DOT       // .
	COMMA     // ,
	SEMICOLON // ;
	LPAREN    // (
	RPAREN    // )
	LBRACKET  // [
	RBRACKET  // ]
	AT        // @ command marker

	// Keywords (alphabetical)
	ALL
	AND
	AS
	ASC
	BETWEEN
	BY
	CASE
	CAST
	CREATE
	CROSS
	DELETE
	DESC
	DISTINCT
	DROP
	ELSE
	END
	EXCEPT
	EXISTS
	FALSE
	FROM
	FULL
	GROUP
	HAVING
	IN
	INNER
	INSERT
	INTERSECT
	INTO
	IS
	JOIN
	LATERAL
	LEFT
	LIKE
	LIMIT
	NATURAL
	NOT
	NULL
	OFFSET
	ON
	OR
	ORDER
	OUTER
	RECURSIVE
	RIGHT
	SELECT
	SET
	TABLE
	THEN
	TRUE
	UNION
	UPDATE
	USING
	VALUES
	VIEW
	WHEN
	WHERE
	WITH

	maxToken
)

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

var tokenNames = map[TokenType]string{
	EOF:      "EOF",
	ILLEGAL:  "ILLEGAL",
	IDENT:    "IDENT",
	NUMBER:   "NUMBER",
	STRING:   "STRING",
	PARAM:    "PARAM",
	VARIABLE: "VARIABLE",

	PLUS:      "+",
	MINUS:     "-",
	STAR:      "*",
	SLASH:     "/",
	PERCENT:   "%",
	DPIPE:     "||",
	EQ:        "=",
	NE:        "!=",
	LT:        "<",
	GT:        ">",
	LE:        "<=",
	GE:        ">=",
	DOT:       ".",
	COMMA:     ",",
	SEMICOLON: ";",
	LPAREN:    "(",
	RPAREN:    ")",
	LBRACKET:  "[",
	RBRACKET:  "]",
	AT:        "@",
}

// keywords maps lowercase keyword strings to their token types.
var keywords = map[string]TokenType{}

func init() {
	for _, kw := range []struct {
		name string
		typ  TokenType
	}{
		{"ALL", ALL}, {"AND", AND}, {"AS", AS}, {"ASC", ASC},
		{"BETWEEN", BETWEEN}, {"BY", BY},
		{"CASE", CASE}, {"CAST", CAST}, {"CREATE", CREATE}, {"CROSS", CROSS},
		{"DELETE", DELETE}, {"DESC", DESC}, {"DISTINCT", DISTINCT}, {"DROP", DROP},
		{"ELSE", ELSE}, {"END", END}, {"EXCEPT", EXCEPT}, {"EXISTS", EXISTS},
		{"FALSE", FALSE}, {"FROM", FROM}, {"FULL", FULL},
		{"GROUP", GROUP},
		{"HAVING", HAVING},
		{"IN", IN}, {"INNER", INNER}, {"INSERT", INSERT}, {"INTERSECT", INTERSECT},
		{"INTO", INTO}, {"IS", IS},
		{"JOIN", JOIN},
		{"LATERAL", LATERAL}, {"LEFT", LEFT}, {"LIKE", LIKE}, {"LIMIT", LIMIT},
		{"NATURAL", NATURAL}, {"NOT", NOT}, {"NULL", NULL},
		{"OFFSET", OFFSET}, {"ON", ON}, {"OR", OR}, {"ORDER", ORDER}, {"OUTER", OUTER},
		{"RECURSIVE", RECURSIVE}, {"RIGHT", RIGHT},
		{"SELECT", SELECT}, {"SET", SET},
		{"TABLE", TABLE}, {"THEN", THEN}, {"TRUE", TRUE},
		{"UNION", UNION}, {"UPDATE", UPDATE}, {"USING", USING},
		{"VALUES", VALUES}, {"VIEW", VIEW},
		{"WHEN", WHEN}, {"WHERE", WHERE}, {"WITH", WITH},
	} {
		tokenNames[kw.typ] = kw.name
		keywords[lower(kw.name)] = kw.typ
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// LookupIdent returns the token type for the given lowercase identifier.
// If the identifier is a keyword, the keyword token type is returned.
// Otherwise, IDENT is returned.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

// Keywords returns the upper-case spelling of every keyword.
func Keywords() []string {
	out := make([]string, 0, len(keywords))
	for t := ALL; t < maxToken; t++ {
		out = append(out, tokenNames[t])
	}
	return out
}

// IsKeyword returns true if the token type is a keyword.
func IsKeyword(t TokenType) bool {
	return t >= ALL && t < maxToken
}

// IsOperator returns true if the token type is an operator or punctuation.
func IsOperator(t TokenType) bool {
	return t >= PLUS && t <= AT
}

// Token represents a lexical token with position information.
// Literal holds the unescaped value for strings and quoted identifiers;
// the raw source text is always input[Pos.Offset:End.Offset].
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	End     Position
	Quoted  bool
}

// Len returns the number of source bytes covered by the token.
func (t Token) Len() int {
	return t.End.Offset - t.Pos.Offset
}
