// Package parser provides an error-tolerant SQL parser for interactive
// analysis.
//
// # Usage
//
//	bounds := parser.Split(script, parser.SplitOptions{})
//	tree := parser.Parse(script[bounds[0].Start:bounds[0].End])
//
// Parsing never fails. Malformed input yields Error nodes and ParseError
// entries while the rest of the statement is still structured, so that a
// half-typed query keeps its FROM clause visible to completion.
//
// # Grammar Overview
//
//	statement   → query | insert | update | delete | create | drop
//	query       → [WITH [RECURSIVE] cte_list] body [ORDER BY expr_list] [LIMIT expr [OFFSET expr]]
//	body        → term [(UNION|INTERSECT|EXCEPT) [ALL|DISTINCT] body]
//	term        → select | VALUES row_list | "(" query ")"
//	select      → SELECT [DISTINCT|ALL] select_list [FROM from_list]
//	              [WHERE expr] [GROUP BY expr_list] [HAVING expr]
//
// See each file for detailed grammar rules for that section.
package parser

import (
	"fmt"

	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// maxDepth bounds recursion on pathological nesting.
const maxDepth = 256

// Parser parses one SQL statement into a syntax tree.
type Parser struct {
	src    string
	toks   []Token
	pos    int
	depth  int
	errors []*ParseError
}

// Parse parses a single statement. Trailing input after the statement is
// kept as Error nodes.
func Parse(src string) *Tree {
	l := NewLexer(src)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			break
		}
	}

	p := &Parser{src: src, toks: toks}
	for _, le := range l.Errors {
		p.errors = append(p.errors, &ParseError{Pos: le.Pos, End: le.Pos, Message: le.Message})
	}
	root := p.parseStatement()
	return &Tree{
		Root:     root,
		Tokens:   toks,
		Comments: l.Comments,
		Errors:   p.errors,
	}
}

// ---------- Token Helpers ----------

// cur returns the current token.
func (p *Parser) cur() Token {
	return p.toks[p.pos]
}

// peekAt returns the token n positions ahead of the current one.
func (p *Parser) peekAt(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

// next consumes and returns the current token.
func (p *Parser) next() Token {
	tok := p.toks[p.pos]
	if tok.Type != token.EOF {
		p.pos++
	}
	return tok
}

// prevEnd returns the end offset of the last consumed token.
func (p *Parser) prevEnd() int {
	if p.pos == 0 {
		return 0
	}
	return p.toks[p.pos-1].End.Offset
}

// check returns true if the current token is of the given type.
func (p *Parser) check(t TokenType) bool {
	return p.cur().Type == t
}

// checkAny returns true if the current token is any of the given types.
func (p *Parser) checkAny(types ...TokenType) bool {
	c := p.cur().Type
	for _, t := range types {
		if c == t {
			return true
		}
	}
	return false
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t TokenType) bool {
	if p.check(t) {
		p.next()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t TokenType) bool {
	if p.match(t) {
		return true
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, describe(p.cur()), t))
	return false
}

// addError adds a parse error at the current token.
func (p *Parser) addError(msg string) {
	tok := p.cur()
	p.errors = append(p.errors, &ParseError{Pos: tok.Pos, End: tok.End, Message: msg})
}

// missing records that an element was expected at the current position.
func (p *Parser) missing(what string) {
	p.addError(fmt.Sprintf(ErrMissing, what))
}

func describe(tok Token) string {
	if tok.Type == token.EOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", tok.Literal)
}

// leaf builds a node covering exactly one token.
func leaf(kind NodeKind, tok Token) *Node {
	return &Node{Kind: kind, Start: tok.Pos.Offset, End: tok.End.Offset, Token: tok}
}

// open starts a node at the current token.
func (p *Parser) open(kind NodeKind) *Node {
	tok := p.cur()
	return &Node{Kind: kind, Start: tok.Pos.Offset, End: tok.Pos.Offset}
}

// close extends the node to the last consumed token.
func (p *Parser) close(n *Node) *Node {
	if end := p.prevEnd(); end > n.End {
		n.End = end
	}
	return n
}

// enter guards recursion depth. It returns false once the limit is hit.
func (p *Parser) enter() bool {
	p.depth++
	if p.depth > maxDepth {
		p.addError("nesting too deep")
		return false
	}
	return true
}

func (p *Parser) leave() {
	p.depth--
}

// ---------- Keyword Helpers ----------

// isClauseKeyword returns true if tok starts a clause or ends the current
// expression list.
func isClauseKeyword(t TokenType) bool {
	switch t {
	case token.FROM, token.WHERE, token.GROUP, token.HAVING, token.ORDER,
		token.LIMIT, token.OFFSET, token.UNION, token.INTERSECT, token.EXCEPT,
		token.JOIN, token.INNER, token.LEFT, token.RIGHT, token.FULL,
		token.CROSS, token.NATURAL, token.ON, token.USING, token.SET,
		token.VALUES, token.SELECT, token.INTO, token.THEN, token.ELSE,
		token.WHEN, token.END:
		return true
	}
	return false
}

// isStop reports whether the current token ends any list being parsed.
func (p *Parser) isStop() bool {
	switch t := p.cur().Type; t {
	case token.EOF, token.SEMICOLON, token.RPAREN:
		return true
	default:
		return isClauseKeyword(t)
	}
}

// recover consumes tokens up to the next comma or stop token and returns
// them as an Error node, or nil when nothing was skipped.
func (p *Parser) recover() *Node {
	if p.isStop() || p.check(token.COMMA) {
		return nil
	}
	p.addError(fmt.Sprintf(ErrUnexpectedInput, describe(p.cur())))
	n := p.open(KindError)
	depth := 0
	for !p.check(token.EOF) && !p.check(token.SEMICOLON) {
		if depth == 0 && (p.check(token.COMMA) || p.check(token.RPAREN) || isClauseKeyword(p.cur().Type)) {
			break
		}
		switch p.next().Type {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			depth--
		}
	}
	return p.close(n)
}

// ---------- Statements ----------

// parseStatement parses one statement and any trailing garbage.
func (p *Parser) parseStatement() *Node {
	stmt := p.open(KindStatement)

	switch p.cur().Type {
	case token.EOF, token.SEMICOLON:
	case token.SELECT, token.WITH, token.VALUES, token.LPAREN:
		stmt.add(p.parseQuery())
	case token.INSERT:
		stmt.add(p.parseInsert())
	case token.UPDATE:
		stmt.add(p.parseUpdate())
	case token.DELETE:
		stmt.add(p.parseDelete())
	case token.CREATE:
		stmt.add(p.parseCreate())
	case token.DROP:
		stmt.add(p.parseDrop())
	default:
		p.addError(ErrUnknownStatement)
		stmt.add(p.skipToEnd())
	}

	p.match(token.SEMICOLON)
	if !p.check(token.EOF) {
		p.addError(fmt.Sprintf(ErrUnexpectedInput, describe(p.cur())))
		stmt.add(p.skipToEnd())
	}
	stmt.Start = 0
	stmt.End = len(p.src)
	return stmt
}

// skipToEnd wraps every remaining token up to the delimiter in an Error node.
func (p *Parser) skipToEnd() *Node {
	n := p.open(KindError)
	for !p.check(token.EOF) && !p.check(token.SEMICOLON) {
		p.next()
	}
	return p.close(n)
}
