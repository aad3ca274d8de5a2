package parser

import (
	"strings"

	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// Data modification and definition statements.
//
// Grammar:
//
//	insert → INSERT INTO qualified_name ["(" identifier_list ")"] (query | VALUES ...)
//	update → UPDATE table_primary SET assignment ("," assignment)* [FROM from_list] [WHERE expr]
//	delete → DELETE FROM table_primary [WHERE expr]
//	create → CREATE [OR REPLACE] [TEMP|TEMPORARY] (TABLE|VIEW) [IF NOT EXISTS] qualified_name
//	         [AS query | "(" ... ")"]
//	drop   → DROP (TABLE|VIEW) [IF EXISTS] qualified_name

// parseTarget parses the table a statement writes to, without an alias.
func (p *Parser) parseTarget() *Node {
	if !p.check(token.IDENT) {
		p.missing("table name")
		return nil
	}
	ref := p.open(KindTableRef)
	ref.add(p.parseQualifiedName())
	return p.close(ref)
}

func (p *Parser) parseInsert() *Node {
	n := p.open(KindInsert)
	n.Token = p.next()
	p.expect(token.INTO)
	n.add(p.parseTarget())
	if p.check(token.LPAREN) && !p.startsQuery(1) {
		n.add(p.parseColumnList())
	}
	switch p.cur().Type {
	case token.SELECT, token.WITH, token.VALUES, token.LPAREN:
		n.add(p.parseQuery())
	default:
		p.missing("VALUES or SELECT")
	}
	return p.close(n)
}

func (p *Parser) parseUpdate() *Node {
	n := p.open(KindUpdate)
	n.Token = p.next()
	if t := p.parseTablePrimary(); t != nil {
		n.add(t)
	}
	if p.expect(token.SET) {
		for {
			n.add(p.parseAssignment())
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	if p.check(token.FROM) {
		n.add(p.parseFrom())
	}
	if p.check(token.WHERE) {
		n.add(p.parseClauseExpr(KindWhere))
	}
	return p.close(n)
}

// parseAssignment parses column "=" expr.
func (p *Parser) parseAssignment() *Node {
	if !p.check(token.IDENT) {
		p.missing("column name")
		return p.recover()
	}
	a := p.open(KindAssignment)
	qn := p.parseQualifiedName()
	ref := &Node{Kind: KindColumnRef, Start: qn.Start}
	ref.add(qn)
	a.add(ref)
	if p.expect(token.EQ) {
		if e := p.parseExpr(); e != nil {
			a.add(e)
		} else {
			p.missing("expression")
		}
	}
	return p.close(a)
}

func (p *Parser) parseDelete() *Node {
	n := p.open(KindDelete)
	n.Token = p.next()
	p.expect(token.FROM)
	if t := p.parseTablePrimary(); t != nil {
		n.add(t)
	}
	if p.check(token.WHERE) {
		n.add(p.parseClauseExpr(KindWhere))
	}
	return p.close(n)
}

func (p *Parser) parseCreate() *Node {
	n := p.open(KindCreate)
	n.Token = p.next()
	// CREATE [OR REPLACE] [TEMP] TABLE|VIEW: everything before the object
	// keyword is a modifier.
	for !p.checkAny(token.TABLE, token.VIEW, token.EOF, token.SEMICOLON) {
		p.next()
	}
	if !p.checkAny(token.TABLE, token.VIEW) {
		p.missing("TABLE or VIEW")
		return p.close(n)
	}
	p.next()
	p.skipIfExists()
	n.add(p.parseTarget())
	switch {
	case p.match(token.AS):
		n.add(p.parseQuery())
	case p.check(token.LPAREN):
		// Column definitions are skipped.
		depth := 0
		for !p.check(token.EOF) && !p.check(token.SEMICOLON) {
			switch p.next().Type {
			case token.LPAREN:
				depth++
			case token.RPAREN:
				depth--
			}
			if depth == 0 {
				break
			}
		}
	}
	return p.close(n)
}

func (p *Parser) parseDrop() *Node {
	n := p.open(KindDrop)
	n.Token = p.next()
	if !p.checkAny(token.TABLE, token.VIEW) {
		p.missing("TABLE or VIEW")
		return p.close(n)
	}
	p.next()
	p.skipIfExists()
	n.add(p.parseTarget())
	return p.close(n)
}

// skipIfExists consumes IF [NOT] EXISTS. IF is not a keyword.
func (p *Parser) skipIfExists() {
	if p.check(token.IDENT) && strings.EqualFold(p.cur().Literal, "if") && !p.cur().Quoted {
		p.next()
		p.match(token.NOT)
		p.expect(token.EXISTS)
	}
}
