package parser

import "github.com/leapstack-labs/sqlsense/pkg/token"

// FROM clause parsing: table references, derived tables, lateral tables, JOINs.
//
// Grammar:
//
//	from_list     → table_expr ("," table_expr)*
//	table_expr    → table_primary (join)*
//	table_primary → qualified_name [[AS] identifier]
//	              | [LATERAL] "(" query ")" [AS] identifier ["(" identifier_list ")"]
//	              | "(" table_expr ")"
//	join          → [NATURAL] [INNER | LEFT [OUTER] | RIGHT [OUTER] | FULL [OUTER] | CROSS]
//	                JOIN table_primary [ON expr | USING "(" identifier_list ")"]

// parseFrom parses the FROM clause.
func (p *Parser) parseFrom() *Node {
	from := p.open(KindFrom)
	from.Token = p.next()
	from.End = from.Token.End.Offset
	for {
		if t := p.parseTableExpr(); t != nil {
			from.add(t)
		} else {
			from.add(p.recover())
		}
		if !p.match(token.COMMA) {
			break
		}
		from.End = p.prevEnd()
	}
	return from
}

// parseTableExpr parses a table primary followed by any number of joins.
func (p *Parser) parseTableExpr() *Node {
	left := p.parseTablePrimary()
	if left == nil {
		return nil
	}
	for p.isJoinStart() {
		join := &Node{Kind: KindJoin, Start: left.Start}
		join.add(left)
		join.Token = p.parseJoinType()
		right := p.parseTablePrimary()
		if right == nil {
			join.End = p.prevEnd()
			return join
		}
		join.add(right)
		switch {
		case p.check(token.ON):
			cond := p.open(KindJoinCondition)
			cond.Token = p.next()
			if e := p.parseExpr(); e != nil {
				cond.add(e)
			} else {
				p.missing("join condition")
			}
			join.add(p.close(cond))
		case p.check(token.USING):
			cond := p.open(KindJoinCondition)
			cond.Token = p.next()
			if p.check(token.LPAREN) {
				cond.add(p.parseColumnList())
			} else {
				p.missing("column list")
			}
			join.add(p.close(cond))
		}
		left = p.close(join)
	}
	return left
}

// isJoinStart reports whether the current token begins a join.
func (p *Parser) isJoinStart() bool {
	switch p.cur().Type {
	case token.JOIN, token.INNER, token.LEFT, token.RIGHT, token.FULL,
		token.CROSS, token.NATURAL:
		return true
	}
	return false
}

// parseJoinType consumes the join keywords and returns the most specific one.
func (p *Parser) parseJoinType() Token {
	var kind Token
	if p.check(token.NATURAL) {
		kind = p.next()
	}
	if p.checkAny(token.INNER, token.CROSS, token.LEFT, token.RIGHT, token.FULL) {
		t := p.next()
		p.match(token.OUTER)
		if kind.Literal == "" {
			kind = t
		}
	}
	jt := p.cur()
	p.expect(token.JOIN)
	if kind.Literal == "" {
		kind = jt
	}
	return kind
}

// parseTablePrimary parses a single table source.
func (p *Parser) parseTablePrimary() *Node {
	if !p.enter() {
		defer p.leave()
		return p.skipToEnd()
	}
	defer p.leave()

	switch p.cur().Type {
	case token.IDENT:
		ref := p.open(KindTableRef)
		ref.add(p.parseQualifiedName())
		ref.add(p.parseAlias())
		return p.close(ref)
	case token.LATERAL, token.LPAREN:
		start := p.cur()
		lateral := p.match(token.LATERAL)
		if !p.check(token.LPAREN) {
			p.missing("subquery")
			return nil
		}
		if !lateral && !p.startsQuery(1) {
			p.next() // (
			inner := p.parseTableExpr()
			p.expect(token.RPAREN)
			if inner != nil {
				inner.Start = start.Pos.Offset
				p.close(inner)
			}
			return inner
		}
		dt := p.open(KindDerivedTable)
		dt.Token = start
		dt.Start = start.Pos.Offset
		p.next() // (
		dt.add(p.parseQuery())
		p.expect(token.RPAREN)
		dt.add(p.parseAlias())
		if p.check(token.LPAREN) {
			dt.add(p.parseColumnList())
		}
		return p.close(dt)
	default:
		if !p.isStop() && !p.check(token.COMMA) {
			return nil
		}
		p.missing("table name")
		return nil
	}
}

// startsQuery reports whether the token n ahead begins a query.
func (p *Parser) startsQuery(n int) bool {
	switch p.peekAt(n).Type {
	case token.SELECT, token.WITH, token.VALUES:
		return true
	case token.LPAREN:
		return p.startsQuery(n + 1)
	}
	return false
}

// parseQualifiedName parses identifier ("." identifier)*. A dot followed by
// anything other than a name yields an empty final part, which is how an
// unfinished "alias." reaches the completion engine.
func (p *Parser) parseQualifiedName() *Node {
	qn := p.open(KindQualifiedName)
	qn.add(leaf(KindIdentifier, p.next()))
	for p.check(token.DOT) {
		if p.peekAt(1).Type == token.STAR {
			break
		}
		dot := p.next()
		nxt := p.cur()
		adjacent := nxt.Pos.Offset == dot.End.Offset
		if nxt.Type == token.IDENT || (token.IsKeyword(nxt.Type) && adjacent) {
			id := leaf(KindIdentifier, p.next())
			id.Token.Type = token.IDENT
			qn.add(id)
			continue
		}
		empty := &Node{Kind: KindIdentifier, Start: dot.End.Offset, End: dot.End.Offset}
		empty.Token = Token{Type: token.IDENT, Pos: dot.End, End: dot.End}
		qn.add(empty)
		break
	}
	return qn
}
