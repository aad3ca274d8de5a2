package parser

import "github.com/leapstack-labs/sqlsense/pkg/token"

// Query parsing: WITH, set operations, SELECT core, ORDER BY, LIMIT.
//
// Grammar:
//
//	query       → [WITH [RECURSIVE] cte ("," cte)*] body [ORDER BY expr_list] [LIMIT expr [OFFSET expr]]
//	cte         → identifier ["(" identifier_list ")"] AS "(" query ")"
//	body        → term ((UNION|INTERSECT|EXCEPT) [ALL|DISTINCT] term)*
//	term        → select | VALUES row ("," row)* | "(" query ")"
//	select      → SELECT [DISTINCT|ALL] select_item ("," select_item)*
//	              [FROM from_list] [WHERE expr] [GROUP BY expr_list] [HAVING expr]
//	select_item → "*" | qualified_name "." "*" | expr [[AS] identifier]

// parseQuery parses a full query expression.
func (p *Parser) parseQuery() *Node {
	if !p.enter() {
		defer p.leave()
		return p.skipToEnd()
	}
	defer p.leave()

	q := p.open(KindQuery)
	if p.check(token.WITH) {
		q.add(p.parseWith())
	}
	q.add(p.parseBody())
	if p.check(token.ORDER) {
		q.add(p.parseOrderBy())
	}
	if p.check(token.LIMIT) || p.check(token.OFFSET) {
		q.add(p.parseLimit())
	}
	return p.close(q)
}

// parseWith parses a WITH clause with its CTE list.
func (p *Parser) parseWith() *Node {
	w := p.open(KindWith)
	w.Token = p.next()
	if p.check(token.RECURSIVE) {
		w.Token = p.next()
	}
	for {
		if !p.check(token.IDENT) {
			p.missing("common table expression name")
			break
		}
		w.add(p.parseCTE())
		if !p.match(token.COMMA) {
			break
		}
	}
	return p.close(w)
}

// parseCTE parses name [(cols)] AS (query).
func (p *Parser) parseCTE() *Node {
	cte := p.open(KindCTE)
	cte.add(leaf(KindIdentifier, p.next()))
	if p.check(token.LPAREN) {
		cte.add(p.parseColumnList())
	}
	p.expect(token.AS)
	if p.check(token.LPAREN) {
		p.next()
		cte.add(p.parseQuery())
		p.expect(token.RPAREN)
	} else {
		p.missing("common table expression body")
	}
	return p.close(cte)
}

// parseColumnList parses "(" identifier ("," identifier)* ")".
func (p *Parser) parseColumnList() *Node {
	list := p.open(KindColumnList)
	p.next() // (
	for p.check(token.IDENT) {
		list.add(leaf(KindIdentifier, p.next()))
		if !p.match(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN)
	return p.close(list)
}

// parseBody parses terms joined by set operators. The operators are left
// associative.
func (p *Parser) parseBody() *Node {
	left := p.parseTerm()
	for p.checkAny(token.UNION, token.INTERSECT, token.EXCEPT) {
		op := p.open(KindSetOp)
		op.Token = p.next()
		if !p.match(token.ALL) {
			p.match(token.DISTINCT)
		}
		if left != nil {
			op.Start = left.Start
			op.add(left)
		}
		op.add(p.parseTerm())
		left = p.close(op)
	}
	return left
}

// parseTerm parses a SELECT, VALUES or parenthesized query.
func (p *Parser) parseTerm() *Node {
	switch p.cur().Type {
	case token.SELECT:
		return p.parseSelect()
	case token.VALUES:
		return p.parseValues()
	case token.LPAREN:
		if !p.enter() {
			defer p.leave()
			return p.skipToEnd()
		}
		defer p.leave()
		open := p.next()
		q := p.parseQuery()
		p.expect(token.RPAREN)
		q.Start = open.Pos.Offset
		return p.close(q)
	default:
		p.missing("SELECT")
		return nil
	}
}

// parseSelect parses the SELECT core.
func (p *Parser) parseSelect() *Node {
	sel := p.open(KindSelect)
	sel.Token = p.next() // SELECT
	if !p.match(token.DISTINCT) {
		p.match(token.ALL)
	}
	sel.add(p.parseSelectList())

	if p.check(token.FROM) {
		sel.add(p.parseFrom())
	}
	if p.check(token.WHERE) {
		sel.add(p.parseClauseExpr(KindWhere))
	}
	if p.check(token.GROUP) {
		sel.add(p.parseByList(KindGroupBy))
	}
	if p.check(token.HAVING) {
		sel.add(p.parseClauseExpr(KindHaving))
	}
	return p.close(sel)
}

// parseSelectList parses the projection list. An empty list still yields a
// node positioned after SELECT so that completion can find it.
func (p *Parser) parseSelectList() *Node {
	list := p.open(KindSelectList)
	list.Start = p.prevEnd()
	list.End = list.Start
	for {
		item := p.parseSelectItem()
		switch {
		case item != nil:
			list.add(item)
		case p.isStop() || p.check(token.COMMA):
			p.missing("select item")
		default:
			list.add(p.recover())
		}
		if !p.match(token.COMMA) {
			break
		}
		list.End = p.prevEnd()
	}
	return list
}

// parseSelectItem parses one projection with its optional alias.
func (p *Parser) parseSelectItem() *Node {
	if star := p.parseStar(); star != nil {
		item := &Node{Kind: KindSelectItem, Start: star.Start}
		item.add(star)
		return item
	}
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}
	item := &Node{Kind: KindSelectItem, Start: expr.Start}
	item.add(expr)
	item.add(p.parseAlias())
	return item
}

// parseStar parses "*" or "qualifier.*". It consumes nothing and returns nil
// when the current tokens do not form a star.
func (p *Parser) parseStar() *Node {
	if p.check(token.STAR) {
		return leaf(KindStar, p.next())
	}
	// Look ahead for ident ("." ident)* "." "*"
	n := 0
	for p.peekAt(n).Type == token.IDENT && p.peekAt(n+1).Type == token.DOT {
		if p.peekAt(n+2).Type == token.STAR {
			star := &Node{Kind: KindStar, Start: p.cur().Pos.Offset}
			qn := &Node{Kind: KindQualifiedName, Start: p.cur().Pos.Offset}
			for i := 0; i <= n; i += 2 {
				qn.add(leaf(KindIdentifier, p.next()))
				p.next() // .
			}
			star.add(qn)
			star.Token = p.next()
			star.End = star.Token.End.Offset
			return star
		}
		n += 2
	}
	return nil
}

// parseAlias parses [AS] identifier. Keywords are never taken as an implicit
// alias.
func (p *Parser) parseAlias() *Node {
	if p.check(token.AS) {
		as := p.next()
		if !p.check(token.IDENT) {
			p.missing("alias")
			return nil
		}
		a := &Node{Kind: KindAlias, Start: as.Pos.Offset, Token: as}
		a.add(leaf(KindIdentifier, p.next()))
		return a
	}
	if p.check(token.IDENT) {
		a := p.open(KindAlias)
		a.add(leaf(KindIdentifier, p.next()))
		return a
	}
	return nil
}

// parseClauseExpr parses a keyword followed by one expression (WHERE, HAVING).
func (p *Parser) parseClauseExpr(kind NodeKind) *Node {
	n := p.open(kind)
	n.Token = p.next()
	if e := p.parseExpr(); e != nil {
		n.add(e)
	} else {
		p.missing("expression")
		n.add(p.recover())
	}
	return p.close(n)
}

// parseByList parses GROUP BY / ORDER BY expression lists.
func (p *Parser) parseByList(kind NodeKind) *Node {
	n := p.open(kind)
	n.Token = p.next()
	p.expect(token.BY)
	for {
		e := p.parseExpr()
		if e == nil {
			p.missing("expression")
			n.add(p.recover())
		} else {
			n.add(e)
		}
		if kind == KindOrderBy && !p.match(token.ASC) {
			p.match(token.DESC)
		}
		if !p.match(token.COMMA) {
			break
		}
	}
	return p.close(n)
}

// parseOrderBy parses the ORDER BY clause of a query.
func (p *Parser) parseOrderBy() *Node {
	return p.parseByList(KindOrderBy)
}

// parseLimit parses LIMIT expr [OFFSET expr] or a lone OFFSET.
func (p *Parser) parseLimit() *Node {
	n := p.open(KindLimit)
	n.Token = p.cur()
	for p.check(token.LIMIT) || p.check(token.OFFSET) {
		p.next()
		if e := p.parseExpr(); e != nil {
			n.add(e)
		} else {
			p.missing("expression")
		}
	}
	return p.close(n)
}

// parseValues parses VALUES (row) [, (row)]*.
func (p *Parser) parseValues() *Node {
	v := p.open(KindValues)
	v.Token = p.next()
	for p.check(token.LPAREN) {
		row := p.open(KindExpression)
		row.Token = p.next()
		for !p.check(token.RPAREN) && !p.check(token.EOF) {
			e := p.parseExpr()
			if e == nil {
				row.add(p.recover())
				if !p.check(token.COMMA) {
					break
				}
			}
			row.add(e)
			if !p.match(token.COMMA) {
				break
			}
		}
		p.expect(token.RPAREN)
		v.add(p.close(row))
		if !p.match(token.COMMA) {
			break
		}
	}
	return p.close(v)
}
