package parser

import "github.com/leapstack-labs/sqlsense/pkg/token"

// Expression parsing with precedence climbing.
//
// Grammar:
//
//	expr       → or_expr
//	or_expr    → and_expr (OR and_expr)*
//	and_expr   → not_expr (AND not_expr)*
//	not_expr   → NOT not_expr | comparison
//	comparison → additive [cmp_op additive | IS [NOT] (NULL|TRUE|FALSE)
//	             | [NOT] IN "(" (query | expr_list) ")" | [NOT] LIKE additive
//	             | [NOT] BETWEEN additive AND additive]
//	additive   → multiplicative (("+"|"-"|"||") multiplicative)*
//	multiplicative → unary (("*"|"/"|"%") unary)*
//	unary      → ("-"|"+") unary | primary
//	primary    → literal | param | variable | column_ref | function_call
//	           | "(" query ")" | "(" expr_list ")" | EXISTS "(" query ")"
//	           | CASE ... END | CAST "(" expr AS type ")"

// parseExpr parses an expression, returning nil when none starts here.
func (p *Parser) parseExpr() *Node {
	if !p.enter() {
		defer p.leave()
		p.skipToEnd()
		return nil
	}
	defer p.leave()
	return p.parseOr()
}

// binary builds an Expression node for op applied to lhs and rhs.
func (p *Parser) binary(lhs *Node, op Token, rhs *Node) *Node {
	n := &Node{Kind: KindExpression, Start: lhs.Start, End: lhs.End, Token: op}
	n.add(lhs)
	if rhs == nil {
		p.missing("operand")
		n.End = op.End.Offset
	}
	n.add(rhs)
	return n
}

func (p *Parser) parseOr() *Node {
	lhs := p.parseAnd()
	for lhs != nil && p.check(token.OR) {
		op := p.next()
		lhs = p.binary(lhs, op, p.parseAnd())
	}
	return lhs
}

func (p *Parser) parseAnd() *Node {
	lhs := p.parseNot()
	for lhs != nil && p.check(token.AND) {
		op := p.next()
		lhs = p.binary(lhs, op, p.parseNot())
	}
	return lhs
}

func (p *Parser) parseNot() *Node {
	if p.check(token.NOT) {
		op := p.next()
		n := leaf(KindExpression, op)
		operand := p.parseNot()
		if operand == nil {
			p.missing("operand")
		}
		n.add(operand)
		return n
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() *Node {
	lhs := p.parseAdditive()
	if lhs == nil {
		return nil
	}
	switch p.cur().Type {
	case token.EQ, token.NE, token.LT, token.GT, token.LE, token.GE:
		op := p.next()
		return p.binary(lhs, op, p.parseAdditive())
	case token.IS:
		op := p.next()
		p.match(token.NOT)
		if !p.checkAny(token.NULL, token.TRUE, token.FALSE) {
			p.missing("NULL")
			return p.binary(lhs, op, nil)
		}
		return p.binary(lhs, op, leaf(KindLiteral, p.next()))
	case token.NOT:
		switch p.peekAt(1).Type {
		case token.IN, token.LIKE, token.BETWEEN:
			p.next()
		default:
			return lhs
		}
	}

	switch p.cur().Type {
	case token.IN:
		op := p.next()
		if !p.check(token.LPAREN) {
			return p.binary(lhs, op, nil)
		}
		return p.binary(lhs, op, p.parseParenthesized())
	case token.LIKE:
		op := p.next()
		return p.binary(lhs, op, p.parseAdditive())
	case token.BETWEEN:
		op := p.next()
		n := p.binary(lhs, op, p.parseAdditive())
		if p.expect(token.AND) {
			hi := p.parseAdditive()
			if hi == nil {
				p.missing("operand")
			}
			n.add(hi)
		}
		return n
	}
	return lhs
}

func (p *Parser) parseAdditive() *Node {
	lhs := p.parseMultiplicative()
	for lhs != nil && p.checkAny(token.PLUS, token.MINUS, token.DPIPE) {
		op := p.next()
		lhs = p.binary(lhs, op, p.parseMultiplicative())
	}
	return lhs
}

func (p *Parser) parseMultiplicative() *Node {
	lhs := p.parseUnary()
	for lhs != nil && p.checkAny(token.STAR, token.SLASH, token.PERCENT) {
		op := p.next()
		lhs = p.binary(lhs, op, p.parseUnary())
	}
	return lhs
}

func (p *Parser) parseUnary() *Node {
	if p.checkAny(token.MINUS, token.PLUS) {
		op := p.next()
		n := leaf(KindExpression, op)
		operand := p.parseUnary()
		if operand == nil {
			p.missing("operand")
		}
		n.add(operand)
		return n
	}
	return p.parsePrimary()
}

// parsePrimary parses an atom. It returns nil without consuming anything when
// the current token cannot start an expression.
func (p *Parser) parsePrimary() *Node {
	switch p.cur().Type {
	case token.NUMBER, token.STRING, token.NULL, token.TRUE, token.FALSE:
		return leaf(KindLiteral, p.next())
	case token.PARAM:
		return leaf(KindParam, p.next())
	case token.VARIABLE:
		return leaf(KindVariable, p.next())
	case token.IDENT:
		qn := p.parseQualifiedName()
		if p.check(token.LPAREN) {
			return p.parseFunctionCall(qn)
		}
		ref := &Node{Kind: KindColumnRef, Start: qn.Start}
		ref.add(qn)
		return ref
	case token.LPAREN:
		return p.parseParenthesized()
	case token.EXISTS:
		op := p.next()
		if !p.check(token.LPAREN) {
			p.missing("subquery")
			return leaf(KindExpression, op)
		}
		sub := p.parseParenthesized()
		sub.Start = op.Pos.Offset
		return sub
	case token.CASE:
		return p.parseCase()
	case token.CAST:
		return p.parseCast()
	}
	return nil
}

// parseParenthesized parses "(" query ")" as a Subquery or "(" expr_list ")"
// as an Expression.
func (p *Parser) parseParenthesized() *Node {
	if p.startsQuery(1) {
		sub := p.open(KindSubquery)
		sub.Token = p.next()
		sub.add(p.parseQuery())
		p.expect(token.RPAREN)
		return p.close(sub)
	}
	n := p.open(KindExpression)
	n.Token = p.next()
	for !p.check(token.RPAREN) && !p.check(token.EOF) && !p.check(token.SEMICOLON) {
		e := p.parseExpr()
		if e == nil {
			n.add(p.recover())
			if !p.check(token.COMMA) {
				break
			}
		}
		n.add(e)
		if !p.match(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN)
	return p.close(n)
}

// parseFunctionCall parses the argument list of a call whose name is qn.
func (p *Parser) parseFunctionCall(qn *Node) *Node {
	call := &Node{Kind: KindFunctionCall, Start: qn.Start}
	call.add(qn)
	p.next() // (
	if !p.match(token.DISTINCT) {
		p.match(token.ALL)
	}
	for !p.check(token.RPAREN) && !p.check(token.EOF) && !p.check(token.SEMICOLON) {
		if p.check(token.STAR) {
			call.add(leaf(KindStar, p.next()))
		} else if e := p.parseExpr(); e != nil {
			call.add(e)
		} else {
			call.add(p.recover())
			if !p.check(token.COMMA) {
				break
			}
		}
		if !p.match(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN)
	return p.close(call)
}

// parseCase parses CASE [operand] (WHEN expr THEN expr)+ [ELSE expr] END.
func (p *Parser) parseCase() *Node {
	n := p.open(KindExpression)
	n.Token = p.next()
	if !p.check(token.WHEN) {
		n.add(p.parseExpr())
	}
	for p.checkAny(token.WHEN, token.THEN, token.ELSE) {
		p.next()
		e := p.parseExpr()
		if e == nil {
			p.missing("expression")
		}
		n.add(e)
	}
	p.expect(token.END)
	return p.close(n)
}

// parseCast parses CAST "(" expr AS type_name ")". The type name is not
// part of the tree.
func (p *Parser) parseCast() *Node {
	n := p.open(KindExpression)
	n.Token = p.next()
	if !p.expect(token.LPAREN) {
		return p.close(n)
	}
	n.add(p.parseExpr())
	if p.expect(token.AS) {
		depth := 0
		for !p.check(token.EOF) && !p.check(token.SEMICOLON) {
			if p.check(token.RPAREN) {
				if depth == 0 {
					break
				}
				depth--
			} else if p.check(token.LPAREN) {
				depth++
			}
			p.next()
		}
	}
	p.expect(token.RPAREN)
	return p.close(n)
}
