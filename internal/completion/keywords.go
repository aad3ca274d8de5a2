package completion

import (
	"github.com/leapstack-labs/sqlsense/pkg/parser"
	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// clause is the part of a statement the cursor is in, as far as the tokens
// before it tell.
type clause int

const (
	clauseStart clause = iota
	clauseWith
	clauseSelect
	clauseFrom
	clauseJoinCondition
	clauseWhere
	clauseGroupBy
	clauseHaving
	clauseOrderBy
	clauseLimit
	clauseInsert
	clauseValues
	clauseUpdate
	clauseSet
	clauseDelete
	clauseDDL
)

var clauseKeywords = map[token.TokenType]clause{
	token.WITH:      clauseWith,
	token.SELECT:    clauseSelect,
	token.FROM:      clauseFrom,
	token.JOIN:      clauseFrom,
	token.ON:        clauseJoinCondition,
	token.USING:     clauseJoinCondition,
	token.WHERE:     clauseWhere,
	token.GROUP:     clauseGroupBy,
	token.HAVING:    clauseHaving,
	token.ORDER:     clauseOrderBy,
	token.LIMIT:     clauseLimit,
	token.OFFSET:    clauseLimit,
	token.INSERT:    clauseInsert,
	token.VALUES:    clauseValues,
	token.UPDATE:    clauseUpdate,
	token.SET:       clauseSet,
	token.DELETE:    clauseDelete,
	token.CREATE:    clauseDDL,
	token.DROP:      clauseDDL,
	token.UNION:     clauseStart,
	token.EXCEPT:    clauseStart,
	token.INTERSECT: clauseStart,
}

// currentClause tracks clause keywords through toks. A parenthesis opens a
// nested level that starts out in the enclosing clause, so that
// "WHERE x IN (" stays an expression while "(SELECT" starts a subquery.
func currentClause(toks []parser.Token) clause {
	stack := []clause{clauseStart}
	for _, t := range toks {
		top := len(stack) - 1
		switch t.Type {
		case token.LPAREN:
			stack = append(stack, stack[top])
		case token.RPAREN:
			if top > 0 {
				stack = stack[:top]
			}
		case token.SEMICOLON:
			stack = []clause{clauseStart}
		case token.INTO:
			if stack[top] == clauseInsert || stack[top] == clauseSelect {
				stack[top] = clauseInsert
			}
		default:
			if c, ok := clauseKeywords[t.Type]; ok {
				stack[top] = c
			}
		}
	}
	return stack[len(stack)-1]
}

func kw(types ...token.TokenType) []token.TokenType { return types }

var (
	statementStart = kw(token.SELECT, token.WITH, token.INSERT, token.UPDATE, token.DELETE,
		token.CREATE, token.DROP, token.VALUES)
	expressionStart = kw(token.CASE, token.CAST, token.NOT, token.NULL, token.EXISTS, token.TRUE, token.FALSE)
	predicates      = kw(token.AND, token.OR, token.NOT, token.IS, token.IN, token.LIKE, token.BETWEEN)
	setOps          = kw(token.UNION, token.INTERSECT, token.EXCEPT)
	joins           = kw(token.JOIN, token.INNER, token.LEFT, token.RIGHT, token.FULL, token.CROSS, token.NATURAL)
	queryTail       = kw(token.ORDER, token.LIMIT)
)

func join(sets ...[]token.TokenType) []token.TokenType {
	var out []token.TokenType
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// afterOperand lists what may follow a complete operand, table reference
// or select item in each clause.
var afterOperand = map[clause][]token.TokenType{
	clauseStart:         kw(token.AS),
	clauseWith:          join(kw(token.AS), statementStart),
	clauseSelect:        join(kw(token.AS, token.FROM), predicates, setOps, queryTail),
	clauseFrom:          join(kw(token.AS, token.ON, token.USING, token.WHERE), joins, kw(token.GROUP, token.HAVING), queryTail, setOps),
	clauseJoinCondition: join(predicates, joins, kw(token.WHERE, token.GROUP, token.HAVING), queryTail, setOps),
	clauseWhere:         join(predicates, kw(token.GROUP, token.HAVING), queryTail, setOps),
	clauseGroupBy:       join(kw(token.HAVING), queryTail, setOps),
	clauseHaving:        join(predicates, queryTail, setOps),
	clauseOrderBy:       kw(token.ASC, token.DESC, token.LIMIT, token.OFFSET),
	clauseLimit:         kw(token.OFFSET),
	clauseInsert:        kw(token.VALUES, token.SELECT, token.WITH),
	clauseValues:        nil,
	clauseUpdate:        kw(token.SET, token.AS),
	clauseSet:           join(kw(token.FROM, token.WHERE), predicates),
	clauseDelete:        kw(token.WHERE),
	clauseDDL:           kw(token.AS),
}

// afterKeyword lists what may follow keywords that are not followed by an
// operand.
var afterKeyword = map[token.TokenType][]token.TokenType{
	token.GROUP:     kw(token.BY),
	token.ORDER:     kw(token.BY),
	token.LEFT:      kw(token.JOIN, token.OUTER),
	token.RIGHT:     kw(token.JOIN, token.OUTER),
	token.FULL:      kw(token.JOIN, token.OUTER),
	token.INNER:     kw(token.JOIN),
	token.CROSS:     kw(token.JOIN),
	token.OUTER:     kw(token.JOIN),
	token.NATURAL:   kw(token.JOIN, token.INNER, token.LEFT, token.RIGHT, token.FULL),
	token.UNION:     kw(token.ALL, token.SELECT),
	token.INTERSECT: kw(token.ALL, token.SELECT),
	token.EXCEPT:    kw(token.ALL, token.SELECT),
	token.INSERT:    kw(token.INTO),
	token.DELETE:    kw(token.FROM),
	token.CREATE:    kw(token.TABLE, token.VIEW),
	token.DROP:      kw(token.TABLE, token.VIEW),
	token.WITH:      kw(token.RECURSIVE),
	token.IS:        kw(token.NOT, token.NULL, token.TRUE, token.FALSE),
	token.AS:        nil,
	token.RECURSIVE: nil,
	token.VALUES:    nil,
	token.LIMIT:     nil,
	token.OFFSET:    nil,
	token.USING:     nil,
	token.DOT:       nil,
	token.EXISTS:    nil,
}

// tableSlot reports whether a table name is expected after prev.
func tableSlot(prev parser.Token, cl clause) bool {
	switch prev.Type {
	case token.FROM, token.JOIN, token.UPDATE, token.TABLE, token.VIEW:
		return true
	case token.INTO:
		return cl == clauseInsert
	case token.COMMA:
		return cl == clauseFrom
	}
	return false
}

// endsOperand reports whether prev completes an operand. prev2 is the token
// before it and tells a wildcard star from a multiplication.
func endsOperand(prev parser.Token, prev2 *parser.Token) bool {
	switch prev.Type {
	case token.IDENT, token.NUMBER, token.STRING, token.PARAM, token.VARIABLE, token.RPAREN,
		token.TRUE, token.FALSE, token.NULL, token.END, token.ASC, token.DESC:
		return true
	case token.STAR:
		if prev2 == nil {
			return true
		}
		switch prev2.Type {
		case token.SELECT, token.DISTINCT, token.ALL, token.COMMA, token.DOT, token.LPAREN:
			return true
		}
	}
	return false
}

// decide picks the completion mode for a cursor following toks, and the
// keywords worth proposing there.
func decide(toks []parser.Token, cl clause) (Mode, []token.TokenType) {
	if len(toks) == 0 {
		return Keyword, statementStart
	}
	prev := toks[len(toks)-1]
	var prev2 *parser.Token
	if len(toks) > 1 {
		prev2 = &toks[len(toks)-2]
	}

	switch {
	case prev.Type == token.SEMICOLON:
		return Keyword, statementStart
	case tableSlot(prev, cl):
		if prev.Type == token.FROM || prev.Type == token.JOIN {
			return Tables, kw(token.LATERAL)
		}
		return Tables, nil
	case endsOperand(prev, prev2):
		return Keyword, afterOperand[cl]
	}
	if next, ok := afterKeyword[prev.Type]; ok {
		return Keyword, next
	}

	switch prev.Type {
	case token.SELECT:
		return Columns, join(kw(token.DISTINCT, token.ALL), expressionStart)
	case token.LPAREN:
		return Columns, join(kw(token.SELECT), expressionStart)
	}
	return Columns, expressionStart
}
