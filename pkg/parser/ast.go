package parser

import (
	"fmt"

	"github.com/leapstack-labs/sqlsense/pkg/token"
)

// NodeKind identifies the syntactic role of a Node. The set is closed: every
// consumer dispatches with a switch over these values.
type NodeKind int

// Node kinds.
const (
	KindError NodeKind = iota
	KindStatement
	KindQuery // [WITH] body [ORDER BY] [LIMIT]
	KindWith
	KindCTE
	KindColumnList
	KindSetOp
	KindSelect
	KindSelectList
	KindSelectItem
	KindStar
	KindFrom
	KindTableRef
	KindDerivedTable
	KindJoin
	KindJoinCondition
	KindWhere
	KindGroupBy
	KindHaving
	KindOrderBy
	KindLimit
	KindValues
	KindQualifiedName
	KindIdentifier
	KindAlias
	KindColumnRef
	KindFunctionCall
	KindSubquery
	KindLiteral
	KindParam
	KindVariable
	KindExpression
	KindInsert
	KindUpdate
	KindDelete
	KindAssignment
	KindCreate
	KindDrop

	kindCount
)

var kindNames = [kindCount]string{
	KindError:         "Error",
	KindStatement:     "Statement",
	KindQuery:         "Query",
	KindWith:          "With",
	KindCTE:           "CTE",
	KindColumnList:    "ColumnList",
	KindSetOp:         "SetOp",
	KindSelect:        "Select",
	KindSelectList:    "SelectList",
	KindSelectItem:    "SelectItem",
	KindStar:          "Star",
	KindFrom:          "From",
	KindTableRef:      "TableRef",
	KindDerivedTable:  "DerivedTable",
	KindJoin:          "Join",
	KindJoinCondition: "JoinCondition",
	KindWhere:         "Where",
	KindGroupBy:       "GroupBy",
	KindHaving:        "Having",
	KindOrderBy:       "OrderBy",
	KindLimit:         "Limit",
	KindValues:        "Values",
	KindQualifiedName: "QualifiedName",
	KindIdentifier:    "Identifier",
	KindAlias:         "Alias",
	KindColumnRef:     "ColumnRef",
	KindFunctionCall:  "FunctionCall",
	KindSubquery:      "Subquery",
	KindLiteral:       "Literal",
	KindParam:         "Param",
	KindVariable:      "Variable",
	KindExpression:    "Expression",
	KindInsert:        "Insert",
	KindUpdate:        "Update",
	KindDelete:        "Delete",
	KindAssignment:    "Assignment",
	KindCreate:        "Create",
	KindDrop:          "Drop",
}

func (k NodeKind) String() string {
	if k >= 0 && k < kindCount && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds returns every node kind in declaration order.
func Kinds() []NodeKind {
	out := make([]NodeKind, 0, kindCount)
	for k := KindError; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Node is one element of the syntax tree. Start and End are byte offsets
// into the parsed text, End exclusive.
//
// Token holds the defining token: the name for identifiers, the value for
// literals, the operator for expressions and set operations, the join type
// keyword for joins, ON or USING for join conditions and RECURSIVE for a
// recursive WITH.
type Node struct {
	Kind     NodeKind
	Start    int
	End      int
	Token    Token
	Children []*Node
}

func (n *Node) add(c *Node) {
	if c == nil {
		return
	}
	n.Children = append(n.Children, c)
	if len(n.Children) == 1 && n.Start > c.Start {
		n.Start = c.Start
	}
	if c.End > n.End {
		n.End = c.End
	}
}

// Child returns the first direct child of the given kind, or nil.
func (n *Node) Child(kind NodeKind) *Node {
	for _, c := range n.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// Touches reports whether offset lies within the node or on its end.
func (n *Node) Touches(offset int) bool {
	return offset >= n.Start && offset <= n.End
}

// Text returns the source text covered by the node.
func (n *Node) Text(src string) string {
	if n.Start < 0 || n.End > len(src) || n.Start > n.End {
		return ""
	}
	return src[n.Start:n.End]
}

// Name returns the identifier text of an Identifier node, or the parts of a
// QualifiedName node joined with dots.
func (n *Node) Name() string {
	switch n.Kind {
	case KindIdentifier:
		return n.Token.Literal
	case KindQualifiedName, KindColumnRef, KindAlias:
		s := ""
		for i, p := range n.Parts() {
			if i > 0 {
				s += "."
			}
			s += p
		}
		return s
	}
	return ""
}

// Parts returns the name parts of a QualifiedName, ColumnRef or Alias node.
// A trailing dot yields an empty last part.
func (n *Node) Parts() []string {
	q := n
	if n.Kind == KindColumnRef || n.Kind == KindAlias {
		q = n.Child(KindQualifiedName)
		if q == nil {
			q = n.Child(KindIdentifier)
		}
		if q == nil {
			return nil
		}
	}
	if q.Kind == KindIdentifier {
		return []string{q.Token.Literal}
	}
	parts := make([]string, 0, len(q.Children))
	for _, c := range q.Children {
		parts = append(parts, c.Token.Literal)
	}
	return parts
}

// IsRecursive reports whether a WITH node carries the RECURSIVE keyword.
func (n *Node) IsRecursive() bool {
	return n.Kind == KindWith && n.Token.Type == token.RECURSIVE
}

// Innermost returns the deepest node touching offset, or nil.
func (n *Node) Innermost(offset int) *Node {
	if n == nil || !n.Touches(offset) {
		return nil
	}
	cur := n
	for {
		var next *Node
		for _, c := range cur.Children {
			if c.Touches(offset) {
				next = c
				// A child ending at offset yields to a sibling starting there.
				if c.End > offset {
					break
				}
			}
		}
		if next == nil {
			return cur
		}
		cur = next
	}
}

// Tree is the result of parsing one statement.
type Tree struct {
	Root     *Node
	Tokens   []Token // including the final EOF
	Comments []*token.Comment
	Errors   []*ParseError
}
