package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWalk_Order(t *testing.T) {
	tree := Parse("SELECT a FROM t WHERE b")

	var names []string
	var leaves []NodeKind
	record := func(deferList bool) Visitor {
		return VisitorFuncs{
			EnterFunc: func(n *Node) Traversal {
				if n.Kind == KindIdentifier {
					names = append(names, n.Name())
				}
				if deferList && n.Kind == KindSelectList {
					return DeferChildren
				}
				return Descend
			},
			LeaveFunc: func(n *Node) {
				switch n.Kind {
				case KindSelectList, KindFrom, KindWhere:
					leaves = append(leaves, n.Kind)
				}
			},
		}
	}

	Walk(tree.Root, record(false))
	assert.Equal(t, []string{"a", "t", "b"}, names)
	assert.Equal(t, []NodeKind{KindSelectList, KindFrom, KindWhere}, leaves)

	names, leaves = nil, nil
	Walk(tree.Root, record(true))
	assert.Equal(t, []string{"t", "b", "a"}, names)
	assert.Equal(t, []NodeKind{KindFrom, KindWhere, KindSelectList}, leaves)
}

func TestWalk_SkipChildren(t *testing.T) {
	tree := Parse("SELECT a FROM t WHERE b IN (SELECT c FROM u)")

	var names []string
	var left int
	Walk(tree.Root, VisitorFuncs{
		EnterFunc: func(n *Node) Traversal {
			if n.Kind == KindSubquery {
				return SkipChildren
			}
			if n.Kind == KindIdentifier {
				names = append(names, n.Name())
			}
			return Descend
		},
		LeaveFunc: func(n *Node) {
			if n.Kind == KindSubquery {
				left++
			}
		},
	})
	assert.Equal(t, []string{"a", "t", "b"}, names)
	assert.Equal(t, 1, left)
}

func TestInspect_Deep(t *testing.T) {
	// A long chain of binary expressions is a deep left spine.
	sql := "SELECT 1"
	for i := 0; i < 5000; i++ {
		sql += " + 1"
	}
	tree := Parse(sql)
	count := 0
	Inspect(tree.Root, func(n *Node) bool {
		if n.Kind == KindLiteral {
			count++
		}
		return true
	})
	assert.Equal(t, 5001, count)
}
