package parser

// Traversal tells Walk what to do with the children of a node it has just
// entered.
type Traversal int

// Traversal policies.
const (
	// Descend visits the children now, in order.
	Descend Traversal = iota
	// SkipChildren does not visit the children. Leave is still called.
	SkipChildren
	// DeferChildren postpones the children, and the node's Leave, until
	// every following sibling has been visited.
	DeferChildren
)

// Visitor receives Enter before a node's children and Leave after them.
type Visitor interface {
	Enter(n *Node) Traversal
	Leave(n *Node)
}

// VisitorFuncs adapts plain functions to a Visitor. Nil functions are no-ops.
type VisitorFuncs struct {
	EnterFunc func(n *Node) Traversal
	LeaveFunc func(n *Node)
}

// Enter implements Visitor.
func (f VisitorFuncs) Enter(n *Node) Traversal {
	if f.EnterFunc == nil {
		return Descend
	}
	return f.EnterFunc(n)
}

// Leave implements Visitor.
func (f VisitorFuncs) Leave(n *Node) {
	if f.LeaveFunc != nil {
		f.LeaveFunc(n)
	}
}

type walkFrame struct {
	node     *Node
	next     int
	deferred []*Node
}

// Walk traverses the tree rooted at root without recursion. DeferChildren on
// the root behaves like Descend.
func Walk(root *Node, v Visitor) {
	if root == nil {
		return
	}
	if v.Enter(root) == SkipChildren {
		v.Leave(root)
		return
	}

	stack := []*walkFrame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]

		if f.next < len(f.node.Children) {
			c := f.node.Children[f.next]
			f.next++
			switch v.Enter(c) {
			case SkipChildren:
				v.Leave(c)
			case DeferChildren:
				f.deferred = append(f.deferred, c)
			default:
				stack = append(stack, &walkFrame{node: c})
			}
			continue
		}

		if len(f.deferred) > 0 {
			d := f.deferred[0]
			f.deferred = f.deferred[1:]
			stack = append(stack, &walkFrame{node: d})
			continue
		}

		v.Leave(f.node)
		stack = stack[:len(stack)-1]
	}
}

// Inspect calls fn for every node in pre-order. Returning false skips the
// node's children.
func Inspect(root *Node, fn func(n *Node) bool) {
	Walk(root, VisitorFuncs{EnterFunc: func(n *Node) Traversal {
		if fn(n) {
			return Descend
		}
		return SkipChildren
	}})
}
