package expr

import (
	"strings"

	"github.com/marte-community/dt-engine/internal/value"
)

// Node is a parsed expression tree node.
type Node interface {
	Pos() int
	String() string
}

type Literal struct {
	Position int
	Value    value.Value
}

func (n *Literal) Pos() int       { return n.Position }
func (n *Literal) String() string { return n.Value.Literal() }

// Ref is a field or variable reference. VarOnly refs (#name) consult only
// the caller's vars; Soft refs (?name) yield Null instead of Unknown when
// nothing is found.
type Ref struct {
	Position int
	Path     string
	VarOnly  bool
	Soft     bool
}

func (n *Ref) Pos() int { return n.Position }
func (n *Ref) String() string {
	switch {
	case n.VarOnly:
		return "#" + n.Path
	case n.Soft:
		return "?" + n.Path
	}
	return n.Path
}

type Unary struct {
	Position int
	Op       string
	X        Node
}

func (n *Unary) Pos() int { return n.Position }
func (n *Unary) String() string {
	if n.Op == "not" {
		return "not " + n.X.String()
	}
	return n.Op + n.X.String()
}

type Binary struct {
	Position int
	Op       string
	Left     Node
	Right    Node
}

func (n *Binary) Pos() int { return n.Position }
func (n *Binary) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

type Call struct {
	Position int
	Name     string
	Args     []Node
}

func (n *Call) Pos() int { return n.Position }
func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")"
}

// Walk calls fn for n and every node below it, depth first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch x := n.(type) {
	case *Unary:
		Walk(x.X, fn)
	case *Binary:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *Call:
		for _, a := range x.Args {
			Walk(a, fn)
		}
	}
}
