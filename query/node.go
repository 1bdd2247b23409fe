// Package query holds the append-only operator chain and the generator that
// compiles it into one engine statement.
package query

import (
	"time"

	"github.com/florinutz/ksqlq/expr"
	"github.com/florinutz/ksqlq/schema"
)

// Kind identifies an operator.
type Kind int

const (
	KindSource Kind = iota
	KindWhere
	KindSelect
	KindGroupBy
	KindWindowedBy
	KindHaving
	KindJoin
	KindLeftJoin
	KindTake
)

var kindNames = [...]string{
	KindSource:     "Source",
	KindWhere:      "Where",
	KindSelect:     "Select",
	KindGroupBy:    "GroupBy",
	KindWindowedBy: "WindowedBy",
	KindHaving:     "Having",
	KindJoin:       "Join",
	KindLeftJoin:   "LeftJoin",
	KindTake:       "Take",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// SourceKind is the engine object a query reads from.
type SourceKind int

const (
	Stream SourceKind = iota
	Table
)

func (k SourceKind) String() string {
	if k == Table {
		return "table"
	}
	return "stream"
}

// Emission selects between continuous (push) and bounded (pull) queries.
type Emission int

const (
	Push Emission = iota
	Pull
)

// Source describes the stream or table at the root of a chain.
type Source struct {
	// Name is the resolved engine object name.
	Name string
	// Explicit is set when Name was given rather than derived from the entity.
	Explicit bool
	Kind     SourceKind
	Emission Emission
	Mapping  schema.Mapping
	// Alias prefixes this source's columns inside a join. Empty means derived.
	Alias string
}

// JoinSpec is the payload of a Join or LeftJoin operator. LeftKey is resolved
// against the chain's source and RightKey against Right; both may use plain
// members. Projection, when set, is the join's result selector and may
// reference right-hand members through expr.RightCol.
type JoinSpec struct {
	Right      Source
	LeftKey    expr.Expr
	RightKey   expr.Expr
	Projection expr.Expr
	// Within bounds a stream-stream join. Zero omits the clause.
	Within time.Duration
}

// Node is one operator of an immutable chain. Appending returns a new node
// that points at the receiver, so a chain may be shared as a prefix by any
// number of derived queries.
type Node struct {
	kind   Kind
	parent *Node

	source Source
	expr   expr.Expr
	window Window
	join   JoinSpec
	limit  int
}

// NewRoot starts a chain reading from src.
func NewRoot(src Source) *Node {
	return &Node{kind: KindSource, source: src}
}

func (n *Node) Kind() Kind      { return n.kind }
func (n *Node) Parent() *Node   { return n.parent }
func (n *Node) Expr() expr.Expr { return n.expr }

// Source returns the source at the root of the chain.
func (n *Node) Source() Source {
	for n.parent != nil {
		n = n.parent
	}
	return n.source
}

func (n *Node) append(child Node) *Node {
	child.parent = n
	return &child
}

func (n *Node) Where(predicate expr.Expr) *Node {
	return n.append(Node{kind: KindWhere, expr: predicate})
}

func (n *Node) Select(projection expr.Expr) *Node {
	return n.append(Node{kind: KindSelect, expr: projection})
}

func (n *Node) GroupBy(key expr.Expr) *Node {
	return n.append(Node{kind: KindGroupBy, expr: key})
}

func (n *Node) WindowedBy(w Window) *Node {
	return n.append(Node{kind: KindWindowedBy, window: w})
}

func (n *Node) Having(predicate expr.Expr) *Node {
	return n.append(Node{kind: KindHaving, expr: predicate})
}

func (n *Node) Join(j JoinSpec) *Node {
	return n.append(Node{kind: KindJoin, join: j})
}

func (n *Node) LeftJoin(j JoinSpec) *Node {
	return n.append(Node{kind: KindLeftJoin, join: j})
}

func (n *Node) Take(limit int) *Node {
	return n.append(Node{kind: KindTake, limit: limit})
}

// chain returns the operators from the root to n.
func (n *Node) chain() []*Node {
	var out []*Node
	for cur := n; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
