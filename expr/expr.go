// Package expr defines the embedded expression trees carried by query
// operators: predicates, projections, grouping keys and join keys.
//
// The node set is closed. Every node implements Expr through an unexported
// marker method, so the translator's type switch is the one place that has to
// learn about a new node kind.
package expr

// Expr is an embedded expression node.
type Expr interface {
	exprNode()
}

// Side identifies which input of a join a member belongs to. Outside joins
// every member is on the Left side.
type Side int

const (
	Left Side = iota
	Right
)

// Member accesses a named member. A nil Of means the member belongs to the
// row (or grouping) the enclosing operator receives; otherwise it is a member
// of the Of expression (e.g. Key.URL).
type Member struct {
	Of   Expr
	Side Side
	Name string
}

// Constant is a literal value. Slices and arrays other than strings are
// sequences and expand into comma-separated lists.
type Constant struct {
	Value any
}

// BinaryOp enumerates infix operators.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

// Binary applies an infix operator to two operands.
type Binary struct {
	Op   BinaryOp
	L, R Expr
}

// UnaryOp enumerates prefix operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

// Unary applies a prefix operator.
type Unary struct {
	Op UnaryOp
	X  Expr
}

// Call invokes a recognised function by its host-side name (see the Func*
// constants). The translator maps it to engine syntax.
type Call struct {
	Func string
	Args []Expr
}

// ConstructKind selects what a Construct builds.
type ConstructKind int

const (
	// Projection is an anonymous row shape: a SELECT list or a composite key.
	Projection ConstructKind = iota
	Array
	Map
	Struct
)

// Field is one named (Projection, Struct) or keyed (Map) entry of a
// Construct.
type Field struct {
	Name  string
	Key   Expr
	Value Expr
}

// Construct builds a composite value.
type Construct struct {
	Kind   ConstructKind
	Fields []Field
	Elems  []Expr
}

// Index subscripts an array or map.
type Index struct {
	Target Expr
	Index  Expr
}

// Conditional is a ternary choice.
type Conditional struct {
	Test, Then, Else Expr
}

func (Member) exprNode()      {}
func (Constant) exprNode()    {}
func (Binary) exprNode()      {}
func (Unary) exprNode()       {}
func (Call) exprNode()        {}
func (Construct) exprNode()   {}
func (Index) exprNode()       {}
func (Conditional) exprNode() {}
