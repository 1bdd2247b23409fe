package expr

// Names of the members a grouping exposes.
const (
	KeyMember         = "Key"
	WindowStartMember = "WindowStart"
	WindowEndMember   = "WindowEnd"
)

// Col references a member of the current row.
func Col(name string) Member {
	return Member{Name: name}
}

// RightCol references a member of the right-hand input of a join.
func RightCol(name string) Member {
	return Member{Side: Right, Name: name}
}

// Get references a member of another expression.
func Get(of Expr, name string) Member {
	return Member{Of: of, Name: name}
}

// Key references the grouping key.
func Key() Member {
	return Member{Name: KeyMember}
}

// KeyField references one member of a composite grouping key.
func KeyField(name string) Member {
	return Member{Of: Key(), Name: name}
}

// WindowStart references the start bound of the current window.
func WindowStart() Member {
	return Member{Name: WindowStartMember}
}

// WindowEnd references the end bound of the current window.
func WindowEnd() Member {
	return Member{Name: WindowEndMember}
}

// Const wraps a literal.
func Const(v any) Constant {
	return Constant{Value: v}
}

// Null is the null literal.
func Null() Constant {
	return Constant{}
}

// Lit returns v when it already is an expression and a Constant otherwise.
func Lit(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Constant{Value: v}
}

func Eq(l, r any) Binary  { return Binary{Op: OpEq, L: Lit(l), R: Lit(r)} }
func Ne(l, r any) Binary  { return Binary{Op: OpNe, L: Lit(l), R: Lit(r)} }
func Gt(l, r any) Binary  { return Binary{Op: OpGt, L: Lit(l), R: Lit(r)} }
func Ge(l, r any) Binary  { return Binary{Op: OpGe, L: Lit(l), R: Lit(r)} }
func Lt(l, r any) Binary  { return Binary{Op: OpLt, L: Lit(l), R: Lit(r)} }
func Le(l, r any) Binary  { return Binary{Op: OpLe, L: Lit(l), R: Lit(r)} }
func Add(l, r any) Binary { return Binary{Op: OpAdd, L: Lit(l), R: Lit(r)} }
func Sub(l, r any) Binary { return Binary{Op: OpSub, L: Lit(l), R: Lit(r)} }
func Mul(l, r any) Binary { return Binary{Op: OpMul, L: Lit(l), R: Lit(r)} }
func Div(l, r any) Binary { return Binary{Op: OpDiv, L: Lit(l), R: Lit(r)} }
func Mod(l, r any) Binary { return Binary{Op: OpMod, L: Lit(l), R: Lit(r)} }

// And folds its operands left to right.
func And(first, second Expr, rest ...Expr) Expr {
	return fold(OpAnd, first, second, rest)
}

// Or folds its operands left to right.
func Or(first, second Expr, rest ...Expr) Expr {
	return fold(OpOr, first, second, rest)
}

func fold(op BinaryOp, first, second Expr, rest []Expr) Expr {
	out := Binary{Op: op, L: first, R: second}
	for _, e := range rest {
		out = Binary{Op: op, L: out, R: e}
	}
	return out
}

func Not(x Expr) Unary { return Unary{Op: OpNot, X: x} }
func Neg(x Expr) Unary { return Unary{Op: OpNeg, X: x} }

// As names a projection or struct field.
func As(name string, value any) Field {
	return Field{Name: name, Value: Lit(value)}
}

// Entry is one key/value pair of a map literal.
func Entry(key, value any) Field {
	return Field{Key: Lit(key), Value: Lit(value)}
}

// New builds an anonymous projection. A member field without a name takes
// the member's name.
func New(fields ...Field) Construct {
	fields = append([]Field(nil), fields...)
	for i, f := range fields {
		if f.Name == "" {
			if m, ok := f.Value.(Member); ok {
				fields[i].Name = m.Name
			}
		}
	}
	return Construct{Kind: Projection, Fields: fields}
}

// Cols is shorthand for a projection of plain row members.
func Cols(names ...string) Construct {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n, Value: Col(n)}
	}
	return Construct{Kind: Projection, Fields: fields}
}

func ArrayOf(elems ...any) Construct {
	out := make([]Expr, len(elems))
	for i, e := range elems {
		out[i] = Lit(e)
	}
	return Construct{Kind: Array, Elems: out}
}

func MapOf(entries ...Field) Construct {
	return Construct{Kind: Map, Fields: entries}
}

func StructOf(fields ...Field) Construct {
	return Construct{Kind: Struct, Fields: fields}
}

// At subscripts target. The index is passed to the engine unchanged.
func At(target Expr, index any) Index {
	return Index{Target: target, Index: Lit(index)}
}

// If builds a conditional.
func If(test Expr, then, els any) Conditional {
	return Conditional{Test: test, Then: Lit(then), Else: Lit(els)}
}
