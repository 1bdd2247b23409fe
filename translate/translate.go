// Package translate renders embedded expression trees as engine statement
// fragments.
package translate

import (
	"fmt"
	"strings"

	"github.com/florinutz/ksqlq/expr"
	"github.com/florinutz/ksqlq/ksqlerr"
)

// Fragment is the text of one translated expression. Aliased is set when any
// member inside it needed a table alias prefix.
type Fragment struct {
	Text    string
	Aliased bool
}

// Translator translates expressions within one scope. The zero value is not
// usable; use New.
type Translator struct {
	scope Scope
	// inAggregate is set while translating an aggregate's arguments, where
	// nested aggregates are not allowed.
	inAggregate bool
}

// New returns a translator resolving members through scope.
func New(scope Scope) *Translator {
	return &Translator{scope: scope}
}

// Translate renders e.
func (t *Translator) Translate(e expr.Expr) (Fragment, error) {
	var b builder
	if err := t.visit(&b, e); err != nil {
		return Fragment{}, err
	}
	return b.fragment(), nil
}

// TranslatePredicate renders a filter. Aggregates are rejected even in grouped
// scopes.
func (t *Translator) TranslatePredicate(e expr.Expr) (Fragment, error) {
	if containsAggregate(e) {
		return Fragment{}, unsupported(e, "aggregate functions are not allowed in a filter, use Having")
	}
	return t.Translate(e)
}

// TranslateItems renders a projection (or grouping key) as named items. A bare
// member yields a single item named after the member.
func (t *Translator) TranslateItems(e expr.Expr) ([]Item, error) {
	switch n := e.(type) {
	case expr.Construct:
		if n.Kind != expr.Projection {
			break
		}
		items := make([]Item, 0, len(n.Fields))
		for _, f := range n.Fields {
			if f.Name == "" {
				return nil, unsupported(e, "projection field without a name")
			}
			frag, err := t.Translate(f.Value)
			if err != nil {
				return nil, err
			}
			items = append(items, Item{Name: f.Name, Fragment: frag})
		}
		return items, nil
	case expr.Member:
		frag, err := t.Translate(n)
		if err != nil {
			return nil, err
		}
		return []Item{{Name: n.Name, Fragment: frag}}, nil
	}
	frag, err := t.Translate(e)
	if err != nil {
		return nil, err
	}
	return []Item{{Fragment: frag}}, nil
}

// RenderItems renders named items as a comma-separated list. Items whose
// text differs from their name get an AS alias.
func RenderItems(items []Item) string {
	parts := make([]string, len(items))
	for i, it := range items {
		if it.Name == "" || it.Name == it.Fragment.Text {
			parts[i] = it.Fragment.Text
		} else {
			parts[i] = it.Fragment.Text + " AS " + it.Name
		}
	}
	return strings.Join(parts, ", ")
}

type builder struct {
	strings.Builder
	aliased bool
}

func (b *builder) fragment() Fragment {
	return Fragment{Text: b.String(), Aliased: b.aliased}
}

func (b *builder) add(f Fragment) {
	b.WriteString(f.Text)
	b.aliased = b.aliased || f.Aliased
}

func (t *Translator) visit(b *builder, e expr.Expr) error {
	switch n := e.(type) {
	case expr.Constant:
		b.WriteString(formatConstant(n.Value))
		return nil
	case expr.Member:
		return t.visitMember(b, n)
	case expr.Binary:
		return t.visitBinary(b, n)
	case expr.Unary:
		return t.visitUnary(b, n)
	case expr.Call:
		return t.visitCall(b, n)
	case expr.Construct:
		return t.visitConstruct(b, n)
	case expr.Index:
		if err := t.visit(b, n.Target); err != nil {
			return err
		}
		b.WriteByte('[')
		if err := t.visit(b, n.Index); err != nil {
			return err
		}
		b.WriteByte(']')
		return nil
	case expr.Conditional:
		b.WriteString("CASE WHEN ")
		if err := t.visit(b, n.Test); err != nil {
			return err
		}
		b.WriteString(" THEN ")
		if err := t.visit(b, n.Then); err != nil {
			return err
		}
		b.WriteString(" ELSE ")
		if err := t.visit(b, n.Else); err != nil {
			return err
		}
		b.WriteString(" END")
		return nil
	case nil:
		return &ksqlerr.TranslationError{Construct: "expression", Reason: "nil expression"}
	default:
		return unsupported(e, "unsupported expression node")
	}
}

func (t *Translator) visitMember(b *builder, m expr.Member) error {
	if m.Of == nil {
		f, err := t.scope.Resolve(m)
		if err != nil {
			return err
		}
		b.add(f)
		return nil
	}
	if key, ok := m.Of.(expr.Member); ok && key.Of == nil && key.Name == expr.KeyMember {
		if g, ok := t.scope.(groupedScope); ok {
			f, err := g.KeyField(m.Name)
			if err != nil {
				return err
			}
			b.add(f)
			return nil
		}
	}
	// Struct field dereference.
	if err := t.visit(b, m.Of); err != nil {
		return err
	}
	b.WriteString("->")
	b.WriteString(m.Name)
	return nil
}

func (t *Translator) visitBinary(b *builder, n expr.Binary) error {
	if n.Op == expr.OpEq || n.Op == expr.OpNe {
		operand, ok := nullComparison(n)
		if ok {
			if err := t.visitOperand(b, n, operand, false); err != nil {
				return err
			}
			if n.Op == expr.OpEq {
				b.WriteString(" IS NULL")
			} else {
				b.WriteString(" IS NOT NULL")
			}
			return nil
		}
	}
	op, ok := binaryOps[n.Op]
	if !ok {
		return unsupported(n, fmt.Sprintf("unsupported binary operator %d", n.Op))
	}
	if err := t.visitOperand(b, n, n.L, false); err != nil {
		return err
	}
	b.WriteString(" " + op + " ")
	return t.visitOperand(b, n, n.R, true)
}

// visitOperand parenthesises a binary child that binds looser than its
// parent, or equally loose on the right of a non-associative operator.
func (t *Translator) visitOperand(b *builder, parent expr.Binary, child expr.Expr, right bool) error {
	c, ok := child.(expr.Binary)
	wrap := false
	if ok {
		pp, cp := precedence(parent.Op), precedence(c.Op)
		wrap = cp < pp || (right && cp == pp && !associative(parent.Op))
	}
	if wrap {
		b.WriteByte('(')
	}
	if err := t.visit(b, child); err != nil {
		return err
	}
	if wrap {
		b.WriteByte(')')
	}
	return nil
}

func (t *Translator) visitUnary(b *builder, n expr.Unary) error {
	switch n.Op {
	case expr.OpNot:
		b.WriteString("NOT ")
	case expr.OpNeg:
		b.WriteString("-")
	default:
		return unsupported(n, fmt.Sprintf("unsupported unary operator %d", n.Op))
	}
	if _, ok := n.X.(expr.Binary); ok {
		b.WriteByte('(')
		defer b.WriteByte(')')
	}
	return t.visit(b, n.X)
}

func (t *Translator) visitConstruct(b *builder, n expr.Construct) error {
	switch n.Kind {
	case expr.Projection:
		items, err := t.TranslateItems(n)
		if err != nil {
			return err
		}
		for _, it := range items {
			b.aliased = b.aliased || it.Fragment.Aliased
		}
		b.WriteString(RenderItems(items))
		return nil
	case expr.Array:
		b.WriteString("ARRAY[")
		for i, el := range n.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := t.visit(b, el); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case expr.Map:
		b.WriteString("MAP(")
		for i, f := range n.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			if f.Key == nil {
				return unsupported(n, "map entry without a key")
			}
			if err := t.visit(b, f.Key); err != nil {
				return err
			}
			b.WriteString(" := ")
			if err := t.visit(b, f.Value); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	case expr.Struct:
		b.WriteString("STRUCT(")
		for i, f := range n.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			if f.Name == "" {
				return unsupported(n, "struct field without a name")
			}
			b.WriteString(f.Name + " := ")
			if err := t.visit(b, f.Value); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	default:
		return unsupported(n, fmt.Sprintf("unsupported construct kind %d", n.Kind))
	}
}

var binaryOps = map[expr.BinaryOp]string{
	expr.OpEq:  "=",
	expr.OpNe:  "!=",
	expr.OpGt:  ">",
	expr.OpGe:  ">=",
	expr.OpLt:  "<",
	expr.OpLe:  "<=",
	expr.OpAnd: "AND",
	expr.OpOr:  "OR",
	expr.OpAdd: "+",
	expr.OpSub: "-",
	expr.OpMul: "*",
	expr.OpDiv: "/",
	expr.OpMod: "%",
}

func precedence(op expr.BinaryOp) int {
	switch op {
	case expr.OpOr:
		return 1
	case expr.OpAnd:
		return 2
	case expr.OpEq, expr.OpNe, expr.OpGt, expr.OpGe, expr.OpLt, expr.OpLe:
		return 3
	case expr.OpAdd, expr.OpSub:
		return 4
	default:
		return 5
	}
}

func associative(op expr.BinaryOp) bool {
	return op == expr.OpAnd || op == expr.OpOr || op == expr.OpAdd || op == expr.OpMul
}

// nullComparison returns the non-null operand of x = NULL / x != NULL.
func nullComparison(n expr.Binary) (expr.Expr, bool) {
	if isNull(n.R) {
		return n.L, true
	}
	if isNull(n.L) {
		return n.R, true
	}
	return nil, false
}

func isNull(e expr.Expr) bool {
	c, ok := e.(expr.Constant)
	return ok && c.Value == nil
}

func unsupported(e expr.Expr, reason string) error {
	return &ksqlerr.TranslationError{Construct: Describe(e), Reason: reason}
}

// Describe names an expression node for error messages.
func Describe(e expr.Expr) string {
	switch n := e.(type) {
	case expr.Member:
		return "member " + n.Name
	case expr.Constant:
		return fmt.Sprintf("constant %v", n.Value)
	case expr.Binary:
		return "binary operator " + binaryOps[n.Op]
	case expr.Unary:
		return "unary operator"
	case expr.Call:
		return "call " + n.Func
	case expr.Construct:
		return "construct"
	case expr.Index:
		return "index"
	case expr.Conditional:
		return "conditional"
	default:
		return fmt.Sprintf("%T", e)
	}
}
