package translate

import (
	"fmt"

	"github.com/florinutz/ksqlq/expr"
)

// argMode says how a call argument reaches the engine.
type argMode int

const (
	// argExpr arguments are translated recursively.
	argExpr argMode = iota
	// argLiteral arguments must be constants and are emitted as-is.
	argLiteral
)

// funcSpec maps a host-side function to engine syntax. args lists, in engine
// order, which host argument fills each position; positions past minArgs are
// optional. suffix is appended after the translated arguments.
type funcSpec struct {
	name      string
	aggregate bool
	args      []argSpec
	minArgs   int
	suffix    []string
	// noArgs replaces the argument list when the call has no arguments
	// (COUNT(*)).
	noArgs string
}

type argSpec struct {
	host int
	mode argMode
}

func exprArgs(n int) []argSpec {
	out := make([]argSpec, n)
	for i := range out {
		out[i] = argSpec{host: i, mode: argExpr}
	}
	return out
}

func scalar(name string, n int) funcSpec {
	return funcSpec{name: name, args: exprArgs(n), minArgs: n}
}

func aggregate(name string) funcSpec {
	return funcSpec{name: name, aggregate: true, args: exprArgs(1), minArgs: 1}
}

// byOffset builds EARLIEST_BY_OFFSET / LATEST_BY_OFFSET. The optional second
// argument is the number of values to collect; allowing nulls appends the
// ignoreNulls=false flag.
func byOffset(name string, allowNulls bool) funcSpec {
	s := funcSpec{
		name:      name,
		aggregate: true,
		args:      []argSpec{{host: 0, mode: argExpr}, {host: 1, mode: argLiteral}},
		minArgs:   1,
	}
	if allowNulls {
		s.suffix = []string{"false"}
	}
	return s
}

func topK(name string) funcSpec {
	return funcSpec{
		name:      name,
		aggregate: true,
		args:      []argSpec{{host: 0, mode: argExpr}, {host: 1, mode: argLiteral}},
		minArgs:   2,
	}
}

var functions = map[string]funcSpec{
	expr.FuncTrim:      scalar("TRIM", 1),
	expr.FuncLPad:      scalar("LPAD", 3),
	expr.FuncRPad:      scalar("RPAD", 3),
	expr.FuncSubstring: scalar("Substring", 3),
	expr.FuncToUpper:   scalar("UCASE", 1),
	expr.FuncToLower:   scalar("LCASE", 1),
	expr.FuncLen:       scalar("LEN", 1),
	expr.FuncAbs:       scalar("ABS", 1),
	expr.FuncCeil:      scalar("CEIL", 1),
	expr.FuncFloor:     scalar("FLOOR", 1),
	expr.FuncRandom:    scalar("RANDOM", 0),
	expr.FuncSign:      scalar("SIGN", 1),
	expr.FuncArrayLen:  scalar("ARRAY_LENGTH", 1),

	expr.FuncCount:                      {name: "COUNT", aggregate: true, args: exprArgs(1), noArgs: "*"},
	expr.FuncLongCount:                  {name: "COUNT", aggregate: true, args: exprArgs(1), noArgs: "*"},
	expr.FuncCountDistinct:              aggregate("COUNT_DISTINCT"),
	expr.FuncLongCountDistinct:          aggregate("COUNT_DISTINCT"),
	expr.FuncSum:                        aggregate("SUM"),
	expr.FuncAvg:                        aggregate("AVG"),
	expr.FuncMin:                        aggregate("MIN"),
	expr.FuncMax:                        aggregate("MAX"),
	expr.FuncCollectSet:                 aggregate("COLLECT_SET"),
	expr.FuncCollectList:                aggregate("COLLECT_LIST"),
	expr.FuncEarliestByOffset:           byOffset("EARLIEST_BY_OFFSET", false),
	expr.FuncEarliestByOffsetAllowNulls: byOffset("EARLIEST_BY_OFFSET", true),
	expr.FuncLatestByOffset:             byOffset("LATEST_BY_OFFSET", false),
	expr.FuncLatestByOffsetAllowNulls:   byOffset("LATEST_BY_OFFSET", true),
	expr.FuncTopK:                       topK("TOPK"),
	expr.FuncTopKDistinct:               topK("TOPKDISTINCT"),
}

func (t *Translator) visitCall(b *builder, n expr.Call) error {
	switch n.Func {
	case expr.FuncLike:
		return t.visitLike(b, n)
	case expr.FuncIn:
		return t.visitIn(b, n)
	case expr.FuncDynamic:
		if len(n.Args) != 1 {
			return unsupported(n, "Dynamic takes exactly one argument")
		}
		c, ok := n.Args[0].(expr.Constant)
		if !ok {
			return unsupported(n, "Dynamic argument must be a constant string")
		}
		s, ok := c.Value.(string)
		if !ok {
			return unsupported(n, "Dynamic argument must be a constant string")
		}
		b.WriteString(s)
		return nil
	}

	spec, ok := functions[n.Func]
	if !ok {
		return unsupported(n, "unknown function")
	}
	if len(n.Args) < spec.minArgs || len(n.Args) > len(spec.args) {
		return unsupported(n, fmt.Sprintf("expected %d to %d arguments, got %d", spec.minArgs, len(spec.args), len(n.Args)))
	}

	inner := t
	if spec.aggregate {
		if t.inAggregate {
			return unsupported(n, "nested aggregate")
		}
		g, ok := t.scope.(groupedScope)
		if !ok {
			return unsupported(n, "aggregate function outside a grouping")
		}
		inner = &Translator{scope: g.RowScope(), inAggregate: true}
	}

	b.WriteString(spec.name)
	b.WriteByte('(')
	if len(n.Args) == 0 && spec.noArgs != "" {
		b.WriteString(spec.noArgs)
	}
	written := 0
	for _, a := range spec.args {
		if a.host >= len(n.Args) {
			continue
		}
		if written > 0 {
			b.WriteString(", ")
		}
		arg := n.Args[a.host]
		switch a.mode {
		case argLiteral:
			c, ok := arg.(expr.Constant)
			if !ok {
				return unsupported(n, fmt.Sprintf("argument %d must be a constant", a.host+1))
			}
			b.WriteString(formatLiteral(c.Value))
		default:
			if err := inner.visit(b, arg); err != nil {
				return err
			}
		}
		written++
	}
	for _, s := range spec.suffix {
		b.WriteString(", " + s)
	}
	b.WriteByte(')')
	return nil
}

// visitLike renders value LIKE pattern. When either side is lower-cased,
// both sides are wrapped in LCASE instead of emitting a case-insensitive
// comparison.
func (t *Translator) visitLike(b *builder, n expr.Call) error {
	if len(n.Args) != 2 {
		return unsupported(n, "Like takes exactly two arguments")
	}
	value, pattern := n.Args[0], n.Args[1]
	if !isLower(value) && !isLower(pattern) {
		if err := t.visit(b, value); err != nil {
			return err
		}
		b.WriteString(" LIKE ")
		return t.visit(b, pattern)
	}
	b.WriteString("LCASE(")
	if err := t.visit(b, unwrapLower(value)); err != nil {
		return err
	}
	b.WriteString(") LIKE LCASE(")
	if err := t.visit(b, unwrapLower(pattern)); err != nil {
		return err
	}
	b.WriteByte(')')
	return nil
}

// visitIn renders x IN (v1, v2, ...) from a constant sequence.
func (t *Translator) visitIn(b *builder, n expr.Call) error {
	if len(n.Args) != 2 {
		return unsupported(n, "In takes exactly two arguments")
	}
	if _, ok := n.Args[1].(expr.Constant); !ok {
		return unsupported(n, "In values must be a constant sequence")
	}
	if err := t.visit(b, n.Args[0]); err != nil {
		return err
	}
	b.WriteString(" IN (")
	if err := t.visit(b, n.Args[1]); err != nil {
		return err
	}
	b.WriteByte(')')
	return nil
}

func isLower(e expr.Expr) bool {
	c, ok := e.(expr.Call)
	return ok && c.Func == expr.FuncToLower && len(c.Args) == 1
}

func unwrapLower(e expr.Expr) expr.Expr {
	if isLower(e) {
		return e.(expr.Call).Args[0]
	}
	return e
}

func isAggregate(c expr.Call) bool {
	return functions[c.Func].aggregate
}

// containsAggregate walks e looking for aggregate calls.
func containsAggregate(e expr.Expr) bool {
	switch n := e.(type) {
	case expr.Call:
		if isAggregate(n) {
			return true
		}
		for _, a := range n.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case expr.Binary:
		return containsAggregate(n.L) || containsAggregate(n.R)
	case expr.Unary:
		return containsAggregate(n.X)
	case expr.Member:
		return n.Of != nil && containsAggregate(n.Of)
	case expr.Construct:
		for _, f := range n.Fields {
			if (f.Key != nil && containsAggregate(f.Key)) || containsAggregate(f.Value) {
				return true
			}
		}
		for _, el := range n.Elems {
			if containsAggregate(el) {
				return true
			}
		}
	case expr.Index:
		return containsAggregate(n.Target) || containsAggregate(n.Index)
	case expr.Conditional:
		return containsAggregate(n.Test) || containsAggregate(n.Then) || containsAggregate(n.Else)
	}
	return false
}
