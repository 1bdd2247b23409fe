package expr

import "testing"

func TestNewNamesMemberFields(t *testing.T) {
	c := New(Field{Value: Col("Id")}, As("Msg", Col("Message")))
	if c.Kind != Projection {
		t.Fatalf("kind = %v, want Projection", c.Kind)
	}
	if c.Fields[0].Name != "Id" {
		t.Errorf("field 0 name = %q, want Id", c.Fields[0].Name)
	}
	if c.Fields[1].Name != "Msg" {
		t.Errorf("field 1 name = %q, want Msg", c.Fields[1].Name)
	}
}

func TestNewDoesNotMutateCallerSlice(t *testing.T) {
	fields := []Field{{Value: Col("Id")}}
	_ = New(fields...)
	if fields[0].Name != "" {
		t.Errorf("caller slice mutated: %q", fields[0].Name)
	}
}

func TestAndFoldsLeft(t *testing.T) {
	a, b, c := Col("A"), Col("B"), Col("C")
	got, ok := And(a, b, c).(Binary)
	if !ok || got.Op != OpAnd {
		t.Fatalf("And = %#v", got)
	}
	inner, ok := got.L.(Binary)
	if !ok || inner.Op != OpAnd {
		t.Fatalf("left operand = %#v, want nested AND", got.L)
	}
	if got.R != Expr(c) {
		t.Errorf("right operand = %#v, want C", got.R)
	}
}

func TestLit(t *testing.T) {
	if _, ok := Lit(Col("A")).(Member); !ok {
		t.Error("Lit should pass expressions through")
	}
	if c, ok := Lit(42).(Constant); !ok || c.Value != 42 {
		t.Errorf("Lit(42) = %#v", Lit(42))
	}
}

func TestAggregateHelpers(t *testing.T) {
	tests := []struct {
		name  string
		call  Call
		fn    string
		nargs int
	}{
		{"count rows", Count(), FuncCount, 0},
		{"count column", Count(Col("Id")), FuncCount, 1},
		{"earliest", EarliestByOffset(Col("Amount")), FuncEarliestByOffset, 1},
		{"earliest n", EarliestByOffset(Col("Amount"), 2), FuncEarliestByOffset, 2},
		{"topk", TopK(Col("Amount"), 3), FuncTopK, 2},
		{"dynamic", Dynamic("IFNULL(Message, 'n/a')"), FuncDynamic, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.call.Func != tt.fn {
				t.Errorf("func = %q, want %q", tt.call.Func, tt.fn)
			}
			if len(tt.call.Args) != tt.nargs {
				t.Errorf("args = %d, want %d", len(tt.call.Args), tt.nargs)
			}
		})
	}
}
