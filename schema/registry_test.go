package schema

import "testing"

func TestRegistry_Versions(t *testing.T) {
	r := NewRegistry()
	v1cols := ColumnDefs([]string{"ID", "MESSAGE"}, []string{"INTEGER", "STRING"})

	v, created := r.Register("Tweets", v1cols)
	if !created || v.Version != 1 {
		t.Fatalf("first register = v%d created=%v", v.Version, created)
	}

	v, created = r.Register("Tweets", ColumnDefs([]string{"id", "message"}, []string{"integer", "string"}))
	if created || v.Version != 1 {
		t.Fatalf("same header (case-insensitive) = v%d created=%v", v.Version, created)
	}

	v, created = r.Register("Tweets", ColumnDefs([]string{"ID"}, []string{"INTEGER"}))
	if !created || v.Version != 2 {
		t.Fatalf("changed header = v%d created=%v", v.Version, created)
	}

	latest, ok := r.Latest("Tweets")
	if !ok || latest.Version != 2 {
		t.Fatalf("Latest = %+v, %v", latest, ok)
	}
	if got := r.List("Tweets"); len(got) != 2 || got[0].Version != 1 {
		t.Fatalf("List = %+v", got)
	}

	if _, ok := r.Latest("People"); ok {
		t.Fatal("unknown subject reported")
	}
	if got := r.List("People"); len(got) != 0 {
		t.Fatalf("List(unknown) = %+v", got)
	}
}

func TestRegistry_SubjectsAreIndependent(t *testing.T) {
	r := NewRegistry()
	cols := ColumnDefs([]string{"ID"}, []string{"INTEGER"})
	r.Register("Tweets", cols)
	v, created := r.Register("People", cols)
	if !created || v.Version != 1 {
		t.Fatalf("People = v%d created=%v", v.Version, created)
	}
}

func TestColumnDefs_ShortTypes(t *testing.T) {
	got := ColumnDefs([]string{"A", "B"}, []string{"INTEGER"})
	if got[1] != (ColumnDef{Name: "B"}) {
		t.Fatalf("got %+v", got)
	}
}

func TestComputeHash_OrderMatters(t *testing.T) {
	a := ComputeHash(ColumnDefs([]string{"A", "B"}, []string{"INT", "INT"}))
	b := ComputeHash(ColumnDefs([]string{"B", "A"}, []string{"INT", "INT"}))
	if a == b {
		t.Fatal("reordered columns hash equal")
	}
}
