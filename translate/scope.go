package translate

import (
	"fmt"

	"github.com/florinutz/ksqlq/expr"
	"github.com/florinutz/ksqlq/schema"
)

// Scope resolves the members an expression may reference at one point of an
// operator chain.
type Scope interface {
	// Resolve renders a member whose Of is nil.
	Resolve(m expr.Member) (Fragment, error)
}

// groupedScope is implemented by scopes in which aggregate calls are legal.
// Aggregate selectors are translated against RowScope.
type groupedScope interface {
	Scope
	RowScope() Scope
	// KeyField resolves Key.<name>.
	KeyField(name string) (Fragment, error)
}

// Item is one named entry of a projection or grouping key.
type Item struct {
	Name     string
	Fragment Fragment
}

// SourceScope resolves members of a single source through its mapping.
type SourceScope struct {
	Mapping schema.Mapping
}

func (s SourceScope) Resolve(m expr.Member) (Fragment, error) {
	if m.Side == expr.Right {
		return Fragment{}, unsupported(m, "right-hand member used outside a join")
	}
	return Fragment{Text: s.Mapping.Column(m.Name)}, nil
}

// JoinSide describes one input of a join.
type JoinSide struct {
	Mapping schema.Mapping
	Alias   string
}

// JoinScope resolves members of both join inputs. A member is prefixed with
// its side's alias when the other side declares the same column, or when the
// other side's columns are unknown.
type JoinScope struct {
	Left, Right JoinSide
}

func (s JoinScope) Resolve(m expr.Member) (Fragment, error) {
	own, other := s.Left, s.Right
	if m.Side == expr.Right {
		own, other = s.Right, s.Left
	}
	col := own.Mapping.Column(m.Name)
	if !other.Mapping.Known() || other.Mapping.HasColumn(col) {
		return Fragment{Text: own.Alias + "." + col, Aliased: true}, nil
	}
	return Fragment{Text: col}, nil
}

// ProjectionScope resolves members of a projected row to the expressions that
// produced them.
type ProjectionScope struct {
	Items []Item
}

func (s ProjectionScope) Resolve(m expr.Member) (Fragment, error) {
	for _, it := range s.Items {
		if it.Name == m.Name {
			return it.Fragment, nil
		}
	}
	return Fragment{}, unsupported(m, fmt.Sprintf("member %q is not part of the projection", m.Name))
}

// GroupScope resolves members of a grouping: the key, its fields and the
// window bounds. Row members are only reachable through aggregate selectors.
type GroupScope struct {
	Keys []Item
	Row  Scope
}

func (s GroupScope) Resolve(m expr.Member) (Fragment, error) {
	switch m.Name {
	case expr.KeyMember:
		if len(s.Keys) != 1 {
			return Fragment{}, unsupported(m, "grouping key is composite, use KeyField")
		}
		return s.Keys[0].Fragment, nil
	case expr.WindowStartMember:
		return Fragment{Text: "WINDOWSTART"}, nil
	case expr.WindowEndMember:
		return Fragment{Text: "WINDOWEND"}, nil
	}
	return Fragment{}, unsupported(m, fmt.Sprintf("member %q is not accessible on a grouping, use Key or an aggregate", m.Name))
}

func (s GroupScope) RowScope() Scope { return s.Row }

func (s GroupScope) KeyField(name string) (Fragment, error) {
	for _, k := range s.Keys {
		if k.Name == name {
			return k.Fragment, nil
		}
	}
	return Fragment{}, unsupported(expr.KeyField(name), fmt.Sprintf("grouping key has no field %q", name))
}
