package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/florinutz/ksqlq/expr"
	"github.com/florinutz/ksqlq/ksqlerr"
	"github.com/florinutz/ksqlq/translate"
)

// Column is one entry of a statement's projection shape.
type Column struct {
	// Name is the engine column name.
	Name string
	// Member is the host-type field the column decodes into.
	Member string
}

// Statement is the compiled form of a chain.
type Statement struct {
	Text    string
	Source  string
	Push    bool
	Columns []Column
}

func (s Statement) String() string { return s.Text }

// compiler accumulates clause contributions while folding the chain.
type compiler struct {
	src   Source
	scope translate.Scope

	from    string
	joined  bool
	items   []translate.Item
	wheres  []predicate
	window  *Window
	keys    []translate.Item
	havings []predicate
	limit   int
}

// predicate is one translated filter. Disjunctions are parenthesised when
// more than one predicate is combined.
type predicate struct {
	text string
	or   bool
}

func newPredicate(e expr.Expr, text string) predicate {
	b, ok := e.(expr.Binary)
	return predicate{text: text, or: ok && b.Op == expr.OpOr}
}

// Compile walks the chain ending at head and renders its statement. It is a
// pure function of the chain: compiling the same head twice yields the same
// text.
func Compile(head *Node) (Statement, error) {
	if head == nil {
		return Statement{}, &ksqlerr.ConfigurationError{Field: "query", Err: fmt.Errorf("nil operator chain")}
	}
	chain := head.chain()
	root := chain[0]
	if root.kind != KindSource {
		return Statement{}, &ksqlerr.TranslationError{Construct: root.kind.String(), Reason: "chain does not start at a source"}
	}
	if strings.TrimSpace(root.source.Name) == "" {
		return Statement{}, &ksqlerr.ConfigurationError{Field: "source name", Err: fmt.Errorf("empty stream or table name")}
	}

	c := &compiler{
		src:   root.source,
		scope: translate.SourceScope{Mapping: root.source.Mapping},
		from:  root.source.Name,
		limit: -1,
	}
	for i, n := range chain[1:] {
		if err := c.apply(n, i == 0); err != nil {
			return Statement{}, err
		}
	}
	return c.statement(), nil
}

func (c *compiler) apply(n *Node, first bool) error {
	switch n.kind {
	case KindWhere:
		frag, err := translate.New(c.scope).TranslatePredicate(n.expr)
		if err != nil {
			return err
		}
		c.wheres = append(c.wheres, newPredicate(n.expr, frag.Text))
	case KindSelect:
		items, err := translate.New(c.scope).TranslateItems(n.expr)
		if err != nil {
			return err
		}
		c.items = items
		if _, grouped := c.scope.(translate.GroupScope); !grouped {
			c.scope = translate.ProjectionScope{Items: items}
		}
	case KindGroupBy:
		if c.keys != nil {
			return &ksqlerr.TranslationError{Construct: "GroupBy", Reason: "a query may be grouped only once"}
		}
		keys, err := translate.New(c.scope).TranslateItems(n.expr)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return &ksqlerr.TranslationError{Construct: "GroupBy", Reason: "empty grouping key"}
		}
		c.keys = keys
		c.scope = translate.GroupScope{Keys: keys, Row: c.scope}
	case KindWindowedBy:
		if c.window != nil {
			return &ksqlerr.TranslationError{Construct: "WindowedBy", Reason: "a query may be windowed only once"}
		}
		if err := n.window.validate(); err != nil {
			return &ksqlerr.TranslationError{Construct: "WindowedBy", Reason: err.Error()}
		}
		w := n.window
		c.window = &w
	case KindHaving:
		if c.keys == nil {
			return &ksqlerr.TranslationError{Construct: "Having", Reason: "Having requires a preceding GroupBy"}
		}
		frag, err := translate.New(c.scope).Translate(n.expr)
		if err != nil {
			return err
		}
		c.havings = append(c.havings, newPredicate(n.expr, frag.Text))
	case KindJoin, KindLeftJoin:
		if c.joined {
			return &ksqlerr.TranslationError{Construct: n.kind.String(), Reason: "only one join per query is supported"}
		}
		if !first {
			return &ksqlerr.TranslationError{Construct: n.kind.String(), Reason: "a join must directly follow its source"}
		}
		return c.applyJoin(n)
	case KindTake:
		if n.limit < 0 {
			return &ksqlerr.TranslationError{Construct: "Take", Reason: fmt.Sprintf("negative limit %d", n.limit)}
		}
		if c.limit < 0 || n.limit < c.limit {
			c.limit = n.limit
		}
	default:
		return &ksqlerr.TranslationError{Construct: n.kind.String(), Reason: "unexpected operator"}
	}
	return nil
}

func (c *compiler) applyJoin(n *Node) error {
	j := n.join
	if strings.TrimSpace(j.Right.Name) == "" {
		return &ksqlerr.ConfigurationError{Field: "join source name", Err: fmt.Errorf("empty stream or table name")}
	}
	if j.LeftKey == nil || j.RightKey == nil {
		return &ksqlerr.TranslationError{Construct: n.kind.String(), Reason: "join keys are required"}
	}
	leftAlias, rightAlias := joinAliases(c.src, j.Right)
	scope := translate.JoinScope{
		Left:  translate.JoinSide{Mapping: c.src.Mapping, Alias: leftAlias},
		Right: translate.JoinSide{Mapping: j.Right.Mapping, Alias: rightAlias},
	}
	lk, err := translate.New(scope).Translate(j.LeftKey)
	if err != nil {
		return err
	}
	// The right key sees the right-hand source as its row.
	rk, err := translate.New(translate.JoinScope{Left: scope.Right, Right: scope.Left}).Translate(j.RightKey)
	if err != nil {
		return err
	}

	kind := "INNER JOIN"
	if n.kind == KindLeftJoin {
		kind = "LEFT JOIN"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s %s ON %s = %s", c.src.Name, leftAlias, kind, j.Right.Name, rightAlias, lk.Text, rk.Text)
	if j.Within > 0 {
		b.WriteString(" WITHIN " + FormatDuration(j.Within))
	}
	c.from = b.String()
	c.joined = true
	c.scope = scope

	if j.Projection != nil {
		items, err := translate.New(scope).TranslateItems(j.Projection)
		if err != nil {
			return err
		}
		c.items = items
		c.scope = translate.ProjectionScope{Items: items}
	}
	return nil
}

// joinAliases returns the table aliases of both join inputs: the explicit
// alias when set, otherwise the upper-cased initial of the source name, or
// the full names when the initials collide.
func joinAliases(left, right Source) (string, string) {
	l, r := left.Alias, right.Alias
	if l == "" {
		l = initial(left.Name)
	}
	if r == "" {
		r = initial(right.Name)
	}
	if strings.EqualFold(l, r) {
		if left.Alias == "" {
			l = left.Name
		}
		if right.Alias == "" {
			r = right.Name
		}
	}
	return l, r
}

func initial(name string) string {
	for _, r := range name {
		return string(unicode.ToUpper(r))
	}
	return name
}

func (c *compiler) statement() Statement {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(c.items) == 0 {
		b.WriteByte('*')
	} else {
		b.WriteString(translate.RenderItems(c.items))
	}
	b.WriteString(" FROM " + c.from)
	if len(c.wheres) > 0 {
		b.WriteString(" WHERE " + joinAnd(c.wheres))
	}
	if c.window != nil {
		b.WriteString(" WINDOW " + c.window.String())
	}
	if len(c.keys) > 0 {
		keys := make([]string, len(c.keys))
		for i, k := range c.keys {
			keys[i] = k.Fragment.Text
		}
		b.WriteString(" GROUP BY " + strings.Join(keys, ", "))
	}
	if len(c.havings) > 0 {
		b.WriteString(" HAVING " + joinAnd(c.havings))
	}
	if c.limit >= 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(c.limit))
	}
	push := c.src.Emission == Push
	if push {
		b.WriteString(" EMIT CHANGES")
	}
	b.WriteByte(';')

	return Statement{
		Text:    b.String(),
		Source:  c.src.Name,
		Push:    push,
		Columns: c.columns(),
	}
}

func joinAnd(preds []predicate) string {
	if len(preds) == 1 {
		return preds[0].text
	}
	parts := make([]string, len(preds))
	for i, p := range preds {
		if p.or {
			parts[i] = "(" + p.text + ")"
		} else {
			parts[i] = p.text
		}
	}
	return strings.Join(parts, " AND ")
}

// columns derives the projection shape: the selected items, or the source's
// mapped fields when nothing was projected.
func (c *compiler) columns() []Column {
	if len(c.items) == 0 {
		if c.joined {
			return nil
		}
		cols := make([]Column, 0, len(c.src.Mapping.Fields))
		for _, f := range c.src.Mapping.Fields {
			cols = append(cols, Column{Name: f.ColumnName(), Member: f.Member})
		}
		return cols
	}
	cols := make([]Column, len(c.items))
	for i, it := range c.items {
		name := it.Name
		if name == "" {
			name = it.Fragment.Text
		}
		cols[i] = Column{Name: name, Member: name}
	}
	return cols
}
