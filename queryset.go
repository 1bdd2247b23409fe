package ksqlq

import (
	"context"
	"maps"

	"github.com/florinutz/ksqlq/expr"
	"github.com/florinutz/ksqlq/metrics"
	"github.com/florinutz/ksqlq/query"
	"github.com/florinutz/ksqlq/transport"
)

// QuerySet is a query whose rows decode into T. It is a value: every method
// returns a new QuerySet and leaves the receiver usable as a shared prefix.
type QuerySet[T any] struct {
	ctx    *Context
	node   *query.Node
	params map[string]string
}

// CreateQuerySet starts a query over entity type T.
func CreateQuerySet[T any](c *Context, opts ...SetOption) QuerySet[T] {
	return QuerySet[T]{ctx: c, node: query.NewRoot(source[T](c, opts))}
}

func (q QuerySet[T]) with(n *query.Node) QuerySet[T] {
	q.node = n
	return q
}

// Where filters rows. Successive filters are combined with AND.
func (q QuerySet[T]) Where(predicate expr.Expr) QuerySet[T] {
	return q.with(q.node.Where(predicate))
}

// GroupBy groups rows by key: a member or a projection of members. Later
// operators see the grouping through expr.Key, expr.KeyField and aggregates.
func (q QuerySet[T]) GroupBy(key expr.Expr) QuerySet[T] {
	return q.with(q.node.GroupBy(key))
}

func (q QuerySet[T]) WindowedBy(w query.Window) QuerySet[T] {
	return q.with(q.node.WindowedBy(w))
}

// Having filters groups.
func (q QuerySet[T]) Having(predicate expr.Expr) QuerySet[T] {
	return q.with(q.node.Having(predicate))
}

// Take limits the number of rows. The smallest limit in a chain wins.
func (q QuerySet[T]) Take(n int) QuerySet[T] {
	return q.with(q.node.Take(n))
}

// WithParameter sets a stream property for this query only, overriding the
// context default with the same key.
func (q QuerySet[T]) WithParameter(key, value string) QuerySet[T] {
	params := maps.Clone(q.params)
	if params == nil {
		params = make(map[string]string, 1)
	}
	params[key] = value
	q.params = params
	return q
}

// Parameters returns the stream properties sent with this query.
func (q QuerySet[T]) Parameters() map[string]string {
	out := q.ctx.Parameters()
	maps.Copy(out, q.params)
	return out
}

// Node returns the head of the operator chain.
func (q QuerySet[T]) Node() *query.Node { return q.node }

// Compile renders the statement. Translation and configuration errors are
// reported here, before anything is sent.
func (q QuerySet[T]) Compile() (query.Statement, error) {
	stmt, err := query.Compile(q.node)
	if err != nil {
		metrics.QueriesCompiled.WithLabelValues("error").Inc()
		return query.Statement{}, err
	}
	metrics.QueriesCompiled.WithLabelValues("ok").Inc()
	q.ctx.logger.Debug("compiled query", "source", stmt.Source, "sql", stmt.Text)
	return stmt, nil
}

func (q QuerySet[T]) ToQueryString() (string, error) {
	stmt, err := q.Compile()
	if err != nil {
		return "", err
	}
	return stmt.Text, nil
}

// Stream compiles the query and returns its rows. The request is sent on
// the first call to Next; cancelling ctx ends the sequence without error.
func (q QuerySet[T]) Stream(ctx context.Context) (*transport.Rows[T], error) {
	stmt, err := q.Compile()
	if err != nil {
		return nil, err
	}
	return transport.NewRows[T](q.ctx.client.Open(ctx, stmt, q.Parameters())), nil
}

// Select projects rows into R. The projection is usually built with expr.New
// or expr.Cols; field names must match R's fields.
func Select[R, T any](q QuerySet[T], projection expr.Expr) QuerySet[R] {
	return QuerySet[R]{ctx: q.ctx, node: q.node.Select(projection), params: q.params}
}

// Join inner-joins q with right on leftKey = rightKey. leftKey resolves
// against q's source and rightKey against right; projection may reference
// right-hand members with expr.RightCol. A nil projection selects all
// columns.
func Join[R, T any](q QuerySet[T], right query.Source, leftKey, rightKey, projection expr.Expr) QuerySet[R] {
	return QuerySet[R]{ctx: q.ctx, node: q.node.Join(joinSpec(right, leftKey, rightKey, projection)), params: q.params}
}

// LeftJoin is Join keeping left rows without a match.
func LeftJoin[R, T any](q QuerySet[T], right query.Source, leftKey, rightKey, projection expr.Expr) QuerySet[R] {
	return QuerySet[R]{ctx: q.ctx, node: q.node.LeftJoin(joinSpec(right, leftKey, rightKey, projection)), params: q.params}
}

func joinSpec(right query.Source, leftKey, rightKey, projection expr.Expr) query.JoinSpec {
	return query.JoinSpec{Right: right, LeftKey: leftKey, RightKey: rightKey, Projection: projection}
}
