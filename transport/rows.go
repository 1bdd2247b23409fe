package transport

import (
	"encoding/json"
	"iter"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/florinutz/ksqlq/ksqlerr"
	"github.com/florinutz/ksqlq/query"
)

// Row is an untyped result row keyed by engine column name.
type Row map[string]any

// Rows decodes a session's rows into T. Columns are matched to T's fields
// through the statement's projection shape, then by case-insensitive name.
//
//	rows := transport.NewRows[Tweet](client.Open(ctx, stmt, nil))
//	defer rows.Close()
//	for rows.Next() {
//		tw := rows.Row()
//	}
//	if err := rows.Err(); err != nil { ... }
type Rows[T any] struct {
	s       *Session
	members []string
	cur     T
	closed  bool
}

// NewRows wraps s. The session is not started until the first Next.
func NewRows[T any](s *Session) *Rows[T] {
	return &Rows[T]{s: s}
}

// Next decodes the next row. It returns false at the end of the stream, on
// cancellation and on the first error.
func (r *Rows[T]) Next() bool {
	var zero T
	r.cur = zero
	if r.closed || !r.s.Next() {
		return false
	}
	if r.members == nil {
		r.members = resolveMembers(r.s.header.ColumnNames, r.s.stmt.Columns)
	}
	v, err := decodeRow[T](r.s.header.ColumnNames, r.members, r.s.values)
	if err != nil {
		r.s.fail(&ksqlerr.DecodeError{Line: r.s.line, Reason: "cannot decode row", Err: err})
		return false
	}
	r.cur = v
	return true
}

// Row returns the row decoded by the last successful Next.
func (r *Rows[T]) Row() T { return r.cur }

// Err returns the terminal error, if any. Cancellation is not an error.
func (r *Rows[T]) Err() error { return r.s.Err() }

func (r *Rows[T]) State() State { return r.s.State() }

func (r *Rows[T]) Header() (Header, bool) { return r.s.Header() }

func (r *Rows[T]) Session() *Session { return r.s }

// Close releases the underlying session.
func (r *Rows[T]) Close() error {
	r.closed = true
	return r.s.Close()
}

// All returns the rows as a sequence. A terminal error is yielded once as
// the last element; the rows are closed when iteration stops.
func (r *Rows[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if r.closed {
			yield(zero, ksqlerr.ErrSessionClosed)
			return
		}
		defer r.Close()
		for r.Next() {
			if !yield(r.cur, nil) {
				return
			}
		}
		if err := r.Err(); err != nil {
			yield(zero, err)
		}
	}
}

// resolveMembers maps each header column to the field it decodes into.
func resolveMembers(names []string, columns []query.Column) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = name
		for _, c := range columns {
			if strings.EqualFold(c.Name, name) {
				out[i] = c.Member
				break
			}
		}
	}
	return out
}

func decodeRow[T any](names, members []string, values []any) (T, error) {
	var out T
	switch p := any(&out).(type) {
	case *Row:
		*p = rowMap(names, values)
		return out, nil
	case *map[string]any:
		*p = rowMap(names, values)
		return out, nil
	case *[]any:
		vals := make([]any, len(values))
		for i, v := range values {
			vals[i] = Normalize(v)
		}
		*p = vals
		return out, nil
	}

	input := make(map[string]any, len(values))
	for i, v := range values {
		input[members[i]] = Normalize(v)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(input); err != nil {
		return out, err
	}
	return out, nil
}

func rowMap(names []string, values []any) Row {
	row := make(Row, len(names))
	for i, name := range names {
		row[name] = Normalize(values[i])
	}
	return row
}

// Normalize converts JSON numbers to int64 when integral and float64
// otherwise, recursing into arrays and structs.
func Normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, e := range n {
			out[k] = Normalize(e)
		}
		return out
	default:
		return v
	}
}
