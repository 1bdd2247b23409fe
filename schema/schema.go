// Package schema holds the per-entity mapping tables that tie host-type
// members to engine column names. The same table drives member resolution in
// the translator and ordinal-to-member resolution when decoding rows.
//
// Mappings are supplied statically by the entity types themselves through
// Provider; nothing here inspects types at runtime. Registry tracks the result
// headers the engine actually returned for each source.
package schema

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Field maps one host-type member to its engine column. An empty Column means
// the column is named after the member.
type Field struct {
	Member string
	Column string
}

// ColumnName returns the engine column for the field.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Member
}

// Mapping is the ordered member-to-column table of an entity type.
type Mapping struct {
	// Entity is the logical entity name (e.g. "Person"). The default source
	// name is derived from it.
	Entity string
	Fields []Field
}

// Provider is implemented by entity types that declare their mapping.
type Provider interface {
	ColumnMapping() Mapping
}

// For returns the mapping declared by T (or *T). The boolean is false when T
// declares no mapping, in which case members map to identically named
// columns.
func For[T any]() (Mapping, bool) {
	var zero T
	if p, ok := any(zero).(Provider); ok {
		return p.ColumnMapping(), true
	}
	if p, ok := any(&zero).(Provider); ok {
		return p.ColumnMapping(), true
	}
	return Mapping{}, false
}

// Identity builds a mapping whose columns are named after the members.
func Identity(entity string, members ...string) Mapping {
	m := Mapping{Entity: entity, Fields: make([]Field, 0, len(members))}
	for _, name := range members {
		m.Fields = append(m.Fields, Field{Member: name})
	}
	return m
}

// Known reports whether the mapping lists its fields.
func (m Mapping) Known() bool {
	return len(m.Fields) > 0
}

// Column resolves a member to its column. Unlisted members resolve to
// themselves.
func (m Mapping) Column(member string) string {
	for _, f := range m.Fields {
		if f.Member == member {
			return f.ColumnName()
		}
	}
	return member
}

// Member resolves a wire column back to the member it decodes into.
// Engine column names are matched case-insensitively because unquoted
// identifiers come back upper-cased.
func (m Mapping) Member(column string) (string, bool) {
	for _, f := range m.Fields {
		if strings.EqualFold(f.ColumnName(), column) {
			return f.Member, true
		}
	}
	return "", false
}

// HasColumn reports whether any field maps to column (case-insensitive).
func (m Mapping) HasColumn(column string) bool {
	_, ok := m.Member(column)
	return ok
}

// Columns returns the column names in declaration order.
func (m Mapping) Columns() []string {
	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = f.ColumnName()
	}
	return cols
}

// SourceName derives the default stream/table name from the entity name,
// pluralised when pluralize is set (Person -> People, Tweet -> Tweets).
func (m Mapping) SourceName(pluralize bool) string {
	if m.Entity == "" || !pluralize {
		return m.Entity
	}
	return inflection.Plural(m.Entity)
}
