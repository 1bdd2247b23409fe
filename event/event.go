// Package event wraps streamed rows into self-describing records for sinks.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel/trace"
)

// Record is one result row as handed to a sink.
type Record struct {
	ID        string          `json:"id"`
	QueryID   string          `json:"query_id"`
	Source    string          `json:"source"`
	Seq       uint64          `json:"seq"`
	Row       json.RawMessage `json:"row"`
	CreatedAt time.Time       `json:"created_at"`
	// SchemaVersion is the version of the result header the row was read
	// under, when the caller tracks one.
	SchemaVersion int `json:"schema_version,omitempty"`
	// SpanContext is the session span the row was read under; zero when
	// tracing is disabled.
	SpanContext trace.SpanContext `json:"-"`
}

// New builds a record for row, the seq-th row (1-based) of query queryID.
func New(queryID, source string, seq uint64, row map[string]any) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("generate record id: %w", err)
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return Record{}, fmt.Errorf("encode row %d of %s: %w", seq, source, err)
	}
	return Record{
		ID:        id.String(),
		QueryID:   queryID,
		Source:    source,
		Seq:       seq,
		Row:       payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Key returns the partitioning key for the record: the query id, falling
// back to the source name for queries without one.
func (r Record) Key() string {
	if r.QueryID != "" {
		return r.QueryID
	}
	return r.Source
}
