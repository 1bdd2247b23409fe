// Package adaptertest holds the contract every sink must satisfy.
package adaptertest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/florinutz/ksqlq/event"
)

// RunContractTests runs the standard adapter interface contract tests.
// name is the expected adapter name. startFn wraps the adapter's Start method.
func RunContractTests(t *testing.T, name string, startFn func(ctx context.Context, ch <-chan event.Record) error) {
	t.Helper()

	t.Run("name_non_empty", func(t *testing.T) {
		if name == "" {
			t.Error("adapter name must not be empty")
		}
	})

	t.Run("cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ch := make(chan event.Record)
		err := startFn(ctx, ch)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("closed_channel", func(t *testing.T) {
		ch := make(chan event.Record)
		close(ch)
		err := startFn(context.Background(), ch)
		if err != nil {
			t.Errorf("expected nil error on closed channel, got %v", err)
		}
	})

	t.Run("processes_record", func(t *testing.T) {
		ch := make(chan event.Record, 1)
		ch <- TestRecord()
		close(ch)
		err := startFn(context.Background(), ch)
		if err != nil {
			t.Errorf("expected nil error after processing record, got %v", err)
		}
	})
}

// TestRecord returns a valid record for use in adapter tests.
func TestRecord() event.Record {
	return event.Record{
		ID:        "test-record-1",
		QueryID:   "transient_TWEETS_1",
		Source:    "Tweets",
		Seq:       1,
		Row:       json.RawMessage(`{"ID":1,"MESSAGE":"Hello world"}`),
		CreatedAt: time.Now().UTC(),
	}
}
