package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/florinutz/ksqlq/event"
	"github.com/florinutz/ksqlq/metrics"
)

// Adapter writes records as JSON-lines to an io.Writer, for debugging and
// unix piping (e.g. ksqlq stream --from Tweets | jq .row).
type Adapter struct {
	w        io.Writer
	rowsOnly bool
	logger   *slog.Logger
}

// New creates a stdout adapter that writes JSON-lines to w. If w is nil it
// defaults to os.Stdout. With rowsOnly set only the row payload is written,
// without the record envelope.
func New(w io.Writer, rowsOnly bool, logger *slog.Logger) *Adapter {
	if w == nil {
		w = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		w:        w,
		rowsOnly: rowsOnly,
		logger:   logger.With("adapter", "stdout"),
	}
}

// Start blocks, writing each record as a JSON line. It returns nil when the
// channel is closed and ctx.Err() when the context is cancelled.
func (a *Adapter) Start(ctx context.Context, records <-chan event.Record) error {
	a.logger.Debug("stdout adapter started")

	enc := json.NewEncoder(a.w)

	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("stdout adapter stopping", "reason", "context cancelled")
			return ctx.Err()

		case rec, ok := <-records:
			if !ok {
				a.logger.Debug("stdout adapter stopping", "reason", "channel closed")
				return nil
			}
			var v any = rec
			if a.rowsOnly {
				v = rec.Row
			}
			if err := enc.Encode(v); err != nil {
				metrics.SinkErrors.WithLabelValues("stdout").Inc()
				return fmt.Errorf("stdout adapter: encode record %s: %w", rec.ID, err)
			}
			metrics.RowsDelivered.WithLabelValues("stdout").Inc()
		}
	}
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return "stdout"
}
