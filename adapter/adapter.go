// Package adapter defines the sinks streamed rows are written to.
package adapter

import (
	"context"

	"github.com/florinutz/ksqlq/event"
)

// Adapter consumes records until the channel is closed or ctx is cancelled.
type Adapter interface {
	Start(ctx context.Context, records <-chan event.Record) error
	Name() string
}
