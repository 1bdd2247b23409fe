// Package ratelimit paces rows handed to a sink.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/florinutz/ksqlq/metrics"
)

// Limiter is a token bucket in front of one sink. A nil *Limiter never
// waits.
type Limiter struct {
	bucket *rate.Limiter
	sink   string
}

// New returns a limiter admitting rowsPerSecond rows to sink, or nil when
// rowsPerSecond is not positive. A non-positive burst admits one second's
// worth of rows at once.
func New(rowsPerSecond float64, burst int, sink string, logger *slog.Logger) *Limiter {
	if rowsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(math.Ceil(rowsPerSecond)))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sink rate limited", "sink", sink, "rows_per_second", rowsPerSecond, "burst", burst)
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rowsPerSecond), burst), sink: sink}
}

// Wait blocks until the next row may be sent. It fails when ctx is done or
// its deadline would pass before a token is available.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.RateLimitWaits.WithLabelValues(l.sink).Inc()
		metrics.RateLimitWaitDuration.WithLabelValues(l.sink).Observe(waited.Seconds())
	}
	return nil
}
