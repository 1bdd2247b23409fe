// Package reconnect reruns a failing component with backoff.
package reconnect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/florinutz/ksqlq/internal/backoff"
)

// ErrPermanent marks an error that retrying cannot fix. Loop returns it
// (wrapped) instead of scheduling another attempt.
var ErrPermanent = errors.New("permanent failure")

// Loop runs runFn until it returns nil, a permanent error, or ctx is
// cancelled, in which case it returns ctx.Err(). Other errors are counted,
// logged and retried after a backoff delay. A run that lasted longer than
// the policy's cap was healthy, so the backoff after it starts over.
func Loop(ctx context.Context, name string, policy backoff.Policy,
	logger *slog.Logger, errCounter prometheus.Counter,
	runFn func(ctx context.Context) error,
) error {
	if logger == nil {
		logger = slog.Default()
	}
	healthy := policy.MaxDelay()

	attempt := 0
	for {
		started := time.Now()
		err := runFn(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			return nil
		case errors.Is(err, ErrPermanent):
			return err
		}

		if time.Since(started) > healthy {
			attempt = 0
		}
		if errCounter != nil {
			errCounter.Inc()
		}
		delay := policy.Delay(attempt)
		attempt++
		logger.Error("connection lost, reconnecting",
			"component", name,
			"error", err,
			"attempt", attempt,
			"delay", delay,
		)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}
