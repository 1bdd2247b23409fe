package reconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/florinutz/ksqlq/internal/backoff"
)

var fast = backoff.Policy{Base: time.Millisecond, Cap: time.Millisecond}

func TestLoop_RetriesUntilSuccess(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_retries"})
	calls := 0
	err := Loop(context.Background(), "test", fast, nil, counter, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := testutil.ToFloat64(counter); got != 2 {
		t.Errorf("counter = %v, want 2", got)
	}
}

func TestLoop_PermanentError(t *testing.T) {
	calls := 0
	err := Loop(context.Background(), "test", fast, nil, nil, func(context.Context) error {
		calls++
		return fmt.Errorf("bad request: %w", ErrPermanent)
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Loop(ctx, "test", fast, nil, nil, func(context.Context) error {
		cancel()
		return errors.New("interrupted")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestLoop_HealthyRunResetsBackoff(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	policy := backoff.Policy{Base: 10 * time.Millisecond, Cap: 20 * time.Millisecond}

	calls := 0
	err := Loop(context.Background(), "query", policy, logger, nil, func(context.Context) error {
		calls++
		switch calls {
		case 3:
			time.Sleep(40 * time.Millisecond)
		case 4:
			return nil
		}
		return errors.New("stream reset")
	})
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}

	var attempts []int
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line struct {
			Attempt int `json:"attempt"`
		}
		if err := dec.Decode(&line); err != nil {
			t.Fatal(err)
		}
		attempts = append(attempts, line.Attempt)
	}
	if want := []int{1, 2, 1}; !slices.Equal(attempts, want) {
		t.Errorf("attempts = %v, want %v", attempts, want)
	}
}
