package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/florinutz/ksqlq/metrics"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name      string
		rate      float64
		burst     int
		wantNil   bool
		wantBurst int
	}{
		{name: "disabled", rate: 0, wantNil: true},
		{name: "negative", rate: -5, burst: 3, wantNil: true},
		{name: "explicit burst", rate: 10, burst: 3, wantBurst: 3},
		{name: "burst from rate", rate: 3.5, wantBurst: 4},
		{name: "slow rate", rate: 0.2, wantBurst: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := New(tc.rate, tc.burst, "stdout", nil)
			if tc.wantNil {
				if l != nil {
					t.Fatalf("New = %+v, want nil", l)
				}
				return
			}
			if got := l.bucket.Burst(); got != tc.wantBurst {
				t.Errorf("burst = %d, want %d", got, tc.wantBurst)
			}
		})
	}
}

func TestLimiter_NilNeverWaits(t *testing.T) {
	var l *Limiter
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 100 {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}

func TestLimiter_Paces(t *testing.T) {
	l := New(20, 1, "pace-test", nil)
	start := time.Now()
	for range 5 {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	// One free token, then four at 50ms intervals.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond || elapsed > time.Second {
		t.Errorf("5 rows at 20/s took %v", elapsed)
	}
	if got := testutil.ToFloat64(metrics.RateLimitWaits.WithLabelValues("pace-test")); got < 3 {
		t.Errorf("recorded waits = %v, want >= 3", got)
	}
}

func TestLimiter_Cancelled(t *testing.T) {
	l := New(1, 1, "stdout", nil)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("Wait on a cancelled context succeeded")
	}
}

func TestLimiter_DeadlineTooShort(t *testing.T) {
	l := New(1, 1, "stdout", nil)
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("Wait succeeded although the next token is a second away")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Wait blocked instead of failing fast")
	}
}
