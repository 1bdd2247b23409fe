package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_Ceiling(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 30 * time.Second}
	for attempt, want := range []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second,
	} {
		if got := p.Ceiling(attempt); got != want {
			t.Errorf("Ceiling(%d) = %v, want %v", attempt, got, want)
		}
	}
	if got := p.Ceiling(1000); got != 30*time.Second {
		t.Errorf("Ceiling(1000) = %v, want cap", got)
	}
}

func TestPolicy_Delay(t *testing.T) {
	for _, tc := range []struct {
		name    string
		policy  Policy
		attempt int
		max     time.Duration
	}{
		{"zero value uses defaults", Policy{}, 0, time.Second},
		{"zero value capped", Policy{}, 20, 30 * time.Second},
		{"configured", Policy{Base: 200 * time.Millisecond, Cap: time.Second}, 1, 400 * time.Millisecond},
		{"cap below base", Policy{Base: 2 * time.Second, Cap: time.Second}, 5, 2 * time.Second},
		{"below floor", Policy{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond}, 3, MinDelay},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for range 500 {
				d := tc.policy.Delay(tc.attempt)
				if d < MinDelay || d > tc.max {
					t.Fatalf("Delay(%d) = %v, want [%v, %v]", tc.attempt, d, MinDelay, tc.max)
				}
			}
		})
	}
}

func TestPolicy_MaxDelay(t *testing.T) {
	if got := (Policy{}).MaxDelay(); got != DefaultPolicy.Cap {
		t.Errorf("zero policy MaxDelay = %v", got)
	}
	if got := (Policy{Base: time.Minute, Cap: time.Second}).MaxDelay(); got != time.Minute {
		t.Errorf("cap below base MaxDelay = %v, want base", got)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep(cancelled) = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return on cancel")
	}
}
