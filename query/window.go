package query

import (
	"fmt"
	"strings"
	"time"
)

// WindowKind is the windowing strategy of a grouped query.
type WindowKind int

const (
	TumblingWindow WindowKind = iota
	HoppingWindow
	SessionWindow
)

// Window is an immutable window specification.
type Window struct {
	Kind      WindowKind
	Size      time.Duration
	Advance   time.Duration
	Grace     time.Duration
	Retention time.Duration
}

func Tumbling(size time.Duration) Window {
	return Window{Kind: TumblingWindow, Size: size}
}

func Hopping(size, advance time.Duration) Window {
	return Window{Kind: HoppingWindow, Size: size, Advance: advance}
}

// Session windows close after gap of inactivity.
func Session(gap time.Duration) Window {
	return Window{Kind: SessionWindow, Size: gap}
}

func (w Window) WithRetention(d time.Duration) Window {
	w.Retention = d
	return w
}

func (w Window) WithGracePeriod(d time.Duration) Window {
	w.Grace = d
	return w
}

func (w Window) validate() error {
	if w.Size <= 0 {
		return fmt.Errorf("window size must be positive, got %s", w.Size)
	}
	if w.Kind == HoppingWindow && w.Advance <= 0 {
		return fmt.Errorf("hopping window advance must be positive, got %s", w.Advance)
	}
	if w.Grace < 0 || w.Retention < 0 {
		return fmt.Errorf("window grace period and retention must not be negative")
	}
	if w.Kind < TumblingWindow || w.Kind > SessionWindow {
		return fmt.Errorf("unknown window kind %d", w.Kind)
	}
	return nil
}

// String renders the WINDOW clause body, e.g. TUMBLING (SIZE 5 MINUTES).
func (w Window) String() string {
	var b strings.Builder
	switch w.Kind {
	case HoppingWindow:
		b.WriteString("HOPPING (SIZE " + FormatDuration(w.Size) + ", ADVANCE BY " + FormatDuration(w.Advance))
	case SessionWindow:
		b.WriteString("SESSION (" + FormatDuration(w.Size))
	default:
		b.WriteString("TUMBLING (SIZE " + FormatDuration(w.Size))
	}
	if w.Retention > 0 {
		b.WriteString(", RETENTION " + FormatDuration(w.Retention))
	}
	if w.Grace > 0 {
		b.WriteString(", GRACE PERIOD " + FormatDuration(w.Grace))
	}
	b.WriteByte(')')
	return b.String()
}

var durationUnits = []struct {
	unit time.Duration
	name string
}{
	{24 * time.Hour, "DAYS"},
	{time.Hour, "HOURS"},
	{time.Minute, "MINUTES"},
	{time.Second, "SECONDS"},
}

// FormatDuration renders d in the largest unit that divides it exactly.
// Sub-millisecond precision is truncated.
func FormatDuration(d time.Duration) string {
	for _, u := range durationUnits {
		if d%u.unit == 0 {
			return fmt.Sprintf("%d %s", d/u.unit, u.name)
		}
	}
	return fmt.Sprintf("%d MILLISECONDS", d.Milliseconds())
}
