package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// LineCapture is an io.Writer that records every complete non-empty line
// written to it. Sinks write to it from their own goroutine while the test
// reads lines in order with WaitLine.
type LineCapture struct {
	mu      sync.Mutex
	partial []byte
	lines   []string
	next    int
	written chan struct{}
}

// NewLineCapture returns an empty capture.
func NewLineCapture() *LineCapture {
	return &LineCapture{written: make(chan struct{}, 1)}
}

func (c *LineCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.partial = append(c.partial, p...)
	n := bytes.LastIndexByte(c.partial, '\n')
	if n >= 0 {
		for _, line := range strings.Split(string(c.partial[:n]), "\n") {
			if line = strings.TrimSuffix(line, "\r"); line != "" {
				c.lines = append(c.lines, line)
			}
		}
		c.partial = append([]byte(nil), c.partial[n+1:]...)
	}
	c.mu.Unlock()

	select {
	case c.written <- struct{}{}:
	default:
	}
	return len(p), nil
}

// take returns the next unread line, if any.
func (c *LineCapture) take() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.lines) {
		return "", false
	}
	c.next++
	return c.lines[c.next-1], true
}

// WaitLine returns the next unread line, failing the test if none arrives
// within timeout.
func (c *LineCapture) WaitLine(t *testing.T, timeout time.Duration) string {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if line, ok := c.take(); ok {
			return line
		}
		select {
		case <-c.written:
		case <-deadline.C:
			t.Fatalf("no output line within %v", timeout)
			return ""
		}
	}
}

// WaitLines reads the next n lines, allowing timeout for each.
func (c *LineCapture) WaitLines(t *testing.T, n int, timeout time.Duration) []string {
	t.Helper()
	out := make([]string, 0, n)
	for range n {
		out = append(out, c.WaitLine(t, timeout))
	}
	return out
}

// All returns every line captured so far, read or not.
func (c *LineCapture) All() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
