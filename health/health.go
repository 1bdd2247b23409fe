// Package health reports the state of a running stream for /healthz and
// /readyz probes.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Status represents the health state of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Component names registered by the stream command.
const (
	ComponentQuery = "query"
	ComponentSink  = "sink"
)

type component struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Checker tracks the health of registered components.
type Checker struct {
	mu         sync.RWMutex
	components map[string]component
}

// NewChecker creates a Checker with the given components registered as down.
func NewChecker(names ...string) *Checker {
	c := &Checker{components: make(map[string]component, len(names))}
	for _, n := range names {
		c.components[n] = component{Status: StatusDown}
	}
	return c
}

// Register adds a component with an initial status of down.
func (c *Checker) Register(name string) {
	c.SetStatus(name, StatusDown, "")
}

// SetStatus updates the status of a named component. detail is shown
// alongside it, typically the last error.
func (c *Checker) SetStatus(name string, status Status, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = component{Status: status, Detail: detail}
}

// Status returns the current status of name and whether it is registered.
func (c *Checker) Status(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	comp, ok := c.components[name]
	return comp.Status, ok
}

type response struct {
	Status     Status               `json:"status"`
	Components map[string]component `json:"components"`
}

// ServeHTTP responds with the aggregated health status.
// Returns 200 when no component is down, 503 otherwise.
func (c *Checker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	overall := StatusUp
	comps := make(map[string]component, len(c.components))
	for name, comp := range c.components {
		comps[name] = comp
		switch comp.Status {
		case StatusDown:
			overall = StatusDown
		case StatusDegraded:
			if overall == StatusUp {
				overall = StatusDegraded
			}
		}
	}
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if overall == StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response{
		Status:     overall,
		Components: comps,
	})
}

// ReadinessChecker reports ready once the query header has arrived and
// rows can flow.
type ReadinessChecker struct {
	mu      sync.RWMutex
	ready   bool
	queryID string
}

// NewReadinessChecker creates a ReadinessChecker in not-ready state.
func NewReadinessChecker() *ReadinessChecker {
	return &ReadinessChecker{}
}

// SetReady marks the stream ready for queryID, or not ready when ready is
// false.
func (r *ReadinessChecker) SetReady(ready bool, queryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = ready
	r.queryID = queryID
}

// ServeHTTP returns 200 when ready, 503 when not.
func (r *ReadinessChecker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	r.mu.RLock()
	body := struct {
		Ready   bool   `json:"ready"`
		QueryID string `json:"query_id,omitempty"`
	}{r.ready, r.queryID}
	r.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !body.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
