// Package testutil provides a fake streaming engine and output capture for
// tests in any package.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// EngineRequest is a query received by the fake engine.
type EngineRequest struct {
	SQL        string            `json:"sql"`
	Properties map[string]string `json:"properties"`
	Header     http.Header       `json:"-"`
}

// EngineResponse scripts the fake engine's answer to one query.
type EngineResponse struct {
	// Status defaults to 200.
	Status int
	// Lines are written and flushed one at a time, each followed by '\n'.
	Lines []string
	// Body is written verbatim after Lines.
	Body string
	// Hold keeps the stream open after writing until the client goes away,
	// like a push query with no new data.
	Hold bool
}

// Engine is a fake /query-stream endpoint backed by httptest.
type Engine struct {
	server  *httptest.Server
	respond func(EngineRequest) EngineResponse

	mu       sync.Mutex
	requests []EngineRequest
}

// NewEngine starts a fake engine answering every query with respond. The
// server is closed when the test ends.
func NewEngine(t *testing.T, respond func(EngineRequest) EngineResponse) *Engine {
	t.Helper()
	e := &Engine{respond: respond}

	r := chi.NewRouter()
	r.Post("/query-stream", e.handle)
	e.server = httptest.NewServer(r)
	t.Cleanup(e.server.Close)
	return e
}

// StaticEngine answers every query with the same response.
func StaticEngine(t *testing.T, resp EngineResponse) *Engine {
	t.Helper()
	return NewEngine(t, func(EngineRequest) EngineResponse { return resp })
}

func (e *Engine) URL() string { return e.server.URL }

// Requests returns the queries received so far.
func (e *Engine) Requests() []EngineRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EngineRequest(nil), e.requests...)
}

func (e *Engine) handle(w http.ResponseWriter, r *http.Request) {
	var req EngineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"@type":"generic_error","error_code":40000,"message":"bad request body"}`, http.StatusBadRequest)
		return
	}
	req.Header = r.Header.Clone()
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	resp := e.respond(req)
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/vnd.ksqlapi.delimited.v1")
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	for _, line := range resp.Lines {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
	if resp.Hold {
		if flusher != nil {
			flusher.Flush()
		}
		<-r.Context().Done()
	}
}

// HeaderLine renders a response header line.
func HeaderLine(queryID string, names, types []string) string {
	b, err := json.Marshal(map[string]any{
		"queryId":     queryID,
		"columnNames": names,
		"columnTypes": types,
	})
	if err != nil {
		panic("testutil.HeaderLine: " + err.Error())
	}
	return string(b)
}

// RowLine renders one data row.
func RowLine(values ...any) string {
	b, err := json.Marshal(values)
	if err != nil {
		panic("testutil.RowLine: " + err.Error())
	}
	return string(b)
}
