package transport_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/florinutz/ksqlq/ksqlerr"
	"github.com/florinutz/ksqlq/query"
	"github.com/florinutz/ksqlq/testutil"
	"github.com/florinutz/ksqlq/transport"
)

type tweet struct {
	ID      int
	Message string
	Amount  float64
}

var (
	stmt = query.Statement{
		Text:   "SELECT * FROM Tweets EMIT CHANGES;",
		Source: "Tweets",
		Push:   true,
		Columns: []query.Column{
			{Name: "ID", Member: "ID"},
			{Name: "MESSAGE", Member: "Message"},
			{Name: "AMOUNT", Member: "Amount"},
		},
	}
	header = testutil.HeaderLine("q1", []string{"ID", "MESSAGE", "AMOUNT"}, []string{"INTEGER", "STRING", "DOUBLE"})
)

func newClient(t *testing.T, e *testutil.Engine, opts ...transport.Option) *transport.Client {
	t.Helper()
	c, err := transport.NewClient(e.URL(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func collect[T any](t *testing.T, rows *transport.Rows[T]) []T {
	t.Helper()
	defer rows.Close()
	var out []T
	for rows.Next() {
		out = append(out, rows.Row())
	}
	return out
}

func TestStream_DecodesRows(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: []string{
		header,
		testutil.RowLine(1, "Hello world", 1.5),
		"",
		testutil.RowLine(2, "Wonderful day", 4) + "\r",
	}})
	c := newClient(t, e)

	rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, map[string]string{"auto.offset.reset": "earliest"}))
	got := collect(t, rows)

	if err := rows.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows.State() != transport.StateCompleted {
		t.Errorf("state = %v, want completed", rows.State())
	}
	want := []tweet{{1, "Hello world", 1.5}, {2, "Wonderful day", 4}}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	h, ok := rows.Header()
	if !ok || h.QueryID != "q1" || len(h.ColumnTypes) != 3 {
		t.Errorf("header = %+v (ok=%v)", h, ok)
	}

	reqs := e.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].SQL != stmt.Text {
		t.Errorf("sql = %q", reqs[0].SQL)
	}
	if reqs[0].Properties["auto.offset.reset"] != "earliest" {
		t.Errorf("properties = %v", reqs[0].Properties)
	}
	if got := reqs[0].Header.Get("Accept"); got != transport.DelimitedContentType {
		t.Errorf("accept = %q", got)
	}
	if reqs[0].Header.Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestStream_UntypedRows(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: []string{
		header,
		testutil.RowLine(7, "x", 2.25),
	}})
	c := newClient(t, e)

	got := collect(t, transport.NewRows[transport.Row](c.Open(context.Background(), stmt, nil)))
	if len(got) != 1 {
		t.Fatalf("got %d rows", len(got))
	}
	if got[0]["ID"] != int64(7) || got[0]["MESSAGE"] != "x" || got[0]["AMOUNT"] != 2.25 {
		t.Errorf("row = %v", got[0])
	}
}

func TestStream_CompletionMarker(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Lines: []string{
			header,
			testutil.RowLine(1, "a", 0),
			`{"@type":"query_complete"}`,
			testutil.RowLine(2, "b", 0),
		},
	})
	c := newClient(t, e)

	rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, nil))
	got := collect(t, rows)
	if len(got) != 1 {
		t.Errorf("got %d rows, want 1", len(got))
	}
	if rows.State() != transport.StateCompleted || rows.Err() != nil {
		t.Errorf("state %v err %v", rows.State(), rows.Err())
	}
}

func TestStream_NonSuccessStatus(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Status: http.StatusBadRequest,
		Lines: []string{
			`{"@type":"statement_error","error_code":40001,"message":"Tweets does not exist"}`,
			testutil.RowLine(1, "looks like a row", 0),
		},
	})
	c := newClient(t, e)

	rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, nil))
	got := collect(t, rows)
	if len(got) != 0 {
		t.Errorf("got %d rows, want 0", len(got))
	}
	var pe *ksqlerr.ProtocolError
	if !errors.As(rows.Err(), &pe) {
		t.Fatalf("expected ProtocolError, got %v", rows.Err())
	}
	if pe.StatusCode != http.StatusBadRequest || pe.Code != 40001 {
		t.Errorf("got %+v", pe)
	}
	if rows.State() != transport.StateFailed {
		t.Errorf("state = %v", rows.State())
	}
}

func TestStream_PlainTextError(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Status: http.StatusServiceUnavailable, Body: "server starting"})
	c := newClient(t, e)

	rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, nil))
	collect(t, rows)
	var pe *ksqlerr.ProtocolError
	if !errors.As(rows.Err(), &pe) || pe.Message != "server starting" {
		t.Fatalf("got %v", rows.Err())
	}
}

func TestStream_DecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		wantRows int
	}{
		{"arity mismatch", []string{header, testutil.RowLine(1, "a", 0), testutil.RowLine(2, "b"), testutil.RowLine(3, "c", 0)}, 1},
		{"malformed header", []string{`{"queryId":`, testutil.RowLine(1, "a", 0)}, 0},
		{"header not an object", []string{`["ID"]`}, 0},
		{"header types mismatch", []string{testutil.HeaderLine("q", []string{"ID", "MESSAGE"}, []string{"INTEGER"})}, 0},
		{"row not an array", []string{header, `"nope"`}, 0},
		{"type coercion", []string{header, testutil.RowLine("not a number", "a", 0)}, 0},
		{"empty stream", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: tt.lines})
			c := newClient(t, e)

			rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, nil))
			got := collect(t, rows)
			if len(got) != tt.wantRows {
				t.Errorf("got %d rows, want %d", len(got), tt.wantRows)
			}
			var de *ksqlerr.DecodeError
			if !errors.As(rows.Err(), &de) {
				t.Fatalf("expected DecodeError, got %v", rows.Err())
			}
			if rows.Next() {
				t.Error("Next returned true after a terminal error")
			}
		})
	}
}

func TestStream_InBandError(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: []string{
		header,
		testutil.RowLine(1, "a", 0),
		`{"@type":"generic_error","error_code":50000,"message":"query terminated"}`,
	}})
	c := newClient(t, e)

	rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, nil))
	got := collect(t, rows)
	if len(got) != 1 {
		t.Errorf("got %d rows, want 1", len(got))
	}
	var pe *ksqlerr.ProtocolError
	if !errors.As(rows.Err(), &pe) || pe.Message != "query terminated" {
		t.Fatalf("got %v", rows.Err())
	}
}

func TestStream_CancelledBeforeFirstPull(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: []string{header, testutil.RowLine(1, "a", 0)}})
	c := newClient(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows := transport.NewRows[tweet](c.Open(ctx, stmt, nil))
	got := collect(t, rows)

	if len(got) != 0 {
		t.Errorf("got %d rows, want 0", len(got))
	}
	if rows.Err() != nil {
		t.Errorf("cancellation reported an error: %v", rows.Err())
	}
	if rows.State() != transport.StateCancelled {
		t.Errorf("state = %v", rows.State())
	}
	if n := len(e.Requests()); n != 0 {
		t.Errorf("engine received %d requests, want 0", n)
	}
}

func TestStream_CancelStopsBufferedRows(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Lines: []string{header, testutil.RowLine(1, "a", 0), testutil.RowLine(2, "b", 0), testutil.RowLine(3, "c", 0)},
		Hold:  true,
	})
	c := newClient(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rows := transport.NewRows[tweet](c.Open(ctx, stmt, nil))
	defer rows.Close()

	if !rows.Next() {
		t.Fatalf("expected a first row, err=%v", rows.Err())
	}
	cancel()
	if rows.Next() {
		t.Error("row delivered after cancellation")
	}
	if rows.Err() != nil {
		t.Errorf("cancellation reported an error: %v", rows.Err())
	}
	if rows.State() != transport.StateCancelled {
		t.Errorf("state = %v", rows.State())
	}
}

func TestStream_CancelWhileWaiting(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: []string{header}, Hold: true})
	c := newClient(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	rows := transport.NewRows[tweet](c.Open(ctx, stmt, nil))
	defer rows.Close()

	time.AfterFunc(50*time.Millisecond, cancel)
	if rows.Next() {
		t.Fatal("unexpected row")
	}
	if rows.Err() != nil || rows.State() != transport.StateCancelled {
		t.Errorf("state %v err %v", rows.State(), rows.Err())
	}
}

func TestStream_ConnectionRefused(t *testing.T) {
	c, err := transport.NewClient("http://127.0.0.1:1")
	if err != nil {
		t.Fatal(err)
	}
	rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, nil))
	collect(t, rows)
	var pe *ksqlerr.ProtocolError
	if !errors.As(rows.Err(), &pe) {
		t.Fatalf("expected ProtocolError, got %v", rows.Err())
	}
}

func TestRows_All(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: []string{
		header,
		testutil.RowLine(1, "a", 0),
		testutil.RowLine(2, "b"),
	}})
	c := newClient(t, e)

	rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, nil))
	var n int
	var last error
	for tw, err := range rows.All() {
		if err != nil {
			last = err
			continue
		}
		n++
		if tw.ID != 1 {
			t.Errorf("row = %+v", tw)
		}
	}
	if n != 1 {
		t.Errorf("got %d rows, want 1", n)
	}
	var de *ksqlerr.DecodeError
	if !errors.As(last, &de) {
		t.Errorf("expected DecodeError as last element, got %v", last)
	}

	for _, err := range rows.All() {
		if !errors.Is(err, ksqlerr.ErrSessionClosed) {
			t.Errorf("got %v, want ErrSessionClosed", err)
		}
	}
}

func TestRows_CloseIsIdempotent(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: []string{header}, Hold: true})
	c := newClient(t, e)

	rows := transport.NewRows[tweet](c.Open(context.Background(), stmt, nil))
	if err := rows.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rows.Close(); err != nil {
		t.Fatal(err)
	}
	if rows.Next() {
		t.Error("Next after Close")
	}
	if rows.State() != transport.StateCancelled {
		t.Errorf("state = %v", rows.State())
	}
}

func TestClientOptions(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{Lines: []string{header}})
	c := newClient(t, e, transport.WithBasicAuth("alice", "secret"), transport.WithUserAgent("ksqlq-test"))

	collect(t, transport.NewRows[tweet](c.Open(context.Background(), stmt, nil)))
	reqs := e.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests", len(reqs))
	}
	if got := reqs[0].Header.Get("User-Agent"); got != "ksqlq-test" {
		t.Errorf("user agent = %q", got)
	}
	if got := reqs[0].Header.Get("Authorization"); got != "Basic YWxpY2U6c2VjcmV0" {
		t.Errorf("authorization = %q", got)
	}
	if c.Endpoint() != e.URL()+transport.QueryStreamPath {
		t.Errorf("endpoint = %q", c.Endpoint())
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8088", "ftp://host", "http://", "://bad"} {
		_, err := transport.NewClient(raw)
		var ce *ksqlerr.ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("%q: expected ConfigurationError, got %v", raw, err)
		}
	}
}

func TestState(t *testing.T) {
	if transport.StateStreaming.String() != "streaming" || !transport.StateCancelled.Terminal() || transport.StateHeaderReceived.Terminal() {
		t.Error("unexpected state helpers")
	}
}
