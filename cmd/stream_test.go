package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/florinutz/ksqlq/event"
	"github.com/florinutz/ksqlq/internal/config"
	"github.com/florinutz/ksqlq/internal/reconnect"
	"github.com/florinutz/ksqlq/ksqlerr"
	"github.com/florinutz/ksqlq/testutil"
)

var (
	tweetsHeader = testutil.HeaderLine("transient_TWEETS_1", []string{"ID", "MESSAGE"}, []string{"INTEGER", "STRING"})
	discard      = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func streamConfig(url string) config.Config {
	cfg := config.Default()
	cfg.URL = url
	cfg.Query.From = "Tweets"
	cfg.Sink.RowsOnly = true
	cfg.Reconnect.BackoffBase = time.Millisecond
	cfg.Reconnect.BackoffCap = time.Millisecond
	return cfg
}

func TestStreamRows_Completes(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Lines: []string{tweetsHeader, testutil.RowLine(1, "Hello world"), testutil.RowLine(2, "Wonderful day")},
	})
	out := testutil.NewLineCapture()
	cfg := streamConfig(e.URL())
	cfg.MetricsAddr = "127.0.0.1:0"

	if err := streamRows(context.Background(), cfg, out, nil, discard); err != nil {
		t.Fatalf("streamRows: %v", err)
	}
	lines := out.WaitLines(t, 2, time.Second)
	if lines[0] != `{"ID":1,"MESSAGE":"Hello world"}` || lines[1] != `{"ID":2,"MESSAGE":"Wonderful day"}` {
		t.Errorf("lines = %q", lines)
	}
	if got := e.Requests()[0].SQL; got != "SELECT * FROM Tweets EMIT CHANGES;" {
		t.Errorf("sql = %q", got)
	}
}

func TestStreamRows_Records(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Lines: []string{tweetsHeader, testutil.RowLine(1, "a"), testutil.RowLine(2, "b")},
	})
	out := testutil.NewLineCapture()
	cfg := streamConfig(e.URL())
	cfg.Sink.RowsOnly = false

	if err := streamRows(context.Background(), cfg, out, nil, discard); err != nil {
		t.Fatalf("streamRows: %v", err)
	}
	for i, line := range out.WaitLines(t, 2, time.Second) {
		var rec event.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if rec.Seq != uint64(i+1) || rec.QueryID != "transient_TWEETS_1" || rec.Source != "Tweets" || rec.SchemaVersion != 1 {
			t.Errorf("record %d = %+v", i, rec)
		}
	}
}

func TestStreamRows_CancelIsClean(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Lines: []string{tweetsHeader, testutil.RowLine(1, "Hello world")},
		Hold:  true,
	})
	out := testutil.NewLineCapture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- streamRows(ctx, streamConfig(e.URL()), out, nil, discard) }()

	out.WaitLine(t, 2*time.Second)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("streamRows did not return after cancel")
	}
}

func TestStreamRows_FailureWithoutReconnect(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Status: http.StatusServiceUnavailable,
		Body:   `{"@type":"generic_error","error_code":50300,"message":"unavailable"}`,
	})

	err := streamRows(context.Background(), streamConfig(e.URL()), testutil.NewLineCapture(), nil, discard)
	var pe *ksqlerr.ProtocolError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want 503 ProtocolError", err)
	}
	if !strings.Contains(err.Error(), "source=Tweets") {
		t.Errorf("err = %q, want source in message", err)
	}
	if len(e.Requests()) != 1 {
		t.Errorf("got %d requests, want 1", len(e.Requests()))
	}
}

func TestStreamRows_Reconnects(t *testing.T) {
	var calls atomic.Int32
	e := testutil.NewEngine(t, func(testutil.EngineRequest) testutil.EngineResponse {
		if calls.Add(1) == 1 {
			return testutil.EngineResponse{Status: http.StatusServiceUnavailable, Body: "try later"}
		}
		return testutil.EngineResponse{Lines: []string{tweetsHeader, testutil.RowLine(7, "back")}}
	})
	out := testutil.NewLineCapture()
	cfg := streamConfig(e.URL())
	cfg.Reconnect.Enabled = true

	if err := streamRows(context.Background(), cfg, out, nil, discard); err != nil {
		t.Fatalf("streamRows: %v", err)
	}
	if got := out.WaitLine(t, time.Second); got != `{"ID":7,"MESSAGE":"back"}` {
		t.Errorf("line = %q", got)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("engine called %d times, want 2", n)
	}
}

func TestStreamRows_SchemaChangeAcrossReconnect(t *testing.T) {
	var calls atomic.Int32
	e := testutil.NewEngine(t, func(testutil.EngineRequest) testutil.EngineResponse {
		if calls.Add(1) == 1 {
			return testutil.EngineResponse{Lines: []string{
				tweetsHeader,
				testutil.RowLine(1, "a"),
				`{"@type":"generic_error","error_code":50000,"message":"rebalancing"}`,
			}}
		}
		return testutil.EngineResponse{Lines: []string{
			testutil.HeaderLine("transient_TWEETS_2", []string{"ID", "MESSAGE", "LANG"}, []string{"INTEGER", "STRING", "STRING"}),
			testutil.RowLine(2, "b", "en"),
		}}
	})
	out := testutil.NewLineCapture()
	cfg := streamConfig(e.URL())
	cfg.Sink.RowsOnly = false
	cfg.Reconnect.Enabled = true

	if err := streamRows(context.Background(), cfg, out, nil, discard); err != nil {
		t.Fatalf("streamRows: %v", err)
	}
	for i, line := range out.WaitLines(t, 2, time.Second) {
		var rec event.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if rec.Seq != uint64(i+1) || rec.SchemaVersion != i+1 {
			t.Errorf("record %d: seq=%d schema_version=%d", i, rec.Seq, rec.SchemaVersion)
		}
	}
}

func TestStreamRows_PermanentErrorStopsReconnect(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Status: http.StatusBadRequest,
		Body:   `{"@type":"statement_error","error_code":40001,"message":"line 1:8: mismatched input"}`,
	})
	cfg := streamConfig(e.URL())
	cfg.Reconnect.Enabled = true

	err := streamRows(context.Background(), cfg, testutil.NewLineCapture(), nil, discard)
	if !errors.Is(err, reconnect.ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
	if len(e.Requests()) != 1 {
		t.Errorf("got %d requests, want 1", len(e.Requests()))
	}
}

func TestStreamRows_UnknownSink(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{})
	cfg := streamConfig(e.URL())
	cfg.Sink.Type = "nope"

	if err := streamRows(context.Background(), cfg, testutil.NewLineCapture(), nil, discard); err == nil {
		t.Fatal("expected error for unknown sink")
	}
	if len(e.Requests()) != 0 {
		t.Errorf("got %d requests, want 0", len(e.Requests()))
	}
}

func TestPermanent(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want bool
	}{
		{"bad request", &ksqlerr.ProtocolError{StatusCode: 400}, true},
		{"unauthorized", &ksqlerr.ProtocolError{StatusCode: 401}, true},
		{"too many requests", &ksqlerr.ProtocolError{StatusCode: 429}, false},
		{"unavailable", &ksqlerr.ProtocolError{StatusCode: 503}, false},
		{"in-band", &ksqlerr.ProtocolError{StatusCode: 200, Message: "query terminated"}, false},
		{"decode", &ksqlerr.DecodeError{Reason: "bad row"}, true},
		{"transport", errors.New("connection reset"), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := permanent(tc.err); got != tc.want {
				t.Errorf("permanent(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestStreamRows_WebhookSink(t *testing.T) {
	e := testutil.StaticEngine(t, testutil.EngineResponse{
		Lines: []string{tweetsHeader, testutil.RowLine(1, "a"), testutil.RowLine(2, "b"), testutil.RowLine(3, "c")},
	})
	hook := testutil.NewLineCapture()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = hook.Write(append(body, '\n'))
	}))
	defer srv.Close()

	cfg := streamConfig(e.URL())
	cfg.Sink.Type = "webhook"
	cfg.Webhook.URL = srv.URL
	cfg.Sink.RateLimit = 20
	cfg.Sink.RateBurst = 1

	start := time.Now()
	if err := streamRows(context.Background(), cfg, io.Discard, nil, discard); err != nil {
		t.Fatalf("streamRows: %v", err)
	}
	// Three rows at 20/s with a burst of one take at least two intervals.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("rows delivered in %v, rate limit not applied", elapsed)
	}
	for i, line := range hook.WaitLines(t, 3, time.Second) {
		var rec event.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		if rec.Seq != uint64(i+1) {
			t.Errorf("post %d has seq %d", i, rec.Seq)
		}
	}
}

func TestNewSink(t *testing.T) {
	for _, name := range []string{"stdout", "kafka", "nats", "webhook"} {
		cfg := config.Default()
		cfg.Sink.Type = name
		cfg.Kafka.Brokers = []string{"localhost:9092"}
		cfg.Webhook.URL = "http://localhost:9000"
		s, err := newSink(cfg, io.Discard, discard)
		if err != nil {
			t.Fatalf("newSink(%s): %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("newSink(%s).Name() = %q", name, s.Name())
		}
	}
}
