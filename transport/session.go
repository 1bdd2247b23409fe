package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/florinutz/ksqlq/ksqlerr"
	"github.com/florinutz/ksqlq/metrics"
	"github.com/florinutz/ksqlq/query"
	"github.com/florinutz/ksqlq/tracing"
)

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// State is a session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateSent
	StateHeaderReceived
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateSent:           "sent",
	StateHeaderReceived: "header_received",
	StateStreaming:      "streaming",
	StateCompleted:      "completed",
	StateCancelled:      "cancelled",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further rows can be produced.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Header is the column schema sent as the first line of a response.
type Header struct {
	QueryID     string   `json:"queryId"`
	ColumnNames []string `json:"columnNames"`
	ColumnTypes []string `json:"columnTypes"`
}

// request is the body posted to the query endpoint.
type request struct {
	SQL        string            `json:"sql"`
	Properties map[string]string `json:"properties"`
}

// errorBody is the engine's error envelope.
type errorBody struct {
	Type      string `json:"@type"`
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

func (e errorBody) isError() bool {
	return strings.HasSuffix(e.Type, "error") || e.ErrorCode != 0
}

// Session is one streaming request. It is driven by Next and is not safe for
// concurrent use.
type Session struct {
	ctx    context.Context
	client *Client
	stmt   query.Statement
	params map[string]string
	logger *slog.Logger

	state  State
	err    error
	closed bool

	span   trace.Span
	start  time.Time
	body   io.ReadCloser
	reader *bufio.Reader
	eof    bool
	line   int

	header Header
	values []any
}

func (s *Session) State() State { return s.state }

// Statement returns the statement this session streams.
func (s *Session) Statement() query.Statement { return s.stmt }

// Header returns the column schema once it has been received.
func (s *Session) Header() (Header, bool) {
	return s.header, s.state >= StateHeaderReceived && s.header.ColumnNames != nil
}

// SpanContext is the context of the session's span, zero before the request
// is sent or when tracing is disabled.
func (s *Session) SpanContext() trace.SpanContext {
	if s.span == nil {
		return trace.SpanContext{}
	}
	return s.span.SpanContext()
}

// Values returns the raw column values of the current row.
func (s *Session) Values() []any { return s.values }

// Err returns the terminal error. It is nil while streaming and after
// completion or cancellation.
func (s *Session) Err() error { return s.err }

// Next advances to the next row, sending the request and reading the header
// on the first call. It returns false once the session is terminal.
func (s *Session) Next() bool {
	s.values = nil
	if s.state.Terminal() {
		return false
	}
	if s.ctx.Err() != nil {
		s.finish(StateCancelled, nil)
		return false
	}

	if s.state == StateIdle {
		if err := s.send(); err != nil {
			s.fail(err)
			return false
		}
	}
	if s.state == StateSent {
		if !s.readHeader() {
			return false
		}
	}

	for {
		if s.ctx.Err() != nil {
			s.finish(StateCancelled, nil)
			return false
		}
		raw, st := s.readLine()
		switch st {
		case lineBlank:
			continue
		case lineEOF:
			s.finish(StateCompleted, nil)
			return false
		case lineTerminal:
			return false
		}
		if raw[0] == '{' {
			s.handleObject(raw)
			return false
		}
		var vals []any
		if err := decodeJSON(raw, &vals); err != nil {
			s.fail(&ksqlerr.DecodeError{Line: s.line, Reason: "row is not a JSON array", Err: err})
			return false
		}
		if len(vals) != len(s.header.ColumnNames) {
			s.fail(&ksqlerr.DecodeError{
				Line:   s.line,
				Reason: fmt.Sprintf("row has %d values, header declares %d columns", len(vals), len(s.header.ColumnNames)),
			})
			return false
		}
		// Rows already buffered are not delivered once cancellation is seen.
		if s.ctx.Err() != nil {
			s.finish(StateCancelled, nil)
			return false
		}
		s.state = StateStreaming
		s.values = vals
		metrics.RowsDecoded.Inc()
		return true
	}
}

// Close releases the response body. It is idempotent; a session closed
// before reaching a terminal state counts as cancelled.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.state.Terminal() {
		s.finish(StateCancelled, nil)
	}
	return nil
}

func (s *Session) send() error {
	body, err := json.Marshal(request{SQL: s.stmt.Text, Properties: nonNil(s.params)})
	if err != nil {
		return &ksqlerr.ProtocolError{Message: "encode request", Err: err}
	}

	ctx, span := s.client.tracer.Start(s.ctx, "ksqlq.query_stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.QueryAttributes(s.stmt.Text, s.stmt.Source, s.stmt.Push)...),
	)
	s.span = span
	s.start = time.Now()
	s.state = StateSent
	metrics.SessionsStarted.Inc()
	metrics.SessionsActive.Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.endpoint, bytes.NewReader(body))
	if err != nil {
		return &ksqlerr.ProtocolError{Message: "build request", Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", DelimitedContentType)
	req.Header.Set("User-Agent", s.client.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if s.client.username != "" {
		req.SetBasicAuth(s.client.username, s.client.password)
	}
	tracing.InjectHTTP(ctx, req.Header)

	s.logger = s.logger.With("request_id", requestID)
	s.logger.Debug("sending query", "sql", s.stmt.Text)

	resp, err := s.client.http.Do(req)
	if err != nil {
		return &ksqlerr.ProtocolError{Err: err}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return responseError(resp)
	}
	s.body = resp.Body
	s.reader = bufio.NewReader(resp.Body)
	return nil
}

// responseError builds a ProtocolError from a non-success response. Row-shaped
// content in the body is never decoded.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	perr := &ksqlerr.ProtocolError{StatusCode: resp.StatusCode}
	// Only the first JSON value is the error envelope.
	var eb errorBody
	if json.NewDecoder(bytes.NewReader(raw)).Decode(&eb) == nil && (eb.Message != "" || eb.ErrorCode != 0) {
		perr.Code = eb.ErrorCode
		perr.Message = eb.Message
		return perr
	}
	perr.Message = strings.TrimSpace(string(raw))
	if perr.Message == "" {
		perr.Message = http.StatusText(resp.StatusCode)
	}
	return perr
}

func (s *Session) readHeader() bool {
	for {
		raw, st := s.readLine()
		switch st {
		case lineBlank:
			continue
		case lineEOF:
			s.fail(&ksqlerr.DecodeError{Line: s.line + 1, Reason: "stream ended before the header"})
			return false
		case lineTerminal:
			return false
		}
		if raw[0] != '{' {
			s.fail(&ksqlerr.DecodeError{Line: s.line, Reason: "header is not a JSON object"})
			return false
		}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.isError() {
			s.fail(&ksqlerr.ProtocolError{StatusCode: http.StatusOK, Code: eb.ErrorCode, Message: eb.Message})
			return false
		}
		var h Header
		if err := json.Unmarshal(raw, &h); err != nil {
			s.fail(&ksqlerr.DecodeError{Line: s.line, Reason: "malformed header", Err: err})
			return false
		}
		if h.ColumnNames == nil {
			s.fail(&ksqlerr.DecodeError{Line: s.line, Reason: "header has no columnNames"})
			return false
		}
		if h.ColumnTypes != nil && len(h.ColumnTypes) != len(h.ColumnNames) {
			s.fail(&ksqlerr.DecodeError{
				Line:   s.line,
				Reason: fmt.Sprintf("header declares %d column names and %d types", len(h.ColumnNames), len(h.ColumnTypes)),
			})
			return false
		}
		s.header = h
		s.state = StateHeaderReceived
		s.span.SetAttributes(tracing.AttrQueryID.String(h.QueryID))
		s.logger.Debug("received header", "query_id", h.QueryID, "columns", h.ColumnNames)
		return true
	}
}

type lineStatus int

const (
	lineOK lineStatus = iota
	lineBlank
	lineEOF
	// lineTerminal means reading failed and the session already finished.
	lineTerminal
)

// readLine returns the next line with surrounding whitespace trimmed.
func (s *Session) readLine() ([]byte, lineStatus) {
	if s.eof {
		return nil, lineEOF
	}
	raw, err := s.reader.ReadBytes('\n')
	if err != nil {
		if s.ctx.Err() != nil {
			s.finish(StateCancelled, nil)
			return nil, lineTerminal
		}
		if !errors.Is(err, io.EOF) {
			s.fail(&ksqlerr.ProtocolError{Message: "read response", Err: err})
			return nil, lineTerminal
		}
		s.eof = true
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, lineEOF
		}
	}
	s.line++
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, lineBlank
	}
	return raw, lineOK
}

// handleObject deals with an object line after the header: either an error
// envelope or the completion marker of a bounded query.
func (s *Session) handleObject(raw []byte) {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		s.fail(&ksqlerr.DecodeError{Line: s.line, Reason: "malformed object line", Err: err})
		return
	}
	if eb.isError() {
		s.fail(&ksqlerr.ProtocolError{StatusCode: http.StatusOK, Code: eb.ErrorCode, Message: eb.Message})
		return
	}
	s.finish(StateCompleted, nil)
}

// fail ends the session with err, unless cancellation was requested in the
// meantime: a cancelled session never reports an error.
func (s *Session) fail(err error) {
	if s.ctx.Err() != nil {
		s.finish(StateCancelled, nil)
		return
	}
	s.finish(StateFailed, err)
}

// finish moves the session to a terminal state exactly once.
func (s *Session) finish(state State, err error) {
	if s.state.Terminal() {
		return
	}
	sent := s.state != StateIdle
	s.state = state
	s.err = err
	s.values = nil
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
	if !sent {
		return
	}

	metrics.SessionsActive.Dec()
	metrics.SessionsFinished.WithLabelValues(state.String()).Inc()
	metrics.SessionDuration.Observe(time.Since(s.start).Seconds())
	if err != nil {
		metrics.SessionFailures.WithLabelValues(errorKind(err)).Inc()
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("query stream failed",
			"error", err,
			"lines", s.line,
			"traceparent", tracing.Traceparent(s.span.SpanContext()),
		)
	} else {
		s.logger.Debug("query stream ended", "state", state.String(), "lines", s.line)
	}
	s.span.End()
}

func errorKind(err error) string {
	var de *ksqlerr.DecodeError
	if errors.As(err, &de) {
		return "decode"
	}
	var pe *ksqlerr.ProtocolError
	if errors.As(err, &pe) {
		return "protocol"
	}
	return "other"
}

// decodeJSON keeps numbers as json.Number so integers survive unchanged.
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
