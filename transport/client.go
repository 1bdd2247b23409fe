// Package transport streams compiled statements to the engine's
// /query-stream endpoint and decodes the newline-delimited response into
// typed rows.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	"github.com/florinutz/ksqlq/ksqlerr"
	"github.com/florinutz/ksqlq/query"
)

const (
	// QueryStreamPath is the engine endpoint queries are posted to.
	QueryStreamPath = "/query-stream"
	// DelimitedContentType asks the engine for one JSON value per line.
	DelimitedContentType = "application/vnd.ksqlapi.delimited.v1"

	defaultUserAgent = "ksqlq"
	tracerName       = "github.com/florinutz/ksqlq/transport"
)

// Client opens query sessions against one engine. It holds no per-session
// state and is safe for concurrent use.
type Client struct {
	endpoint  string
	http      *http.Client
	logger    *slog.Logger
	tracer    trace.Tracer
	userAgent string
	username  string
	password  string

	h2         bool
	customHTTP bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. It overrides WithHTTP2.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
			c.customHTTP = true
		}
	}
}

// WithHTTP2 switches plain http:// endpoints to HTTP/2 cleartext (h2c), which
// the engine's streaming endpoint speaks natively.
func WithHTTP2() Option {
	return func(c *Client) { c.h2 = true }
}

func http2Client(scheme string) *http.Client {
	if scheme == "https" {
		return &http.Client{Transport: &http2.Transport{}}
	}
	return &http.Client{Transport: &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithBasicAuth sends credentials with every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// NewClient returns a client for the engine at baseURL, which must be an
// absolute http or https URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:  strings.TrimSuffix(u.String(), "/") + QueryStreamPath,
		http:      http.DefaultClient,
		logger:    slog.Default(),
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.h2 && !c.customHTTP {
		c.http = http2Client(u.Scheme)
	}
	c.logger = c.logger.With("component", "transport")
	return c, nil
}

// ParseBaseURL validates an engine base URL.
func ParseBaseURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ksqlerr.ConfigurationError{Field: "url", Err: fmt.Errorf("base URL is required")}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ksqlerr.ConfigurationError{Field: "url", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ksqlerr.ConfigurationError{Field: "url", Err: fmt.Errorf("scheme must be http or https, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return nil, &ksqlerr.ConfigurationError{Field: "url", Err: fmt.Errorf("missing host in %q", raw)}
	}
	return u, nil
}

// Endpoint returns the full query URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Open returns an idle session for stmt. Nothing is sent until the first
// call to Next; cancelling ctx before then means no request is made.
func (c *Client) Open(ctx context.Context, stmt query.Statement, params map[string]string) *Session {
	return &Session{
		ctx:    ctx,
		client: c,
		stmt:   stmt,
		params: maps.Clone(params),
		logger: c.logger.With("source", stmt.Source),
	}
}
