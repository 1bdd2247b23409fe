// Package ksqlq builds streaming SQL queries with a typed, fluent API and
// streams their results from a ksqlDB-compatible engine.
//
//	c, err := ksqlq.NewContext(ksqlq.Options{URL: "http://localhost:8088"})
//	...
//	q := ksqlq.CreateQuerySet[Tweet](c).
//		Where(expr.Gt(expr.Col("Id"), 1)).
//		Take(2)
//	rows, err := q.Stream(ctx)
package ksqlq

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"reflect"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/florinutz/ksqlq/ksqlerr"
	"github.com/florinutz/ksqlq/query"
	"github.com/florinutz/ksqlq/schema"
	"github.com/florinutz/ksqlq/transport"
)

// Options configures a Context. Only URL is required.
type Options struct {
	// URL is the engine's base URL, e.g. http://localhost:8088.
	URL string
	// Parameters are stream properties sent with every query
	// (e.g. "auto.offset.reset": "earliest").
	Parameters map[string]string
	// DisablePluralization keeps derived source names singular.
	DisablePluralization bool

	HTTPClient *http.Client
	// HTTP2 uses HTTP/2, over cleartext for http:// URLs.
	HTTP2          bool
	Username       string
	Password       string
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// Context is the immutable configuration shared by every query set created
// from it. It is safe for concurrent use.
type Context struct {
	url       string
	params    map[string]string
	pluralize bool
	client    *transport.Client
	logger    *slog.Logger
}

// NewContext validates opts and returns a Context.
func NewContext(opts Options) (*Context, error) {
	if _, err := transport.ParseBaseURL(opts.URL); err != nil {
		return nil, err
	}
	for k := range opts.Parameters {
		if strings.TrimSpace(k) == "" {
			return nil, &ksqlerr.ConfigurationError{Field: "parameters", Err: fmt.Errorf("empty parameter key")}
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	copts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithTracerProvider(opts.TracerProvider),
		transport.WithHTTPClient(opts.HTTPClient),
	}
	if opts.HTTP2 {
		copts = append(copts, transport.WithHTTP2())
	}
	if opts.Username != "" {
		copts = append(copts, transport.WithBasicAuth(opts.Username, opts.Password))
	}
	client, err := transport.NewClient(opts.URL, copts...)
	if err != nil {
		return nil, err
	}

	params := maps.Clone(opts.Parameters)
	if params == nil {
		params = map[string]string{}
	}
	return &Context{
		url:       opts.URL,
		params:    params,
		pluralize: !opts.DisablePluralization,
		client:    client,
		logger:    logger.With("component", "ksqlq"),
	}, nil
}

func (c *Context) URL() string { return c.url }

// Parameters returns a copy of the default stream properties.
func (c *Context) Parameters() map[string]string { return maps.Clone(c.params) }

func (c *Context) Client() *transport.Client { return c.client }

// SetOption configures the source of a new query set.
type SetOption func(*setConfig)

type setConfig struct {
	name     string
	kind     query.SourceKind
	emission query.Emission
	alias    string
}

// WithName reads from an explicitly named stream or table. An empty name is
// the same as no name: the source name is derived from the entity type.
func WithName(name string) SetOption {
	return func(c *setConfig) { c.name = strings.TrimSpace(name) }
}

// AsTable marks the source as a table instead of a stream.
func AsTable() SetOption {
	return func(c *setConfig) { c.kind = query.Table }
}

// AsPull makes the query bounded: it completes instead of emitting changes.
func AsPull() SetOption {
	return func(c *setConfig) { c.emission = query.Pull }
}

// WithAlias sets the table alias used when the source takes part in a join.
func WithAlias(alias string) SetOption {
	return func(c *setConfig) { c.alias = alias }
}

// source resolves the root source for entity type T.
func source[T any](c *Context, opts []SetOption) query.Source {
	var cfg setConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	mapping, ok := schema.For[T]()
	if !ok {
		// Members map to identically named columns; only the name is needed.
		mapping = schema.Mapping{Entity: reflect.TypeFor[T]().Name()}
	}
	name := cfg.name
	if name == "" {
		name = mapping.SourceName(c.pluralize)
	}
	return query.Source{
		Name:     name,
		Explicit: cfg.name != "",
		Kind:     cfg.kind,
		Emission: cfg.emission,
		Mapping:  mapping,
		Alias:    cfg.alias,
	}
}

// SourceOf describes the stream or table of entity type U, for use as the
// right-hand side of Join or LeftJoin.
func SourceOf[U any](c *Context, opts ...SetOption) query.Source {
	return source[U](c, opts)
}
