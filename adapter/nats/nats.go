package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsclient "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/propagation"

	"github.com/florinutz/ksqlq/event"
	"github.com/florinutz/ksqlq/internal/backoff"
	"github.com/florinutz/ksqlq/internal/reconnect"
	"github.com/florinutz/ksqlq/metrics"
	"github.com/florinutz/ksqlq/tracing"
)

const adapterName = "nats"

// Config holds the NATS JetStream sink settings.
type Config struct {
	URL string
	// SubjectPrefix defaults to "ksqlq"; rows go to <prefix>.<source>.
	SubjectPrefix string
	// Stream defaults to "KSQLQ" and is created if missing.
	Stream      string
	CredFile    string
	MaxAge      time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Adapter publishes rows to a NATS JetStream stream.
type Adapter struct {
	url           string
	subjectPrefix string
	streamName    string
	credFile      string
	maxAge        time.Duration
	backoff       backoff.Policy
	logger        *slog.Logger
}

// New creates a NATS JetStream adapter. Zero durations default to a day of
// retention and backoff.DefaultPolicy.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = natsclient.DefaultURL
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "ksqlq"
	}
	if cfg.Stream == "" {
		cfg.Stream = "KSQLQ"
	}
	return &Adapter{
		url:           cfg.URL,
		subjectPrefix: cfg.SubjectPrefix,
		streamName:    cfg.Stream,
		credFile:      cfg.CredFile,
		maxAge:        cfg.MaxAge,
		backoff:       backoff.Policy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		logger:        logger.With("adapter", adapterName),
	}
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return adapterName
}

// Start connects to NATS and publishes records from the channel until it is
// closed or ctx is cancelled. A failed publish reconnects with backoff and
// retries the record.
func (a *Adapter) Start(ctx context.Context, records <-chan event.Record) error {
	var pending *event.Record
	return reconnect.Loop(ctx, adapterName, a.backoff, a.logger,
		metrics.SinkErrors.WithLabelValues(adapterName),
		func(ctx context.Context) error {
			return a.run(ctx, records, &pending)
		})
}

func (a *Adapter) run(ctx context.Context, records <-chan event.Record, pending **event.Record) error {
	opts := []natsclient.Option{
		natsclient.Name("ksqlq"),
		natsclient.MaxReconnects(-1),
	}
	if a.credFile != "" {
		opts = append(opts, natsclient.UserCredentials(a.credFile))
	}

	nc, err := natsclient.Connect(a.url, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure stream exists with the configured subject filter.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     a.streamName,
		Subjects: []string{a.subjectPrefix + ".>"},
		MaxAge:   a.maxAge,
	})
	if err != nil {
		return fmt.Errorf("create/update stream: %w", err)
	}

	a.logger.Info("nats connected",
		"url", a.url,
		"stream", a.streamName,
		"subject_prefix", a.subjectPrefix,
	)

	for {
		var rec event.Record
		if *pending != nil {
			rec, *pending = **pending, nil
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r, ok := <-records:
				if !ok {
					return nil
				}
				rec = r
			}
		}

		start := time.Now()
		_, err := js.PublishMsg(ctx, a.message(rec))
		metrics.SinkWriteDuration.WithLabelValues(adapterName).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			*pending = &rec
			return fmt.Errorf("publish record %s: %w", rec.ID, err)
		}
		metrics.RowsDelivered.WithLabelValues(adapterName).Inc()
	}
}

// message builds the JetStream message for rec. Nats-Msg-Id makes a retried
// publish idempotent within the stream's duplicate window.
func (a *Adapter) message(rec event.Record) *natsclient.Msg {
	msg := &natsclient.Msg{
		Subject: a.subject(rec.Source),
		Data:    rec.Row,
		Header:  natsclient.Header{},
	}
	msg.Header.Set(natsclient.MsgIdHdr, rec.ID)
	msg.Header.Set("Ksqlq-Source", rec.Source)
	if rec.QueryID != "" {
		msg.Header.Set("Ksqlq-Query-Id", rec.QueryID)
	}
	// nats.Header has http.Header's shape, so the HTTP carrier applies.
	tracing.Inject(rec.SpanContext, propagation.HeaderCarrier(msg.Header))
	return msg
}

// subject maps a source name to a subject: "Tweets" -> "ksqlq.tweets".
// Characters NATS treats specially are replaced.
func (a *Adapter) subject(source string) string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, strings.ToLower(source))
	return a.subjectPrefix + "." + s
}
