package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/florinutz/ksqlq/event"
	"github.com/florinutz/ksqlq/internal/backoff"
	"github.com/florinutz/ksqlq/internal/reconnect"
	"github.com/florinutz/ksqlq/metrics"
	"github.com/florinutz/ksqlq/tracing"
)

const adapterName = "kafka"

// Config holds the kafka sink settings.
type Config struct {
	Brokers []string
	// Topic is the fixed destination; empty derives "ksqlq.<source>".
	Topic         string
	SASLMechanism string // "", "plain", "scram-sha-256", "scram-sha-512"
	SASLUser      string
	SASLPassword  string
	TLS           bool
	TLSCAFile     string
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

// Adapter publishes records to a Kafka topic.
type Adapter struct {
	brokers     []string
	topic       string
	saslMech    sasl.Mechanism
	tlsConfig   *tls.Config
	backoff     backoff.Policy
	logger      *slog.Logger
	// writer overrides the connection, for tests.
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Name returns the adapter name.
func (a *Adapter) Name() string { return adapterName }

// New creates a Kafka adapter. Zero backoff durations use
// backoff.DefaultPolicy. SASL and TLS settings are checked here rather than
// on first write.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}

	var saslMech sasl.Mechanism
	switch cfg.SASLMechanism {
	case "":
	case "plain":
		saslMech = plain.Mechanism{Username: cfg.SASLUser, Password: cfg.SASLPassword}
	case "scram-sha-256", "scram-sha-512":
		algo := scram.SHA256
		if cfg.SASLMechanism == "scram-sha-512" {
			algo = scram.SHA512
		}
		m, err := scram.Mechanism(algo, cfg.SASLUser, cfg.SASLPassword)
		if err != nil {
			return nil, fmt.Errorf("kafka sasl: %w", err)
		}
		saslMech = m
	default:
		return nil, fmt.Errorf("unknown kafka sasl mechanism %q", cfg.SASLMechanism)
	}

	var tlsCfg *tls.Config
	if cfg.TLS {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLSCAFile != "" {
			pem, err := os.ReadFile(cfg.TLSCAFile)
			if err != nil {
				return nil, fmt.Errorf("read kafka ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("kafka ca file %s: no certificates found", cfg.TLSCAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &Adapter{
		brokers:     cfg.Brokers,
		topic:       cfg.Topic,
		saslMech:    saslMech,
		tlsConfig:   tlsCfg,
		backoff:     backoff.Policy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		logger:      logger.With("adapter", adapterName),
	}, nil
}

// Start publishes records from the channel until it is closed or ctx is
// cancelled. On a transient write error it reconnects with backoff and the
// failed record is retried.
func (a *Adapter) Start(ctx context.Context, records <-chan event.Record) error {
	var pending *event.Record
	return reconnect.Loop(ctx, adapterName, a.backoff, a.logger,
		metrics.SinkErrors.WithLabelValues(adapterName),
		func(ctx context.Context) error {
			return a.run(ctx, records, &pending)
		})
}

func (a *Adapter) newWriter() messageWriter {
	if a.writer != nil {
		return a.writer
	}
	transport := &kafkago.Transport{}
	if a.saslMech != nil {
		transport.SASL = a.saslMech
	}
	if a.tlsConfig != nil {
		transport.TLS = a.tlsConfig
	}
	return &kafkago.Writer{
		Addr:         kafkago.TCP(a.brokers...),
		RequiredAcks: kafkago.RequireAll,
		Balancer:     &kafkago.Hash{},
		Transport:    transport,
		Logger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			a.logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			a.logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

func (a *Adapter) run(ctx context.Context, records <-chan event.Record, pending **event.Record) error {
	w := a.newWriter()
	defer func() { _ = w.Close() }()

	a.logger.Info("kafka writer ready", "brokers", a.brokers)

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

		msg := a.message(rec)
		start := time.Now()
		err := w.WriteMessages(ctx, msg)
		metrics.SinkWriteDuration.WithLabelValues(adapterName).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTerminalError(err) {
				metrics.SinkErrors.WithLabelValues(adapterName).Inc()
				a.logger.Warn("kafka terminal write error, dropping record",
					"error", err,
					"record_id", rec.ID,
					"topic", msg.Topic,
				)
				continue
			}
			*pending = &rec
			return fmt.Errorf("write message: %w", err)
		}
		metrics.RowsDelivered.WithLabelValues(adapterName).Inc()
	}
}

func (a *Adapter) message(rec event.Record) kafkago.Message {
	headers := tracing.KafkaHeaders{
		{Key: "ksqlq-source", Value: []byte(rec.Source)},
		{Key: "ksqlq-query-id", Value: []byte(rec.QueryID)},
		{Key: "ksqlq-record-id", Value: []byte(rec.ID)},
	}
	tracing.Inject(rec.SpanContext, &headers)
	return kafkago.Message{
		Topic:   a.topicFor(rec),
		Key:     []byte(rec.Key()),
		Value:   rec.Row,
		Headers: headers,
		Time:    rec.CreatedAt,
	}
}

// topicFor returns the fixed topic, or "ksqlq.<source>" lower-cased.
func (a *Adapter) topicFor(rec event.Record) string {
	if a.topic != "" {
		return a.topic
	}
	return "ksqlq." + strings.ToLower(rec.Source)
}

// isTerminalError returns true if the error indicates a permanent failure that
// reconnecting won't fix (e.g. authorization denied, message too large).
func isTerminalError(err error) bool {
	// WriteErrors wraps per-message errors; unwrap and check each one.
	var we kafkago.WriteErrors
	if errors.As(err, &we) {
		for _, e := range we {
			if e != nil && isTerminalError(e) {
				return true
			}
		}
		return false
	}
	var ke kafkago.Error
	if errors.As(err, &ke) {
		return !ke.Temporary()
	}
	return false
}
