package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/florinutz/ksqlq"
	"github.com/florinutz/ksqlq/adapter"
	"github.com/florinutz/ksqlq/adapter/kafka"
	"github.com/florinutz/ksqlq/adapter/nats"
	"github.com/florinutz/ksqlq/adapter/stdout"
	"github.com/florinutz/ksqlq/adapter/webhook"
	"github.com/florinutz/ksqlq/event"
	"github.com/florinutz/ksqlq/health"
	"github.com/florinutz/ksqlq/internal/backoff"
	"github.com/florinutz/ksqlq/internal/config"
	"github.com/florinutz/ksqlq/internal/ratelimit"
	"github.com/florinutz/ksqlq/internal/reconnect"
	"github.com/florinutz/ksqlq/internal/server"
	"github.com/florinutz/ksqlq/ksqlerr"
	"github.com/florinutz/ksqlq/metrics"
	"github.com/florinutz/ksqlq/schema"
	"github.com/florinutz/ksqlq/tracing"
	"github.com/florinutz/ksqlq/transport"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run a query and deliver its rows to a sink",
	Long: `Runs the query and writes every row to the configured sink until the
query completes or the process receives SIGINT/SIGTERM. With --reconnect a
push query that fails is reopened with exponential backoff.`,
	Example: `  ksqlq stream --from Tweets --param auto.offset.reset=earliest
  ksqlq stream --from Tweets --sink kafka --kafka-brokers localhost:9092 --reconnect
  ksqlq stream --from Tweets --sink webhook --webhook-url http://localhost:9000/rows --rate-limit 50`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		bindQueryFlags(cmd.Flags())
		return nil
	},
	RunE: runStream,
}

func init() {
	f := streamCmd.Flags()
	addQueryFlags(f)

	f.String("sink", "stdout", "row sink: stdout, kafka, nats, webhook")
	f.Bool("rows-only", false, "stdout sink: write bare rows instead of records")
	f.StringSlice("kafka-brokers", nil, "kafka sink brokers")
	f.String("kafka-topic", "", "kafka sink topic (default ksqlq.<source>)")
	f.String("kafka-sasl-mechanism", "", "kafka SASL mechanism: plain, scram-sha-256, scram-sha-512")
	f.String("kafka-sasl-username", "", "kafka SASL user")
	f.String("kafka-sasl-password", "", "kafka SASL password")
	f.Bool("kafka-tls", false, "connect to kafka over TLS")
	f.String("kafka-tls-ca-file", "", "CA bundle for kafka TLS")
	f.String("nats-url", "nats://localhost:4222", "nats sink server URL")
	f.String("nats-subject", "ksqlq", "nats sink subject prefix; rows go to <prefix>.<source>")
	f.String("nats-stream", "KSQLQ", "nats JetStream stream name")
	f.String("nats-cred-file", "", "nats credentials file")
	f.String("webhook-url", "", "webhook sink URL")
	f.StringToString("webhook-header", nil, "extra webhook header, repeatable")
	f.String("webhook-signing-key", "", "HMAC-SHA256 key for X-Ksqlq-Signature")
	f.Float64("rate-limit", 0, "max rows per second handed to the sink (0 = unlimited)")
	f.Int("rate-burst", 0, "rate limit burst (default: one second of rows)")
	f.Bool("reconnect", false, "reopen a failed push query with backoff")
	f.String("metrics-addr", "", "serve /metrics, /healthz, /readyz and /schemas/{source} on this address")
	f.String("otel-exporter", "none", "trace exporter: none, stdout, otlp")
	f.String("otel-endpoint", "", "OTLP endpoint (default from OTEL_EXPORTER_OTLP_ENDPOINT)")
	f.Float64("otel-sample-ratio", 1.0, "trace sampling ratio")

	mustBindPFlag("sink.type", f.Lookup("sink"))
	mustBindPFlag("sink.rows_only", f.Lookup("rows-only"))
	mustBindPFlag("kafka.brokers", f.Lookup("kafka-brokers"))
	mustBindPFlag("kafka.topic", f.Lookup("kafka-topic"))
	mustBindPFlag("kafka.sasl_mechanism", f.Lookup("kafka-sasl-mechanism"))
	mustBindPFlag("kafka.sasl_username", f.Lookup("kafka-sasl-username"))
	mustBindPFlag("kafka.sasl_password", f.Lookup("kafka-sasl-password"))
	mustBindPFlag("kafka.tls", f.Lookup("kafka-tls"))
	mustBindPFlag("kafka.tls_ca_file", f.Lookup("kafka-tls-ca-file"))
	mustBindPFlag("nats.url", f.Lookup("nats-url"))
	mustBindPFlag("nats.subject", f.Lookup("nats-subject"))
	mustBindPFlag("nats.stream", f.Lookup("nats-stream"))
	mustBindPFlag("nats.cred_file", f.Lookup("nats-cred-file"))
	mustBindPFlag("webhook.url", f.Lookup("webhook-url"))
	mustBindPFlag("webhook.headers", f.Lookup("webhook-header"))
	mustBindPFlag("webhook.signing_key", f.Lookup("webhook-signing-key"))
	mustBindPFlag("sink.rate_limit", f.Lookup("rate-limit"))
	mustBindPFlag("sink.rate_burst", f.Lookup("rate-burst"))
	mustBindPFlag("reconnect.enabled", f.Lookup("reconnect"))
	mustBindPFlag("metrics_addr", f.Lookup("metrics-addr"))
	mustBindPFlag("otel.exporter", f.Lookup("otel-exporter"))
	mustBindPFlag("otel.endpoint", f.Lookup("otel-endpoint"))
	mustBindPFlag("otel.sample_ratio", f.Lookup("otel-sample-ratio"))
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	logger := slog.Default()

	// Root context: cancelled on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       cfg.OTel.Exporter,
		Endpoint:       cfg.OTel.Endpoint,
		SampleRatio:    cfg.OTel.SampleRatio,
		ServiceVersion: Version,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	err = streamRows(ctx, cfg, cmd.OutOrStdout(), tp, logger)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}

// streamRows runs the query and its sink until the query ends, the sink
// fails or ctx is cancelled.
func streamRows(ctx context.Context, cfg config.Config, out io.Writer, tp trace.TracerProvider, logger *slog.Logger) error {
	kc, err := newContext(cfg, tp, logger)
	if err != nil {
		return err
	}
	q := buildQuery(kc, cfg.Query)
	// Fail on translation errors before any sink or server is started.
	if _, err := q.Compile(); err != nil {
		return err
	}

	sink, err := newSink(cfg, out, logger)
	if err != nil {
		return err
	}

	checker := health.NewChecker(health.ComponentQuery, health.ComponentSink)
	readiness := health.NewReadinessChecker()
	schemas := schema.NewRegistry()
	p := &producer{
		schemas:   schemas,
		query:     q,
		limiter:   ratelimit.New(cfg.Sink.RateLimit, cfg.Sink.RateBurst, sink.Name(), logger),
		checker:   checker,
		readiness: readiness,
		logger:    logger,
	}

	records := make(chan event.Record, cfg.Sink.Buffer)
	sinkDone := make(chan struct{})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(sinkDone)
		checker.SetStatus(health.ComponentSink, health.StatusUp, "")
		err := sink.Start(gCtx, records)
		if err != nil && !errors.Is(err, context.Canceled) {
			checker.SetStatus(health.ComponentSink, health.StatusDown, err.Error())
			return fmt.Errorf("%s sink: %w", sink.Name(), err)
		}
		return err
	})

	g.Go(func() error {
		defer close(records)
		if !cfg.Reconnect.Enabled {
			return p.run(gCtx, records)
		}
		policy := backoff.Policy{Base: cfg.Reconnect.BackoffBase, Cap: cfg.Reconnect.BackoffCap}
		return reconnect.Loop(gCtx, "query", policy, logger, metrics.Resubscribes, func(ctx context.Context) error {
			err := p.run(ctx, records)
			if err != nil && !errors.Is(err, reconnect.ErrPermanent) {
				checker.SetStatus(health.ComponentQuery, health.StatusDegraded, err.Error())
			}
			return err
		})
	})

	if cfg.MetricsAddr != "" {
		metricsServer := server.NewMetricsServer(cfg.MetricsAddr, checker, readiness, schemas)

		g.Go(func() error {
			logger.Info("metrics server starting", "addr", cfg.MetricsAddr)
			ln, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				return fmt.Errorf("metrics listen: %w", err)
			}
			if err := metricsServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics serve: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			select {
			case <-gCtx.Done():
			case <-sinkDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			logger.Info("shutting down metrics server")
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newSink(cfg config.Config, out io.Writer, logger *slog.Logger) (adapter.Adapter, error) {
	switch cfg.Sink.Type {
	case "kafka":
		return kafka.New(kafka.Config{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			SASLMechanism: cfg.Kafka.SASLMechanism,
			SASLUser:      cfg.Kafka.SASLUsername,
			SASLPassword:  cfg.Kafka.SASLPassword,
			TLS:           cfg.Kafka.TLS,
			TLSCAFile:     cfg.Kafka.TLSCAFile,
			BackoffBase:   cfg.Kafka.BackoffBase,
			BackoffCap:    cfg.Kafka.BackoffCap,
		}, logger)
	case "nats":
		return nats.New(nats.Config{
			URL:           cfg.Nats.URL,
			SubjectPrefix: cfg.Nats.Subject,
			Stream:        cfg.Nats.Stream,
			CredFile:      cfg.Nats.CredFile,
			MaxAge:        cfg.Nats.MaxAge,
			BackoffBase:   cfg.Nats.BackoffBase,
			BackoffCap:    cfg.Nats.BackoffCap,
		}, logger), nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:         cfg.Webhook.URL,
			Headers:     cfg.Webhook.Headers,
			SigningKey:  cfg.Webhook.SigningKey,
			MaxRetries:  cfg.Webhook.MaxRetries,
			Timeout:     cfg.Webhook.Timeout,
			BackoffBase: cfg.Webhook.BackoffBase,
			BackoffCap:  cfg.Webhook.BackoffCap,
		}, logger), nil
	case "stdout":
		return stdout.New(out, cfg.Sink.RowsOnly, logger), nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink.Type)
	}
}

// producer turns query rows into records. seq keeps counting across
// reconnects.
type producer struct {
	query     ksqlq.QuerySet[transport.Row]
	limiter   *ratelimit.Limiter
	schemas   *schema.Registry
	checker   *health.Checker
	readiness *health.ReadinessChecker
	logger    *slog.Logger
	seq       uint64
}

// run streams one session into records. It returns nil when the query
// completes, ctx.Err() when cancelled, and the session error otherwise;
// errors that a retry would repeat are marked reconnect.ErrPermanent.
func (p *producer) run(ctx context.Context, records chan<- event.Record) error {
	rows, err := p.query.Stream(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", reconnect.ErrPermanent, err)
	}
	defer func() { _ = rows.Close() }()

	source := rows.Session().Statement().Source
	var version *schema.Version
	for rows.Next() {
		h, _ := rows.Header()
		if version == nil {
			version = p.register(source, h)
			p.checker.SetStatus(health.ComponentQuery, health.StatusUp, "")
			p.readiness.SetReady(true, h.QueryID)
		}
		p.seq++
		rec, err := event.New(h.QueryID, source, p.seq, rows.Row())
		if err != nil {
			return fmt.Errorf("%w: %w", reconnect.ErrPermanent, err)
		}
		rec.SpanContext = rows.Session().SpanContext()
		rec.SchemaVersion = version.Version

		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		select {
		case records <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.readiness.SetReady(false, "")

	switch rows.State() {
	case transport.StateCancelled:
		return ctx.Err()
	case transport.StateCompleted:
		p.logger.Info("query completed", "rows", p.seq)
		return nil
	}
	h, _ := rows.Header()
	err = ksqlerr.WrapQuery(rows.Err(), "query", h.QueryID, source)
	p.checker.SetStatus(health.ComponentQuery, health.StatusDown, err.Error())
	if permanent(err) {
		return fmt.Errorf("%w: %w", reconnect.ErrPermanent, err)
	}
	return err
}

// register records the session's result header. A header that differs from
// the previous session's is logged: downstream consumers may need to adapt.
func (p *producer) register(source string, h transport.Header) *schema.Version {
	v, created := p.schemas.Register(source, schema.ColumnDefs(h.ColumnNames, h.ColumnTypes))
	if created && v.Version > 1 {
		p.logger.Warn("result schema changed",
			"source", source,
			"version", v.Version,
			"query_id", h.QueryID,
		)
	}
	return v
}

// permanent reports whether reopening the query would fail the same way:
// rejected statements, bad credentials and undecodable rows.
func permanent(err error) bool {
	var de *ksqlerr.DecodeError
	if errors.As(err, &de) {
		return true
	}
	var pe *ksqlerr.ProtocolError
	if errors.As(err, &pe) {
		switch {
		case pe.StatusCode == http.StatusRequestTimeout, pe.StatusCode == http.StatusTooManyRequests:
			return false
		case pe.StatusCode >= 400 && pe.StatusCode < 500:
			return true
		}
	}
	var ce *ksqlerr.ConfigurationError
	return errors.As(err, &ce)
}
