package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/florinutz/ksqlq/event"
	"github.com/florinutz/ksqlq/internal/backoff"
	"github.com/florinutz/ksqlq/metrics"
	"github.com/florinutz/ksqlq/tracing"
)

const (
	adapterName       = "webhook"
	defaultMaxRetries = 5
	defaultTimeout    = 10 * time.Second
	userAgent         = "ksqlq-webhook"
)

// Config holds the webhook sink settings.
type Config struct {
	URL     string
	Headers map[string]string
	// SigningKey enables an X-Ksqlq-Signature HMAC-SHA256 header over the body.
	SigningKey  string
	MaxRetries  int
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DeliveryError reports a record that could not be delivered after all
// retries.
type DeliveryError struct {
	RecordID   string
	URL        string
	StatusCode int
	Retries    int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery of %s to %s failed after %d attempts: %v", e.RecordID, e.URL, e.Retries, e.Err)
	}
	return fmt.Sprintf("webhook delivery of %s to %s failed after %d attempts: status %d", e.RecordID, e.URL, e.Retries, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Adapter delivers records as HTTP POST requests to a webhook URL.
type Adapter struct {
	url        string
	headers    map[string]string
	signingKey string
	maxRetries int
	backoff    backoff.Policy
	client     *http.Client
	logger     *slog.Logger
}

// New creates a webhook adapter. If MaxRetries is <= 0 it defaults to 5.
// Zero durations default to sensible values.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		url:        cfg.URL,
		headers:    cfg.Headers,
		signingKey: cfg.SigningKey,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff.Policy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("adapter", adapterName),
	}
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return adapterName
}

// Start blocks, consuming records from the channel and delivering each one
// via HTTP POST. Records that exhaust their retries are logged and skipped.
// It returns nil when the channel is closed or ctx.Err() when the context is
// cancelled.
func (a *Adapter) Start(ctx context.Context, records <-chan event.Record) error {
	a.logger.Info("webhook adapter started", "url", a.url)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if err := a.deliver(ctx, rec); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				metrics.SinkErrors.WithLabelValues(adapterName).Inc()
				a.logger.Error("delivery failed, skipping record",
					"record_id", rec.ID,
					"source", rec.Source,
					"error", err,
				)
			}
		}
	}
}

// deliver posts the record as JSON, retrying network errors, 5xx and 429
// responses with backoff. Other 4xx responses are logged and skipped.
func (a *Adapter) deliver(ctx context.Context, rec event.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	var lastStatus int
	var lastErr error

	for attempt := range a.maxRetries {
		if attempt > 0 {
			metrics.SinkRetries.WithLabelValues(adapterName).Inc()
			wait := a.backoff.Delay(attempt - 1)
			a.logger.Info("retrying delivery",
				"record_id", rec.ID,
				"attempt", attempt+1,
				"backoff", wait,
			)
			if err := backoff.Sleep(ctx, wait); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request for record %s: %w", rec.ID, err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("X-Ksqlq-Record-ID", rec.ID)
		req.Header.Set("X-Ksqlq-Source", rec.Source)
		req.Header.Set("X-Ksqlq-Seq", strconv.FormatUint(rec.Seq, 10))
		tracing.Inject(rec.SpanContext, propagation.HeaderCarrier(req.Header))

		for k, v := range a.headers {
			req.Header.Set(k, v)
		}

		if a.signingKey != "" {
			req.Header.Set("X-Ksqlq-Signature", "sha256="+Sign(a.signingKey, body))
		}

		start := time.Now()
		resp, err := a.client.Do(req)
		metrics.SinkWriteDuration.WithLabelValues(adapterName).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Network errors are retryable.
			lastErr = err
			a.logger.Warn("http request failed",
				"record_id", rec.ID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.RowsDelivered.WithLabelValues(adapterName).Inc()
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastStatus = resp.StatusCode
			a.logger.Warn("retryable response",
				"record_id", rec.ID,
				"status", resp.StatusCode,
				"attempt", attempt+1,
			)
			continue
		}

		a.logger.Error("non-retryable response, skipping record",
			"record_id", rec.ID,
			"status", resp.StatusCode,
		)
		return nil
	}

	return &DeliveryError{
		RecordID:   rec.ID,
		URL:        a.url,
		StatusCode: lastStatus,
		Retries:    a.maxRetries,
		Err:        lastErr,
	}
}

// Sign returns the hex HMAC-SHA256 of body under key, as sent in
// X-Ksqlq-Signature after the "sha256=" prefix.
func Sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
