package config

import (
	"fmt"
	"strings"
	"time"
)

var knownSinks = map[string]bool{"stdout": true, "kafka": true, "nats": true, "webhook": true}

var knownSASL = map[string]bool{"": true, "plain": true, "scram-sha-256": true, "scram-sha-512": true}

// Validate performs structural validation on the config. requireSource is
// set by commands that build a statement.
func (c Config) Validate(requireSource bool) error {
	var errs []string

	if c.URL == "" {
		errs = append(errs, "url is required")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be > 0")
	}
	for k := range c.Parameters {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, "parameters must not contain an empty key")
			break
		}
	}

	if requireSource && strings.TrimSpace(c.Query.From) == "" {
		errs = append(errs, "query.from is required")
	}
	if c.Query.Limit < 0 {
		errs = append(errs, fmt.Sprintf("query.limit must be >= 0, got %d", c.Query.Limit))
	}
	if c.Query.Pull && !c.Query.Table {
		errs = append(errs, "pull queries require query.table")
	}

	checkDur := func(path string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0", path))
		}
	}

	if !knownSinks[c.Sink.Type] {
		errs = append(errs, fmt.Sprintf("unknown sink %q (expected stdout, kafka, nats, or webhook)", c.Sink.Type))
	}
	if c.Sink.Buffer <= 0 {
		errs = append(errs, fmt.Sprintf("sink.buffer must be > 0, got %d", c.Sink.Buffer))
	}
	if c.Sink.Type == "kafka" {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka.brokers is required for the kafka sink")
		}
		if !knownSASL[c.Kafka.SASLMechanism] {
			errs = append(errs, fmt.Sprintf("unknown kafka.sasl_mechanism %q", c.Kafka.SASLMechanism))
		}
		if c.Kafka.TLSCAFile != "" && !c.Kafka.TLS {
			errs = append(errs, "kafka.tls_ca_file requires kafka.tls")
		}
		checkDur("kafka.backoff_base", c.Kafka.BackoffBase)
		checkDur("kafka.backoff_cap", c.Kafka.BackoffCap)
	}

	if c.Sink.RateLimit < 0 {
		errs = append(errs, fmt.Sprintf("sink.rate_limit must be >= 0, got %v", c.Sink.RateLimit))
	}
	if c.Sink.Type == "nats" {
		if c.Nats.URL == "" {
			errs = append(errs, "nats.url is required for the nats sink")
		}
		checkDur("nats.max_age", c.Nats.MaxAge)
		checkDur("nats.backoff_base", c.Nats.BackoffBase)
		checkDur("nats.backoff_cap", c.Nats.BackoffCap)
	}
	if c.Sink.Type == "webhook" {
		if c.Webhook.URL == "" {
			errs = append(errs, "webhook.url is required for the webhook sink")
		}
		checkDur("webhook.timeout", c.Webhook.Timeout)
		checkDur("webhook.backoff_base", c.Webhook.BackoffBase)
		checkDur("webhook.backoff_cap", c.Webhook.BackoffCap)
	}

	if c.Reconnect.Enabled {
		checkDur("reconnect.backoff_base", c.Reconnect.BackoffBase)
		checkDur("reconnect.backoff_cap", c.Reconnect.BackoffCap)
		if c.Query.Pull {
			errs = append(errs, "reconnect only applies to push queries")
		}
	}

	switch c.OTel.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Sprintf("unknown otel.exporter %q (expected none, stdout, or otlp)", c.OTel.Exporter))
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		errs = append(errs, fmt.Sprintf("otel.sample_ratio must be within [0, 1], got %v", c.OTel.SampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation: %s", strings.Join(errs, "; "))
	}
	return nil
}
