package config

import "time"

type Config struct {
	URL                  string            `mapstructure:"url"`
	Parameters           map[string]string `mapstructure:"parameters"`
	DisablePluralization bool              `mapstructure:"disable_pluralization"`
	HTTP2                bool              `mapstructure:"http2"`
	Username             string            `mapstructure:"username"`
	Password             string            `mapstructure:"password"`
	LogLevel             string            `mapstructure:"log_level"`
	LogFormat            string            `mapstructure:"log_format"`
	ShutdownTimeout      time.Duration     `mapstructure:"shutdown_timeout"`
	MetricsAddr          string            `mapstructure:"metrics_addr"`
	Query                QueryConfig       `mapstructure:"query"`
	Sink                 SinkConfig        `mapstructure:"sink"`
	Kafka                KafkaConfig       `mapstructure:"kafka"`
	Nats                 NatsConfig        `mapstructure:"nats"`
	Webhook              WebhookConfig     `mapstructure:"webhook"`
	Reconnect            ReconnectConfig   `mapstructure:"reconnect"`
	OTel                 OTelConfig        `mapstructure:"otel"`
}

// QueryConfig describes the statement built by the print and stream commands.
type QueryConfig struct {
	From   string   `mapstructure:"from"`
	Select []string `mapstructure:"select"`
	Where  string   `mapstructure:"where"`
	Limit  int      `mapstructure:"limit"`
	Table  bool     `mapstructure:"table"`
	Pull   bool     `mapstructure:"pull"`
	Alias  string   `mapstructure:"alias"`
}

type SinkConfig struct {
	Type      string  `mapstructure:"type"` // "stdout", "kafka", "nats" or "webhook"
	RowsOnly  bool    `mapstructure:"rows_only"`
	Buffer    int     `mapstructure:"buffer"`
	RateLimit float64 `mapstructure:"rate_limit"` // rows per second, 0 = unlimited
	RateBurst int     `mapstructure:"rate_burst"`
}

type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	SASLMechanism string        `mapstructure:"sasl_mechanism"`
	SASLUsername  string        `mapstructure:"sasl_username"`
	SASLPassword  string        `mapstructure:"sasl_password"`
	TLS           bool          `mapstructure:"tls"`
	TLSCAFile     string        `mapstructure:"tls_ca_file"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffCap    time.Duration `mapstructure:"backoff_cap"`
}

type NatsConfig struct {
	URL         string        `mapstructure:"url"`
	Subject     string        `mapstructure:"subject"`
	Stream      string        `mapstructure:"stream"`
	CredFile    string        `mapstructure:"cred_file"`
	MaxAge      time.Duration `mapstructure:"max_age"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

type WebhookConfig struct {
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	SigningKey  string            `mapstructure:"signing_key"`
	MaxRetries  int               `mapstructure:"max_retries"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	BackoffBase time.Duration     `mapstructure:"backoff_base"`
	BackoffCap  time.Duration     `mapstructure:"backoff_cap"`
}

type ReconnectConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

type OTelConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func Default() Config {
	return Config{
		URL:             "http://localhost:8088",
		Parameters:      map[string]string{},
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 5 * time.Second,
		Sink: SinkConfig{
			Type:   "stdout",
			Buffer: 256,
		},
		Kafka: KafkaConfig{
			BackoffBase: 1 * time.Second,
			BackoffCap:  30 * time.Second,
		},
		Nats: NatsConfig{
			URL:         "nats://localhost:4222",
			Subject:     "ksqlq",
			Stream:      "KSQLQ",
			MaxAge:      24 * time.Hour,
			BackoffBase: 1 * time.Second,
			BackoffCap:  30 * time.Second,
		},
		Webhook: WebhookConfig{
			Headers:     map[string]string{},
			MaxRetries:  5,
			Timeout:     10 * time.Second,
			BackoffBase: 1 * time.Second,
			BackoffCap:  32 * time.Second,
		},
		Reconnect: ReconnectConfig{
			BackoffBase: 1 * time.Second,
			BackoffCap:  30 * time.Second,
		},
		OTel: OTelConfig{
			Exporter:    "none",
			SampleRatio: 1.0,
		},
	}
}
