package cmd

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/florinutz/ksqlq"
	"github.com/florinutz/ksqlq/expr"
	"github.com/florinutz/ksqlq/internal/config"
	"github.com/florinutz/ksqlq/transport"
)

var (
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	aliased    = regexp.MustCompile(`(?i)^(.+?)\s+AS\s+([A-Za-z_][A-Za-z0-9_]*)$`)
)

func addQueryFlags(f *pflag.FlagSet) {
	f.String("from", "", "stream or table to query (required)")
	f.StringSlice("select", nil, "projected columns or expressions; default *")
	f.String("where", "", "filter, passed to the engine verbatim")
	f.Int("limit", 0, "stop after this many rows (0 = unbounded)")
	f.Bool("table", false, "the source is a table")
	f.Bool("pull", false, "run a pull query against a table instead of emitting changes")
}

// bindQueryFlags binds the query flags of the running command. Binding in
// PreRunE keeps print and stream from overwriting each other's bindings.
func bindQueryFlags(f *pflag.FlagSet) {
	mustBindPFlag("query.from", f.Lookup("from"))
	mustBindPFlag("query.select", f.Lookup("select"))
	mustBindPFlag("query.where", f.Lookup("where"))
	mustBindPFlag("query.limit", f.Lookup("limit"))
	mustBindPFlag("query.table", f.Lookup("table"))
	mustBindPFlag("query.pull", f.Lookup("pull"))
}

func loadConfig(requireSource bool) (config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(requireSource); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newContext(cfg config.Config, tp trace.TracerProvider, logger *slog.Logger) (*ksqlq.Context, error) {
	return ksqlq.NewContext(ksqlq.Options{
		URL:                  cfg.URL,
		Parameters:           cfg.Parameters,
		DisablePluralization: cfg.DisablePluralization,
		HTTP2:                cfg.HTTP2,
		Username:             cfg.Username,
		Password:             cfg.Password,
		Logger:               logger,
		TracerProvider:       tp,
	})
}

// buildQuery turns the command-line query description into an untyped
// query set.
func buildQuery(c *ksqlq.Context, qc config.QueryConfig) ksqlq.QuerySet[transport.Row] {
	opts := []ksqlq.SetOption{ksqlq.WithName(qc.From)}
	if qc.Table {
		opts = append(opts, ksqlq.AsTable())
	}
	if qc.Pull {
		opts = append(opts, ksqlq.AsPull())
	}
	if qc.Alias != "" {
		opts = append(opts, ksqlq.WithAlias(qc.Alias))
	}

	q := ksqlq.CreateQuerySet[transport.Row](c, opts...)
	if w := strings.TrimSpace(qc.Where); w != "" {
		q = q.Where(expr.Dynamic(w))
	}
	if p := projection(qc.Select); p != nil {
		q = ksqlq.Select[transport.Row](q, p)
	}
	if qc.Limit > 0 {
		q = q.Take(qc.Limit)
	}
	return q
}

// projection maps --select items to a projection. Plain identifiers become
// columns; anything else is passed through as an expression, named by its
// trailing "AS name" or by its own text.
func projection(items []string) expr.Expr {
	var fields []expr.Field
	for _, item := range items {
		item = strings.TrimSpace(item)
		switch {
		case item == "" || item == "*":
			continue
		case identifier.MatchString(item):
			fields = append(fields, expr.Field{Name: item, Value: expr.Col(item)})
		default:
			if m := aliased.FindStringSubmatch(item); m != nil {
				fields = append(fields, expr.Field{Name: m[2], Value: expr.Dynamic(m[1])})
				continue
			}
			fields = append(fields, expr.Field{Name: item, Value: expr.Dynamic(item)})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return expr.New(fields...)
}
