package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/florinutz/ksqlq/tracing"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ksqlq",
	Short: "Build streaming SQL queries and stream their results",
	Long: `ksqlq compiles queries for a ksqlDB-compatible streaming SQL engine and
streams their rows to stdout, Kafka, NATS JetStream or a webhook. Push
queries run until interrupted; pull queries and queries with a limit
complete on their own.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(cmd)
	},
	SilenceUsage: true,
}

// Execute is called by main.go and is the entry point for the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default: ./ksqlq.yaml)")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "text", "log format: text, json")
	f.String("url", "http://localhost:8088", "engine base URL")
	f.StringToString("param", nil, "stream property sent with the query, repeatable (e.g. --param auto.offset.reset=earliest)")
	f.Bool("http2", false, "use HTTP/2 (cleartext for http:// URLs)")
	f.String("username", "", "basic auth user")
	f.String("password", "", "basic auth password")
	f.Bool("singular", false, "do not pluralize derived source names")

	mustBindPFlag("log_level", f.Lookup("log-level"))
	mustBindPFlag("log_format", f.Lookup("log-format"))
	mustBindPFlag("url", f.Lookup("url"))
	mustBindPFlag("parameters", f.Lookup("param"))
	mustBindPFlag("http2", f.Lookup("http2"))
	mustBindPFlag("username", f.Lookup("username"))
	mustBindPFlag("password", f.Lookup("password"))
	mustBindPFlag("disable_pluralization", f.Lookup("singular"))

	rootCmd.AddCommand(printCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ksqlq")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("KSQLQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && cfgFile != "" && !errors.As(err, &notFound) {
		fmt.Fprintf(os.Stderr, "warning: read config %s: %v\n", cfgFile, err)
	}
}

func setupLogger(cmd *cobra.Command) error {
	logger, err := newLogger(cmd.ErrOrStderr(), viper.GetString("log_level"), viper.GetString("log_format"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// newLogger builds the process logger. Logs go to w (stderr) so that stdout
// only carries rows and statements.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: expected debug, info, warn or error", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("log format %q: expected text or json", format)
	}
	return slog.New(tracing.NewLogHandler(h)), nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("viper.BindPFlag(%q): %v", key, err))
	}
}
