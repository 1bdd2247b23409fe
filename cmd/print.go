package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var printCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the statement a query compiles to",
	Example: `  ksqlq print --from Tweets --select Id,Message --where "Id > 1" --limit 2
  ksqlq print --from Movies --table --pull --where "Id = 1"`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		bindQueryFlags(cmd.Flags())
		return nil
	},
	RunE: runPrint,
}

func init() {
	addQueryFlags(printCmd.Flags())
}

func runPrint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	kc, err := newContext(cfg, nil, slog.Default())
	if err != nil {
		return err
	}
	text, err := buildQuery(kc, cfg.Query).ToQueryString()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
