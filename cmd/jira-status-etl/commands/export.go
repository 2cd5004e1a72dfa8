package commands

import (
	"fmt"

	"jira-status-etl/internal/export"
	"jira-status-etl/internal/sqlstore"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) newExportCmd() *cobra.Command {
	var (
		filter sqlstore.IntervalFilter
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write interval rows to a Parquet file",
		Example: `  jira-status-etl export --out intervals.parquet
  duckdb -c "SELECT status, avg(duration_minutes) FROM read_parquet('intervals.parquet') GROUP BY 1"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			intervals, err := store.ListIntervals(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if err := export.WriteIntervalsParquet(export.ConvertIntervals(intervals), out); err != nil {
				return err
			}

			log.Info().Str("path", out).Int("rows", len(intervals)).Msg("Exported intervals")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d intervals to %s\n", len(intervals), out)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Parquet output path")
	cmd.Flags().StringVar(&filter.IssueKey, "issue", "", "Only this issue key")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only this status")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
