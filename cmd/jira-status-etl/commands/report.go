package commands

import (
	"time"

	"jira-status-etl/internal/report"
	"jira-status-etl/internal/sqlstore"

	"github.com/spf13/cobra"
)

func (a *app) newReportCmd() *cobra.Command {
	var (
		filter    sqlstore.IntervalFilter
		rows      bool
		format    string
		precision int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show time spent in each status",
		Long: `Aggregate the interval table per status (count, closed, open, mean, median and
total minutes). With --issue or --rows every interval is listed instead.`,
		Example: `  jira-status-etl report
  jira-status-etl report --status "Moved To Engg" --format csv
  jira-status-etl report --issue BUG-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			intervals, err := store.ListIntervals(cmd.Context(), filter)
			if err != nil {
				return err
			}

			p := report.Printer{Format: f, Precision: precision}
			now := time.Now().UTC()
			if rows || filter.IssueKey != "" {
				return p.WriteRows(cmd.OutOrStdout(), report.Rows(intervals, now))
			}
			return p.WriteSummaries(cmd.OutOrStdout(), report.Summarize(intervals, a.cfg.Job.Tracked.Names(), now))
		},
	}
	cmd.Flags().StringVar(&filter.IssueKey, "issue", "", "Only this issue key (implies --rows)")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only this status")
	cmd.Flags().BoolVar(&filter.OpenOnly, "open", false, "Only intervals that are still open")
	cmd.Flags().BoolVar(&rows, "rows", false, "List intervals instead of per-status totals")
	cmd.Flags().StringVar(&format, "format", string(report.TableOut), "Output format: table or csv or json")
	cmd.Flags().IntVar(&precision, "precision", 1, "Decimal precision for minute columns")
	return cmd
}
