package commands

import (
	"fmt"

	"jira-status-etl/internal/history"
	"jira-status-etl/internal/jira"
	"jira-status-etl/internal/sqlstore"

	"github.com/spf13/cobra"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile status intervals for the current window",
		Example: `  jira-status-etl run
  jira-status-etl run --lookback 72h --window-policy since-watermark
  jira-status-etl run --db-backend sqlite --db-dsn ./status.db --migrate`,
		Args: cobra.NoArgs,
		RunE: a.runETL,
	}
	a.addRunFlags(cmd)
	return cmd
}

func (a *app) addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("lookback", history.DefaultLookback.String(), "Trailing buffer re-scanned on every run")
	cmd.Flags().Int("page-size", history.DefaultPageSize, "Issues requested per Jira search page")
	cmd.Flags().String("window-policy", string(history.WindowBuffered), "Window policy: buffered or since-watermark")
	cmd.Flags().String("project", "", "Jira project key (overrides PROJECT_KEY)")
	cmd.Flags().BoolVar(&a.migrate, "migrate", false, "Apply schema migrations before running")
}

func (a *app) runETL(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := a.cfg.ValidateJira(); err != nil {
		return err
	}

	if a.migrate {
		if _, err := sqlstore.Migrate(ctx, a.cfg.DB.Backend, a.cfg.DB.DSN, -1); err != nil {
			return err
		}
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	feed := jira.NewFeed(jira.NewClient(a.cfg.Jira), a.cfg.Jira)
	engine := history.NewEngine(feed, store, a.cfg.EngineOptions())

	summary, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("ETL run failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s: window %s .. %s, %d issues on %d pages; opened %d, closed %d, backfilled %d, duplicates %d\n",
		summary.RunID,
		summary.Window.Start.Format("2006-01-02 15:04"),
		summary.Window.End.Format("2006-01-02 15:04"),
		summary.Issues, summary.Pages,
		summary.Opened, summary.Closed, summary.Backfilled, summary.Duplicates)
	return nil
}
