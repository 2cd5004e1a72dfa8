package commands

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"jira-status-etl/internal/report"

	"github.com/spf13/cobra"
)

func (a *app) newWatermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or manage ETL watermarks",
	}

	var format string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show every job's watermark and interval table counts",
		Args:  cobra.NoArgs,
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

			wms, err := store.Watermarks(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([]report.WatermarkRow, 0, len(wms))
			for _, job := range slices.Sorted(maps.Keys(wms)) {
				rows = append(rows, report.WatermarkRow{Job: job, LastRun: wms[job]})
			}
			if err := (report.Printer{Format: f}).WriteWatermarks(cmd.OutOrStdout(), rows); err != nil {
				return err
			}

			if f != report.TableOut {
				return nil
			}
			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Intervals: %d (%d open) across %d issues\n", st.Intervals, st.OpenIntervals, st.Issues)
			return err
		},
	}
	showCmd.Flags().StringVar(&format, "format", string(report.TableOut), "Output format: table or csv or json")

	var seedAt string
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the watermark row for the job if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Unix(0, 0).UTC()
			if seedAt != "" {
				var err error
				if at, err = parseTimestamp(seedAt); err != nil {
					return err
				}
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			inserted, err := store.SeedWatermark(cmd.Context(), a.cfg.Job.Name, at)
			if err != nil {
				return err
			}
			if !inserted {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Watermark for %q already exists\n", a.cfg.Job.Name)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Seeded watermark for %q at %s\n", a.cfg.Job.Name, at.Format(time.RFC3339))
			return err
		},
	}
	seedCmd.Flags().StringVar(&seedAt, "at", "", "Initial watermark (RFC 3339, default 1970-01-01T00:00:00Z)")

	var setAt string
	setCmd := &cobra.Command{
		Use:     "set",
		Short:   "Overwrite the job's watermark",
		Example: `  jira-status-etl watermark set --at 2024-03-01T00:00:00Z`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseTimestamp(setAt)
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SetWatermark(cmd.Context(), a.cfg.Job.Name, at); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Watermark for %q set to %s\n", a.cfg.Job.Name, at.Format(time.RFC3339))
			return err
		},
	}
	setCmd.Flags().StringVar(&setAt, "at", "", "New watermark (RFC 3339)")
	_ = setCmd.MarkFlagRequired("at")

	cmd.AddCommand(showCmd, seedCmd, setCmd)
	return cmd
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q (want RFC 3339, \"2006-01-02 15:04\" or \"2006-01-02\")", s)
}
