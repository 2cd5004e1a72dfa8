package commands

import (
	"fmt"

	"jira-status-etl/internal/sqlstore"

	"github.com/spf13/cobra"
)

func (a *app) newMigrateCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
		Long: `Migrate the interval store schema.
--version -1 (default) migrates to the latest version, 0 rolls everything back,
any other value migrates to exactly that version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := sqlstore.Migrate(cmd.Context(), a.cfg.DB.Backend, a.cfg.DB.DSN, version)
			if err != nil {
				return err
			}
			if !res.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "No migration needed. Database is already at version %d\n", res.To)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully migrated from version %d to version %d\n", res.From, res.To)
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", -1, "Target migration version (-1 means latest, 0 means rollback to initial state)")
	return cmd
}
