// Package commands defines the command-line interface for jira-status-etl.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jira-status-etl/internal/config"
	"jira-status-etl/internal/history"
	"jira-status-etl/internal/logging"
	"jira-status-etl/internal/sqlstore"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// flagKeys binds command-line flags to configuration keys.
var flagKeys = map[string]string{
	"job":           config.KeyJobName,
	"lookback":      config.KeyLookback,
	"page-size":     config.KeyPageSize,
	"window-policy": config.KeyWindowPolicy,
	"db-backend":    config.KeyDBBackend,
	"db-dsn":        config.KeyDBDSN,
	"logs-folder":   config.KeyLogsFolder,
	"project":       config.KeyJiraProject,
}

// app carries state shared by the command tree.
type app struct {
	v          *viper.Viper
	cfg        *config.AppConfig
	verbose    bool
	configFile string
	migrate    bool
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree. Without a subcommand it behaves like run.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "jira-status-etl",
		Short: "Rebuilds time-in-status intervals from Jira changelogs",
		Long: `jira-status-etl reads the changelog of recently updated Jira issues and maintains
an interval table (issue, status, entered, exited, duration) in PostgreSQL, MySQL or SQLite.
Runs are idempotent: re-processing the same window never duplicates rows.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE:              a.runETL,
	}

	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Path to config file (default ./"+config.ConfigName+".yaml)")
	rootCmd.PersistentFlags().String("job", history.DefaultJobName, "ETL job name used for the watermark")
	rootCmd.PersistentFlags().String("db-backend", string(sqlstore.Postgres), "Database backend: postgres or mysql or sqlite")
	rootCmd.PersistentFlags().String("db-dsn", "", "Database connection string (overrides DB_HOST, DB_PORT, ...)")
	rootCmd.PersistentFlags().String("logs-folder", "", "Directory for the rotating log file")
	a.addRunFlags(rootCmd)

	rootCmd.AddCommand(
		a.newRunCmd(),
		a.newMigrateCmd(),
		a.newWatermarkCmd(),
		a.newReportCmd(),
		a.newExportCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// setup binds flags, loads configuration and initializes logging.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	config.LoadDotEnv()

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logging.Init(a.verbose, cfg.LogDir); err != nil {
		return err
	}

	log.Debug().
		Str("version", Version).
		Str("commit", Commit).
		Str("buildDate", BuildDate).
		Str("config", cfg.ConfigFile).
		Str("backend", string(cfg.DB.Backend)).
		Msg("jira-status-etl starting")
	return nil
}

func (a *app) openStore(ctx context.Context) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, a.cfg.DB.Backend, a.cfg.DB.DSN)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "jira-status-etl %s (commit %s, built %s)\n", Version, Commit, BuildDate)
			return nil
		},
	}
}
