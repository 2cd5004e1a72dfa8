// Package config resolves application settings from .env files, an optional
// YAML file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"jira-status-etl/internal/history"
	"jira-status-etl/internal/jira"
	"jira-status-etl/internal/sqlstore"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ConfigName is the base name of the optional YAML configuration file.
const ConfigName = "jira-status-etl"

// Keys used in the YAML file and for flag bindings.
const (
	KeyJiraURL           = "jira.url"
	KeyJiraUser          = "jira.user"
	KeyJiraAPIToken      = "jira.api_token"
	KeyJiraToken         = "jira.token"
	KeyJiraProject       = "jira.project_key"
	KeyJiraIssueType     = "jira.issue_type"
	KeyJiraAPIVersion    = "jira.api_version"
	KeyJiraRequestDelay  = "jira.request_delay"
	KeyJiraTimeout       = "jira.timeout"
	KeyJiraFullChangelog = "jira.full_changelog"

	KeyDBBackend  = "db.backend"
	KeyDBDSN      = "db.dsn"
	KeyDBHost     = "db.host"
	KeyDBPort     = "db.port"
	KeyDBName     = "db.name"
	KeyDBUser     = "db.user"
	KeyDBPassword = "db.password"

	KeyJobName         = "etl.job"
	KeyLookback        = "etl.lookback"
	KeyPageSize        = "etl.page_size"
	KeyWindowPolicy    = "etl.window_policy"
	KeyTrackedStatuses = "etl.tracked_statuses"

	KeyLogsFolder = "logs_folder"
)

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	KeyJiraURL:           "JIRA_URL",
	KeyJiraUser:          "JIRA_USER",
	KeyJiraAPIToken:      "JIRA_API_TOKEN",
	KeyJiraToken:         "JIRA_TOKEN",
	KeyJiraProject:       "PROJECT_KEY",
	KeyJiraIssueType:     "JIRA_ISSUE_TYPE",
	KeyJiraAPIVersion:    "JIRA_API_VERSION",
	KeyJiraRequestDelay:  "JIRA_REQUEST_DELAY",
	KeyJiraTimeout:       "JIRA_TIMEOUT",
	KeyJiraFullChangelog: "JIRA_FULL_CHANGELOG",
	KeyDBBackend:         "DB_BACKEND",
	KeyDBDSN:             "DB_DSN",
	KeyDBHost:            "DB_HOST",
	KeyDBPort:            "DB_PORT",
	KeyDBName:            "DB_NAME",
	KeyDBUser:            "DB_USER",
	KeyDBPassword:        "DB_PASSWORD",
	KeyJobName:           "ETL_JOB_NAME",
	KeyLookback:          "ETL_LOOKBACK",
	KeyPageSize:          "ETL_PAGE_SIZE",
	KeyWindowPolicy:      "ETL_WINDOW_POLICY",
	KeyTrackedStatuses:   "TRACKED_STATUSES",
	KeyLogsFolder:        "LOGS_FOLDER",
}

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Jira       jira.Config
	DB         DBConfig
	Job        JobConfig
	LogDir     string
	ConfigFile string
}

// DBConfig selects the interval store.
type DBConfig struct {
	Backend sqlstore.Backend
	DSN     string
}

// JobConfig parameterises the reconciliation engine.
type JobConfig struct {
	Name     string
	Lookback time.Duration
	PageSize int
	Tracked  history.StatusSet
	Policy   history.WindowPolicy
}

// New returns a viper instance with defaults and environment bindings set.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyJiraIssueType, "Bug")
	v.SetDefault(KeyJiraAPIVersion, "3")
	v.SetDefault(KeyJiraRequestDelay, "0s")
	v.SetDefault(KeyJiraTimeout, "90s")
	v.SetDefault(KeyJiraFullChangelog, true)
	v.SetDefault(KeyDBBackend, string(sqlstore.Postgres))
	v.SetDefault(KeyDBHost, "localhost")
	v.SetDefault(KeyJobName, history.DefaultJobName)
	v.SetDefault(KeyLookback, history.DefaultLookback.String())
	v.SetDefault(KeyPageSize, history.DefaultPageSize)
	v.SetDefault(KeyWindowPolicy, string(history.WindowBuffered))

	for key, env := range envBindings {
		// BindEnv only fails without a key
		_ = v.BindEnv(key, env)
	}
	return v
}

// LoadDotEnv loads .env from the executable's directory, then from the
// working directory. Variables already set are never overridden.
func LoadDotEnv() {
	if exePath, err := os.Executable(); err == nil {
		envPath := filepath.Join(filepath.Dir(exePath), ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}
}

// Load reads the optional YAML file into v and resolves an AppConfig.
// An explicit configFile must exist; the default lookup may find nothing.
func Load(v *viper.Viper, configFile string) (*AppConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if exePath, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exePath))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := Resolve(v)
	if err != nil {
		return nil, err
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	return cfg, nil
}

// Resolve builds an AppConfig from the values currently visible to v.
func Resolve(v *viper.Viper) (*AppConfig, error) {
	backend, err := sqlstore.ParseBackend(v.GetString(KeyDBBackend))
	if err != nil {
		return nil, err
	}
	policy, err := history.ParseWindowPolicy(v.GetString(KeyWindowPolicy))
	if err != nil {
		return nil, err
	}

	lookback, err := parseDuration(v, KeyLookback)
	if err != nil {
		return nil, err
	}
	delay, err := parseDuration(v, KeyJiraRequestDelay)
	if err != nil {
		return nil, err
	}
	timeout, err := parseDuration(v, KeyJiraTimeout)
	if err != nil {
		return nil, err
	}

	pageSize := v.GetInt(KeyPageSize)
	if pageSize <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %q", KeyPageSize, v.GetString(KeyPageSize))
	}

	tracked, err := statusList(v.Get(KeyTrackedStatuses))
	if err != nil {
		return nil, err
	}
	if len(tracked) == 0 {
		tracked = history.DefaultTrackedStatuses
	}

	cfg := &AppConfig{
		Jira: jira.Config{
			BaseURL:       strings.TrimRight(v.GetString(KeyJiraURL), "/"),
			APIVersion:    v.GetString(KeyJiraAPIVersion),
			User:          v.GetString(KeyJiraUser),
			APIToken:      v.GetString(KeyJiraAPIToken),
			Token:         v.GetString(KeyJiraToken),
			ProjectKey:    v.GetString(KeyJiraProject),
			IssueType:     v.GetString(KeyJiraIssueType),
			FullChangelog: v.GetBool(KeyJiraFullChangelog),
			RequestDelay:  delay,
			Timeout:       timeout,
		},
		DB: DBConfig{
			Backend: backend,
			DSN:     v.GetString(KeyDBDSN),
		},
		Job: JobConfig{
			Name:     v.GetString(KeyJobName),
			Lookback: lookback,
			PageSize: pageSize,
			Tracked:  history.NewStatusSet(tracked...),
			Policy:   policy,
		},
		LogDir: v.GetString(KeyLogsFolder),
	}

	if cfg.DB.DSN == "" {
		cfg.DB.DSN = buildDSN(backend, v)
	}
	return cfg, nil
}

// ValidateJira reports missing settings needed to talk to Jira.
func (c *AppConfig) ValidateJira() error {
	var missing []string
	if c.Jira.BaseURL == "" {
		missing = append(missing, envBindings[KeyJiraURL])
	}
	if c.Jira.ProjectKey == "" {
		missing = append(missing, envBindings[KeyJiraProject])
	}
	if c.Jira.Token == "" && (c.Jira.User == "" || c.Jira.APIToken == "") {
		missing = append(missing, envBindings[KeyJiraUser]+"/"+envBindings[KeyJiraAPIToken]+" or "+envBindings[KeyJiraToken])
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing Jira configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// EngineOptions converts the job settings for history.NewEngine.
func (c *AppConfig) EngineOptions() history.Options {
	return history.Options{
		JobName:  c.Job.Name,
		Lookback: c.Job.Lookback,
		PageSize: c.Job.PageSize,
		Tracked:  c.Job.Tracked,
		Policy:   c.Job.Policy,
	}
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	// bare numbers are seconds
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, d)
	}
	return d, nil
}

// statusList accepts a comma-separated string (environment) or a YAML list.
func statusList(raw any) ([]string, error) {
	var out []string
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		for part := range strings.SplitSeq(val, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected strings, got %T", KeyTrackedStatuses, item)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	default:
		return nil, fmt.Errorf("%s: unsupported value of type %T", KeyTrackedStatuses, raw)
	}
	return out, nil
}

// buildDSN assembles a connection string from the discrete DB_* settings.
func buildDSN(backend sqlstore.Backend, v *viper.Viper) string {
	host := v.GetString(KeyDBHost)
	port := v.GetString(KeyDBPort)
	name := v.GetString(KeyDBName)
	user := v.GetString(KeyDBUser)
	pass := v.GetString(KeyDBPassword)

	switch backend {
	case sqlstore.SQLite:
		if name == "" {
			return ConfigName + ".db"
		}
		return name

	case sqlstore.MySQL:
		if port == "" {
			port = "3306"
		}
		mc := mysql.NewConfig()
		mc.User = user
		mc.Passwd = pass
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, port)
		mc.DBName = name
		return mc.FormatDSN()

	default:
		if port == "" {
			port = "5432"
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(host, port),
			Path:   "/" + name,
		}
		if user != "" {
			if pass != "" {
				u.User = url.UserPassword(user, pass)
			} else {
				u.User = url.User(user)
			}
		}
		return u.String()
	}
}
