// Package config loads engine settings from the workspace config.yaml,
// an optional .env file and PLANENGINE_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"planengine/internal/adjudicator"
	"planengine/internal/calendar"
	"planengine/internal/store"
	"planengine/internal/workspace"
)

// EnvPrefix prefixes every environment override, for example
// PLANENGINE_AUTH_SECRET for auth.secret.
const EnvPrefix = "PLANENGINE"

// Config is the resolved engine configuration.
type Config struct {
	Timezone      string                    `mapstructure:"timezone"`
	Database      Database                  `mapstructure:"database"`
	HTTP          HTTP                      `mapstructure:"http"`
	Auth          Auth                      `mapstructure:"auth"`
	Thresholds    Thresholds                `mapstructure:"thresholds"`
	Preconditions adjudicator.Preconditions `mapstructure:"preconditions"`
	Daemon        Daemon                    `mapstructure:"daemon"`
	Log           Log                       `mapstructure:"log"`
	Telegram      Telegram                  `mapstructure:"telegram"`
	// DirectoryPath and PolicyPath are resolved against the workspace.
	DirectoryPath string `mapstructure:"directory"`
	PolicyPath    string `mapstructure:"policy"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type HTTP struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Auth struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Thresholds drive timeout sweeps, notification dedupe and stats caching.
type Thresholds struct {
	DraftTimeout    time.Duration `mapstructure:"draft_timeout"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
	DedupeWindow    time.Duration `mapstructure:"dedupe_window"`
	StatsTTL        time.Duration `mapstructure:"stats_ttl"`
}

type Daemon struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Lease        time.Duration `mapstructure:"lease"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Telegram enables the push sink when Token is set.
type Telegram struct {
	Token string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	pre := adjudicator.DefaultPreconditions()
	defaults := map[string]any{
		"timezone":                                 calendar.DefaultZone,
		"database.driver":                          "sqlite",
		"database.dsn":                             "data/planengine.db",
		"http.addr":                                ":8080",
		"http.timeout":                             "30s",
		"auth.secret":                              "",
		"auth.issuer":                              "planengine",
		"auth.token_ttl":                           "24h",
		"thresholds.draft_timeout":                 "168h",
		"thresholds.approval_timeout":              "72h",
		"thresholds.dedupe_window":                 "24h",
		"thresholds.stats_ttl":                     "60s",
		"preconditions.require_responsible_person": pre.RequireResponsiblePerson,
		"preconditions.require_start_time":         pre.RequireStartTime,
		"preconditions.require_name":               pre.RequireName,
		"daemon.poll_interval":                     "1s",
		"daemon.lease":                             "5m",
		"log.level":                                "info",
		"log.format":                               "text",
		"telegram.token":                           "",
		"directory":                                "directory.yml",
		"policy":                                   "policy.yml",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load reads configuration for ws. A missing config.yaml or .env is not
// an error.
func Load(ws *workspace.Workspace) (*Config, error) {
	if err := godotenv.Load(ws.EnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(ws.ConfigPath); err == nil {
		v.SetConfigFile(ws.ConfigPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolvePaths(ws); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(ws *workspace.Workspace) error {
	var err error
	dialect, _ := store.ParseDialect(c.Database.Driver)
	if dialect == store.SQLite {
		if c.Database.DSN, err = ws.Path(c.Database.DSN); err != nil {
			return fmt.Errorf("resolve database path: %w", err)
		}
	}
	if c.DirectoryPath, err = ws.Path(c.DirectoryPath); err != nil {
		return fmt.Errorf("resolve directory path: %w", err)
	}
	if c.PolicyPath, err = ws.Path(c.PolicyPath); err != nil {
		return fmt.Errorf("resolve policy path: %w", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("timezone: %v", err))
	}
	if _, err := store.ParseDialect(c.Database.Driver); err != nil {
		problems = append(problems, fmt.Sprintf("database.driver: %v", err))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		problems = append(problems, "database.dsn: is required")
	}
	positive := map[string]time.Duration{
		"thresholds.draft_timeout":    c.Thresholds.DraftTimeout,
		"thresholds.approval_timeout": c.Thresholds.ApprovalTimeout,
		"thresholds.dedupe_window":    c.Thresholds.DedupeWindow,
		"daemon.poll_interval":        c.Daemon.PollInterval,
		"daemon.lease":                c.Daemon.Lease,
	}
	for key, d := range positive {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s: must be positive", key))
		}
	}
	if c.Thresholds.StatsTTL < 0 {
		problems = append(problems, "thresholds.stats_ttl: must not be negative")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		problems = append(problems, fmt.Sprintf("log.level: %v", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format: unknown format %q", c.Log.Format))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

// Location is the business time zone.
func (c *Config) Location() *time.Location {
	return calendar.Load(c.Timezone)
}

// StoreOptions builds the store options for Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{Driver: c.Database.Driver, DSN: c.Database.DSN, Location: c.Location()}
}
