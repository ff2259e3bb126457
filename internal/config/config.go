// Package config resolves kernel settings from flags, environment and an
// optional YAML file.
//
// Precedence (highest first): command-line flag, NBKERNEL_* environment
// variable, config file, default. Every key is registered once in Register
// so the flag name, environment name and default cannot drift apart.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/nbkernel/internal/session"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "NBKERNEL"

// Keys. Flag names use dashes; environment names are NBKERNEL_ plus the key
// upper-cased with underscores.
const (
	KeyNotebookID        = "notebook-id"
	KeySyncURL           = "sync-url"
	KeyAuthToken         = "auth-token"
	KeyKernelType        = "kernel-type"
	KeyHeartbeatInterval = "heartbeat-interval"
	KeyHeartbeatTimeout  = "heartbeat-timeout"
	KeySyncInterval      = "sync-interval"
	KeyStatusAddr        = "status-addr"
	KeyMetricsAddr       = "metrics-addr"
	KeyShutdownGrace     = "shutdown-grace"
	KeyCodeCommand       = "code-command"
	KeyAICommand         = "ai-command"
	KeySQLDatabase       = "sql-database"
)

// Defaults.
const (
	DefaultKernelType    = "python"
	DefaultSyncInterval  = 500 * time.Millisecond
	DefaultStatusAddr    = "127.0.0.1:8090"
	DefaultShutdownGrace = 5 * time.Second
	DefaultCodeCommand   = "python3 -"
)

// Config is the resolved kernel configuration.
type Config struct {
	NotebookID string
	// SyncURL locates the event log. For the SQLite log this is a file path.
	SyncURL   string
	AuthToken string

	KernelType        string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SyncInterval      time.Duration

	StatusAddr    string
	MetricsAddr   string
	ShutdownGrace time.Duration

	CodeCommand []string
	AICommand   []string
	SQLDatabase string
}

// EnvName returns the environment variable for key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// New returns a viper instance with type-by-default lookups enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	return v
}

// Register adds a flag for every key to flags and binds it, its
// environment variable and its default into v.
func Register(flags *pflag.FlagSet, v *viper.Viper) {
	registerString(flags, v, KeyNotebookID, "", "notebook identifier (selects the event log)")
	registerString(flags, v, KeySyncURL, "", "event log location (default <notebook-id>.db)")
	registerString(flags, v, KeyAuthToken, "", "optional credential for the sync endpoint")
	registerString(flags, v, KeyKernelType, DefaultKernelType, "kernel type reported by this session")
	registerDuration(flags, v, KeyHeartbeatInterval, session.DefaultHeartbeatInterval, "interval between heartbeats")
	registerDuration(flags, v, KeyHeartbeatTimeout, session.DefaultTimeout, "heartbeat age after which a session is stale")
	registerDuration(flags, v, KeySyncInterval, DefaultSyncInterval, "interval between log catch-ups")
	registerString(flags, v, KeyStatusAddr, DefaultStatusAddr, "listen address for /health and /info (empty disables)")
	registerString(flags, v, KeyMetricsAddr, "", "listen address for Prometheus metrics (empty disables)")
	registerDuration(flags, v, KeyShutdownGrace, DefaultShutdownGrace, "time allowed for a clean shutdown")
	registerString(flags, v, KeyCodeCommand, DefaultCodeCommand, "command that runs code cells, source on stdin")
	registerString(flags, v, KeyAICommand, "", "command that runs ai cells, prompt on stdin (empty disables)")
	registerString(flags, v, KeySQLDatabase, "", "SQLite database for sql cells (default in-memory)")
}

func registerString(flags *pflag.FlagSet, v *viper.Viper, key, value, usage string) {
	if flags.Lookup(key) == nil {
		flags.String(key, value, usage)
	}
	_ = v.BindEnv(key, EnvName(key))
	_ = v.BindPFlag(key, flags.Lookup(key))
	v.SetDefault(key, value)
}

func registerDuration(flags *pflag.FlagSet, v *viper.Viper, key string, value time.Duration, usage string) {
	if flags.Lookup(key) == nil {
		flags.Duration(key, value, usage)
	}
	_ = v.BindEnv(key, EnvName(key))
	_ = v.BindPFlag(key, flags.Lookup(key))
	v.SetDefault(key, value)
}

// ReadFile merges a YAML config file into v. Keys use the flag names.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load resolves and validates the configuration.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		NotebookID:        strings.TrimSpace(v.GetString(KeyNotebookID)),
		SyncURL:           strings.TrimSpace(v.GetString(KeySyncURL)),
		AuthToken:         v.GetString(KeyAuthToken),
		KernelType:        v.GetString(KeyKernelType),
		HeartbeatInterval: v.GetDuration(KeyHeartbeatInterval),
		HeartbeatTimeout:  v.GetDuration(KeyHeartbeatTimeout),
		SyncInterval:      v.GetDuration(KeySyncInterval),
		StatusAddr:        v.GetString(KeyStatusAddr),
		MetricsAddr:       v.GetString(KeyMetricsAddr),
		ShutdownGrace:     v.GetDuration(KeyShutdownGrace),
		CodeCommand:       strings.Fields(v.GetString(KeyCodeCommand)),
		AICommand:         strings.Fields(v.GetString(KeyAICommand)),
		SQLDatabase:       v.GetString(KeySQLDatabase),
	}
	if cfg.SyncURL == "" && cfg.NotebookID != "" {
		cfg.SyncURL = cfg.NotebookID + ".db"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the kernel cannot run with.
// All problems are reported together.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.NotebookID == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is required (flag --%s or %s)", KeyNotebookID, KeyNotebookID, EnvName(KeyNotebookID)))
	}
	if c.HeartbeatInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", KeyHeartbeatInterval))
	}
	if c.HeartbeatTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", KeyHeartbeatTimeout))
	}
	if c.HeartbeatInterval > 0 && c.HeartbeatTimeout > 0 && c.HeartbeatInterval >= c.HeartbeatTimeout {
		errs = multierror.Append(errs, fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			KeyHeartbeatInterval, c.HeartbeatInterval, KeyHeartbeatTimeout, c.HeartbeatTimeout))
	}
	if c.SyncInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", KeySyncInterval))
	}
	if c.ShutdownGrace < 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must not be negative", KeyShutdownGrace))
	}
	if c.KernelType == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s must not be empty", KeyKernelType))
	}
	return errs.ErrorOrNil()
}
