// Package config loads flowbuttons settings from an optional YAML file and
// FLOWBUTTONS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/emanuelegissi/flowbuttons/storage"
	"github.com/emanuelegissi/flowbuttons/types"
	"github.com/emanuelegissi/flowbuttons/workflow"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// EnvPrefix prefixes every environment override, e.g. FLOWBUTTONS_STORAGE_BACKEND.
const EnvPrefix = "FLOWBUTTONS"

// Config holds application configuration.
type Config struct {
	Tables  TablesConfig  `mapstructure:"tables"`
	Mapping MappingConfig `mapstructure:"mapping"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Trace   TraceConfig   `mapstructure:"trace"`
}

// TablesConfig names the document tables.
type TablesConfig struct {
	Actions  string `mapstructure:"actions"`
	Modules  string `mapstructure:"modules"`
	Selected string `mapstructure:"selected"`
}

// MappingConfig maps the roles the engine needs onto columns of the selected table.
type MappingConfig struct {
	Process   string   `mapstructure:"process"`
	Status    string   `mapstructure:"status"`
	Error     string   `mapstructure:"error"`
	Duplicate []string `mapstructure:"duplicate"`
}

// StorageConfig selects and configures the table store.
type StorageConfig struct {
	Backend string               `mapstructure:"backend"`
	Redis   storage.RedisOptions `mapstructure:"redis"`
	SQLite  SQLiteConfig         `mapstructure:"sqlite"`
}

// SQLiteConfig holds sqlite settings.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TraceConfig holds tracing settings. An empty output disables tracing, "-" is stdout.
type TraceConfig struct {
	Output string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tables.actions", workflow.DefaultActionsTable)
	v.SetDefault("tables.modules", workflow.DefaultModulesTable)
	v.SetDefault("tables.selected", "Requests")
	v.SetDefault("mapping.process", "Process")
	v.SetDefault("mapping.status", "Status")
	v.SetDefault("mapping.error", "Error")
	v.SetDefault("mapping.duplicate", []string{})
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 0)
	v.SetDefault("storage.redis.idle_timeout", 5*time.Minute)
	v.SetDefault("storage.redis.key_prefix", "flowbuttons:")
	v.SetDefault("storage.sqlite.path", "flowbuttons.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("trace.output", "")
}

// Load reads configuration from path and the environment. With an empty path
// flowbuttons.yaml is looked up in the working directory and in
// $HOME/.config/flowbuttons; a missing file there is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowbuttons")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "flowbuttons"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values a command cannot run without.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Tables.Selected == "" {
		return errors.New("tables.selected is required")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ColumnMapping returns the widget column mapping.
func (c Config) ColumnMapping() types.ColumnMapping {
	return types.ColumnMapping{
		Process:   c.Mapping.Process,
		Status:    c.Mapping.Status,
		Error:     c.Mapping.Error,
		Duplicate: c.Mapping.Duplicate,
	}
}

// Engine returns the engine configuration.
func (c Config) Engine() workflow.Config {
	return workflow.Config{
		ActionsTable:  c.Tables.Actions,
		ModulesTable:  c.Tables.Modules,
		SelectedTable: c.Tables.Selected,
	}
}

// SlogLevel parses the level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", l.Level)
	}
	return level, nil
}

// OpenStore opens the configured backend. On success the close function is never nil.
func (s StorageConfig) OpenStore() (storage.Seeder, func() error, error) {
	switch s.Backend {
	case BackendRedis:
		rs, err := storage.NewRedisStore(s.Redis)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	case BackendSQLite:
		ss, err := storage.OpenSQLite(s.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return ss, ss.Close, nil
	case BackendMemory, "":
		return storage.NewMemoryStore(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", s.Backend)
}
