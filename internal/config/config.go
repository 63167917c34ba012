// Package config loads collector configuration from a YAML file with
// environment overrides.
//
// Lookup order: the path given on the command line, then ./collector.yaml,
// then ~/.config/arbitragexplus/collector.yaml. Environment variables use
// the ARBX_ prefix with underscores (ARBX_EXCEL_PATH overrides excel.path).
// Missing files are not an error; every setting has a default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/ratelimit"
)

// Config is the full collector configuration.
type Config struct {
	Excel      ExcelConfig                 `mapstructure:"excel" yaml:"excel"`
	Watch      WatchConfig                 `mapstructure:"watch" yaml:"watch"`
	Snapshot   SnapshotConfig              `mapstructure:"snapshot" yaml:"snapshot"`
	Journal    JournalConfig               `mapstructure:"journal" yaml:"journal"`
	Log        LogConfig                   `mapstructure:"log" yaml:"log"`
	Sources    SourcesConfig               `mapstructure:"sources" yaml:"sources"`
	RateLimits map[string]ratelimit.Config `mapstructure:"rate_limits" yaml:"rate_limits"`
}

// ExcelConfig locates the workbook.
type ExcelConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Sheet string `mapstructure:"sheet" yaml:"sheet"`
}

// WatchConfig tunes the sync loop.
type WatchConfig struct {
	KeyColumn         string        `mapstructure:"key_column" yaml:"key_column"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StartRow          int           `mapstructure:"start_row" yaml:"start_row"`
	EndRow            int           `mapstructure:"end_row" yaml:"end_row"`
	MaxConcurrentRows int           `mapstructure:"max_concurrent_rows" yaml:"max_concurrent_rows"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

// SnapshotConfig locates snapshot persistence.
type SnapshotConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// JournalConfig tunes the change journal.
type JournalConfig struct {
	Path      string        `mapstructure:"path" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// LogConfig controls the rotating daemon log. An empty file logs to
// stderr only.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// SourcesConfig tunes the upstream clients.
type SourcesConfig struct {
	DefiLlamaURL string        `mapstructure:"defillama_url" yaml:"defillama_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Load reads configuration. path may be empty to use the search paths.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ARBX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("collector")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "arbitragexplus"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default for every setting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("excel.path", "data/ARBITRAGEXPLUS2025.xlsx")
	v.SetDefault("excel.sheet", "BLOCKCHAINS")

	v.SetDefault("watch.key_column", "NAME")
	v.SetDefault("watch.poll_interval", "1s")
	v.SetDefault("watch.start_row", 2)
	v.SetDefault("watch.end_row", 100)
	v.SetDefault("watch.max_concurrent_rows", 4)
	v.SetDefault("watch.fetch_timeout", "15s")

	v.SetDefault("snapshot.dir", ".snapshots")

	v.SetDefault("journal.path", ".snapshots/journal.db")
	v.SetDefault("journal.retention", "168h")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("sources.defillama_url", "")
	v.SetDefault("sources.timeout", "10s")
}

// Dump renders the effective configuration as YAML for `config show`.
func (c *Config) Dump() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}
