package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "MCPCTX"
	ConfigFileName = "mcpctx.json"
)

// Load reads configuration from a JSON file, environment and defaults.
// An empty path means defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if path != "" {
		// viper lowercases map keys, which would corrupt env and user_config names
		if err := loadServers(path, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	for _, server := range cfg.Servers {
		if server.Created.IsZero() {
			server.Created = now()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadServers(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var raw struct {
		Servers []*ServerConfig `json:"servers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse servers: %w", err)
	}
	cfg.Servers = raw.Servers
	if cfg.Servers == nil {
		cfg.Servers = []*ServerConfig{}
	}
	return nil
}

// setupViper configures env handling and defaults
func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("data-dir", "")
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.enable-console", d.Logging.EnableConsole)
	v.SetDefault("logging.enable-file", d.Logging.EnableFile)
	v.SetDefault("logging.filename", d.Logging.Filename)
	v.SetDefault("logging.max-size", d.Logging.MaxSize)
	v.SetDefault("logging.max-backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max-age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("refresh.interval", d.Refresh.Interval)
	v.SetDefault("refresh.lookahead", d.Refresh.Lookahead)
	v.SetDefault("observability.metrics-listen", d.Observability.MetricsListen)
	v.SetDefault("observability.sample-rate", d.Observability.SampleRate)
}

// Helper function to get current time (useful for testing)
var now = time.Now
