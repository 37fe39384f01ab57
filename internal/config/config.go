package config

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/smart-mcp-proxy/mcpctx/internal/secureenv"
)

// Server transport kinds
const (
	KindStdio          = "stdio"
	KindStreamableHTTP = "streamable-http"
	KindDXT            = "dxt"
)

const (
	defaultRefreshInterval  = 60 * time.Second
	defaultRefreshLookahead = 5 * time.Minute
	defaultMetricsListen    = "127.0.0.1:9464"
	appDirName              = "Context"
	extensionsDirName       = "dxt"
)

// Config represents the manager configuration
type Config struct {
	DataDir       string          `json:"data_dir" mapstructure:"data-dir"`
	ExtensionsDir string          `json:"extensions_dir,omitempty" mapstructure:"extensions-dir"`
	Servers       []*ServerConfig `json:"servers,omitempty" mapstructure:"servers"`

	// Secure environment variable configuration for subprocess servers
	Environment *secureenv.EnvConfig `json:"environment,omitempty" mapstructure:"environment"`

	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	Refresh       *RefreshConfig       `json:"refresh,omitempty" mapstructure:"refresh"`
	Extensions    *ExtensionConfig     `json:"extensions,omitempty" mapstructure:"extensions"`
	Observability *ObservabilityConfig `json:"observability,omitempty" mapstructure:"observability"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// RefreshConfig controls the background credential scan
type RefreshConfig struct {
	Interval  time.Duration `json:"interval" mapstructure:"interval"`
	Lookahead time.Duration `json:"lookahead" mapstructure:"lookahead"`
}

// ExtensionConfig controls where bundles are unpacked and installed
type ExtensionConfig struct {
	// TempRoots lists the only directories cleanup is allowed to delete under
	TempRoots []string `json:"temp_roots,omitempty" mapstructure:"temp-roots"`
	// TempRoot is where fresh extractions are created; defaults to the OS temp dir
	TempRoot string `json:"temp_root,omitempty" mapstructure:"temp-root"`
}

// ObservabilityConfig enables metrics and tracing
type ObservabilityConfig struct {
	MetricsEnabled bool    `json:"metrics_enabled" mapstructure:"metrics-enabled"`
	MetricsListen  string  `json:"metrics_listen,omitempty" mapstructure:"metrics-listen"`
	TracingEnabled bool    `json:"tracing_enabled" mapstructure:"tracing-enabled"`
	OTLPEndpoint   string  `json:"otlp_endpoint,omitempty" mapstructure:"otlp-endpoint"`
	SampleRate     float64 `json:"sample_rate,omitempty" mapstructure:"sample-rate"`
}

// ServerConfig represents a configured server record
type ServerConfig struct {
	ID      string            `json:"id" mapstructure:"id"`
	Name    string            `json:"name,omitempty" mapstructure:"name"`
	Kind    string            `json:"kind" mapstructure:"kind"` // stdio, streamable-http, dxt
	Command string            `json:"command,omitempty" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`
	URL     string            `json:"url,omitempty" mapstructure:"url"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"` // For HTTP servers

	// Extension bundle fields
	InstallPath string `json:"install_path,omitempty" mapstructure:"install-path"`
	// UserConfig values are either literals or ${secret:<id>} references
	UserConfig map[string]string `json:"user_config,omitempty" mapstructure:"user-config"`

	Enabled bool      `json:"enabled" mapstructure:"enabled"`
	Created time.Time `json:"created" mapstructure:"created"`
	Updated time.Time `json:"updated,omitempty" mapstructure:"updated"`
}

// DisplayName returns Name, falling back to ID
func (s *ServerConfig) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Clone returns a deep copy so callers can mutate maps freely
func (s *ServerConfig) Clone() *ServerConfig {
	if s == nil {
		return nil
	}
	c := *s
	c.Args = append([]string(nil), s.Args...)
	c.Env = cloneMap(s.Env)
	c.Headers = cloneMap(s.Headers)
	c.UserConfig = cloneMap(s.UserConfig)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DefaultDataDir returns <xdg data home>/Context
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, appDirName)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "", // Will be set by loader
		Servers: []*ServerConfig{},

		Environment: secureenv.DefaultEnvConfig(),

		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10, // 10MB
			MaxBackups:    5,  // 5 backup files
			MaxAge:        30, // 30 days
			Compress:      true,
			JSONFormat:    false,
		},

		Refresh: &RefreshConfig{
			Interval:  defaultRefreshInterval,
			Lookahead: defaultRefreshLookahead,
		},

		Extensions: &ExtensionConfig{},

		Observability: &ObservabilityConfig{
			MetricsListen: defaultMetricsListen,
			SampleRate:    1.0,
		},
	}
}

// ExtensionInstallRoot returns the directory holding one subdirectory per installed bundle
func (c *Config) ExtensionInstallRoot() string {
	if c.ExtensionsDir != "" {
		return c.ExtensionsDir
	}
	dataDir := c.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return filepath.Join(dataDir, extensionsDirName)
}

// MarshalJSON implements json.Marshaler interface
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal((*Alias)(c))
}
