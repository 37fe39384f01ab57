package secureenv

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

const osWindows = "windows"

// EnvConfig represents environment configuration for secure filtering
type EnvConfig struct {
	InheritSystemSafe bool              `json:"inherit_system_safe" mapstructure:"inherit-system-safe"`
	AllowedSystemVars []string          `json:"allowed_system_vars" mapstructure:"allowed-system-vars"`
	CustomVars        map[string]string `json:"custom_vars" mapstructure:"custom-vars"`
}

// DefaultEnvConfig returns default environment configuration with safe system variables
func DefaultEnvConfig() *EnvConfig {
	allowedVars := []string{
		"PATH",
		"HOME",
		"TMPDIR",
		"TEMP",
		"TMP",
		"SHELL",
		"TERM",
		"LANG",
		"USER",
		"USERNAME",
		"LC_*",
	}

	if runtime.GOOS == osWindows {
		allowedVars = append(allowedVars,
			"USERPROFILE",
			"APPDATA",
			"LOCALAPPDATA",
			"PROGRAMFILES",
			"SYSTEMROOT",
			"COMSPEC",
		)
	} else {
		allowedVars = append(allowedVars,
			"XDG_CONFIG_HOME",
			"XDG_DATA_HOME",
			"XDG_CACHE_HOME",
			"XDG_RUNTIME_DIR",
		)
	}

	return &EnvConfig{
		InheritSystemSafe: true,
		AllowedSystemVars: allowedVars,
		CustomVars:        make(map[string]string),
	}
}

// Manager handles secure environment variable filtering
type Manager struct {
	config  *EnvConfig
	environ func() []string
}

// NewManager creates a new secure environment manager
func NewManager(config *EnvConfig) *Manager {
	if config == nil {
		config = DefaultEnvConfig()
	}
	return &Manager{config: config, environ: os.Environ}
}

// BuildSecureEnvironment builds the inherited environment for a subprocess
func (m *Manager) BuildSecureEnvironment() []string {
	var envVars []string

	if m.config.InheritSystemSafe {
		for _, envVar := range m.environ() {
			if m.isKeyAllowed(keyOf(envVar)) {
				envVars = append(envVars, envVar)
			}
		}
	}

	for k, v := range m.config.CustomVars {
		envVars = append(envVars, k+"="+v)
	}

	return envVars
}

// Merge overlays per-server variables on the secure environment.
// Later keys win; the result is sorted for stable process launches.
func (m *Manager) Merge(overrides map[string]string) []string {
	merged := make(map[string]string)
	for _, envVar := range m.BuildSecureEnvironment() {
		k, v, _ := strings.Cut(envVar, "=")
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// GetSystemEnvVar safely gets a system environment variable.
func (m *Manager) GetSystemEnvVar(key string) (string, bool) {
	if !m.isKeyAllowed(key) {
		return "", false
	}

	value := os.Getenv(key)
	return value, value != ""
}

func keyOf(envVar string) string {
	k, _, _ := strings.Cut(envVar, "=")
	return k
}

// isKeyAllowed checks if a key is in the allowed list
func (m *Manager) isKeyAllowed(key string) bool {
	if _, exists := m.config.CustomVars[key]; exists {
		return true
	}

	for _, allowedKey := range m.config.AllowedSystemVars {
		if strings.HasSuffix(allowedKey, "*") {
			if strings.HasPrefix(key, strings.TrimSuffix(allowedKey, "*")) {
				return true
			}
		} else if strings.EqualFold(allowedKey, key) {
			return true
		}
	}
	return false
}
