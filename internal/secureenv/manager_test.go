package secureenv

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEnvConfig(t *testing.T) {
	config := DefaultEnvConfig()

	require.NotNil(t, config)
	assert.True(t, config.InheritSystemSafe)
	assert.NotNil(t, config.CustomVars)

	allowedVars := config.AllowedSystemVars
	assert.Contains(t, allowedVars, "PATH")
	assert.Contains(t, allowedVars, "HOME")
	assert.Contains(t, allowedVars, "SHELL")

	if runtime.GOOS == "windows" {
		assert.Contains(t, allowedVars, "USERPROFILE")
	} else {
		assert.Contains(t, allowedVars, "XDG_DATA_HOME")
	}
}

func newTestManager(config *EnvConfig, env []string) *Manager {
	m := NewManager(config)
	m.environ = func() []string { return env }
	return m
}

func TestBuildSecureEnvironment(t *testing.T) {
	env := []string{"PATH=/usr/bin", "SECRET_TOKEN=leak", "LC_ALL=C", "HOME=/home/u"}

	t.Run("filters disallowed vars", func(t *testing.T) {
		m := newTestManager(nil, env)
		got := m.BuildSecureEnvironment()
		assert.Contains(t, got, "PATH=/usr/bin")
		assert.Contains(t, got, "LC_ALL=C")
		assert.NotContains(t, got, "SECRET_TOKEN=leak")
	})

	t.Run("no inheritance keeps only custom vars", func(t *testing.T) {
		m := newTestManager(&EnvConfig{CustomVars: map[string]string{"A": "1"}}, env)
		assert.Equal(t, []string{"A=1"}, m.BuildSecureEnvironment())
	})
}

func TestMerge(t *testing.T) {
	m := newTestManager(nil, []string{"PATH=/usr/bin", "HOME=/home/u"})

	got := m.Merge(map[string]string{"PATH": "/opt/bin", "API_KEY": "k"})

	assert.Equal(t, []string{"API_KEY=k", "HOME=/home/u", "PATH=/opt/bin"}, got)
}

func TestGetSystemEnvVar(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	t.Setenv("NOT_ALLOWED_VAR", "x")
	m := NewManager(nil)

	v, ok := m.GetSystemEnvVar("HOME")
	assert.True(t, ok)
	assert.Equal(t, "/home/test", v)

	_, ok = m.GetSystemEnvVar("NOT_ALLOWED_VAR")
	assert.False(t, ok)
}
