package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/cli/output"
	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
	"github.com/smart-mcp-proxy/mcpctx/internal/transport"
)

const bundleManifest = `{
  "dxt_version": "0.1",
  "name": "weather",
  "version": "%s",
  "server": {
    "type": "node",
    "entry_point": "server/index.js",
    "mcp_config": {"command": "node", "args": ["${__dirname}/server/index.js"]}
  },
  "user_config": {
    "api_key": {"type": "string", "title": "API key", "required": true, "sensitive": true}
  }
}`

type testApp struct {
	*app
	secrets *secret.MemoryStore
	tempDir string
	out     *bytes.Buffer
}

func newTestApp(t *testing.T, servers ...*config.ServerConfig) *testApp {
	t.Helper()
	base := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.ExtensionsDir = filepath.Join(base, "dxt")
	cfg.Extensions = &config.ExtensionConfig{TempRoot: filepath.Join(base, "tmp")}
	cfg.Extensions.TempRoots = []string{cfg.Extensions.TempRoot}
	cfg.Servers = servers
	require.NoError(t, cfg.Validate())
	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o700))

	secrets := secret.NewMemoryStore()
	a, err := wireApp(cfg, zap.NewNop(), nil, secrets)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	prevOut, prevFormat := stdout, outputFormat
	stdout, outputFormat = out, "json"
	t.Cleanup(func() {
		stdout, outputFormat = prevOut, prevFormat
		a.close(bg())
	})

	return &testApp{app: a, secrets: secrets, tempDir: cfg.Extensions.TempRoot, out: out}
}

func writeTestBundle(t *testing.T, version string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weather.dxt")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for name, content := range map[string]string{
		"manifest.json":   fmt.Sprintf(bundleManifest, version),
		"server/index.js": "console.log('weather')\n",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

// lastRecord decodes the most recent JSON object written to the output buffer
func (ta *testApp) lastRecord(t *testing.T) map[string]string {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(ta.out.Bytes()))
	var record map[string]string
	for dec.More() {
		record = nil
		require.NoError(t, dec.Decode(&record))
	}
	return record
}

func assertNoTempResidue(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtInstallStoresRecordAndSecret(t *testing.T) {
	ta := newTestApp(t)
	archive := writeTestBundle(t, "1.0.0")

	opts := &extInstallOptions{values: map[string]string{"api_key": "sk-test"}}
	require.NoError(t, runExtInstall(bg(), ta.app, archive, opts))
	assert.Equal(t, "weather", ta.lastRecord(t)["id"])

	record, err := ta.store.GetServer(bg(), "weather")
	require.NoError(t, err)
	assert.Equal(t, config.KindDXT, record.Kind)
	assert.Equal(t, ta.installer.InstallDir("weather"), record.InstallPath)

	ref, err := secret.ParseRef(record.UserConfig["api_key"])
	require.NoError(t, err)
	value, err := ta.secrets.Get(bg(), ref.Name)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", string(value))

	require.NoError(t, runExtVersion(bg(), ta.app, "weather"))
	assert.Equal(t, "1.0.0", ta.lastRecord(t)["version"])
	assertNoTempResidue(t, ta.tempDir)
}

func TestExtInstallRejectsSameVersionWithoutForce(t *testing.T) {
	ta := newTestApp(t)
	opts := &extInstallOptions{values: map[string]string{"api_key": "sk-test"}}
	require.NoError(t, runExtInstall(bg(), ta.app, writeTestBundle(t, "1.0.0"), opts))

	err := runExtInstall(bg(), ta.app, writeTestBundle(t, "1.0.0"), opts)
	require.Error(t, err)
	assert.Equal(t, output.CodeInstallFailed, classifyError(err).Code)
	assertNoTempResidue(t, ta.tempDir)

	require.NoError(t, runExtInstall(bg(), ta.app, writeTestBundle(t, "1.1.0"), opts))
	require.NoError(t, runExtVersion(bg(), ta.app, "weather"))
	assert.Equal(t, "1.1.0", ta.lastRecord(t)["version"])

	opts.force = true
	require.NoError(t, runExtInstall(bg(), ta.app, writeTestBundle(t, "1.0.0"), opts))
}

func TestExtInstallMissingRequiredValue(t *testing.T) {
	ta := newTestApp(t)

	err := runExtInstall(bg(), ta.app, writeTestBundle(t, "1.0.0"), &extInstallOptions{})
	require.Error(t, err)
	assert.Equal(t, output.CodeMissingConfiguration, classifyError(err).Code)
	assertNoTempResidue(t, ta.tempDir)

	_, err = ta.app.server(bg(), "weather")
	assert.Equal(t, ExitCodeNotFound, exitCodeFor(err))
}

func TestServersListSeedsFromConfig(t *testing.T) {
	ta := newTestApp(t,
		&config.ServerConfig{ID: "local", Kind: config.KindStdio, Command: "echo", Enabled: true},
		&config.ServerConfig{ID: "remote", Kind: config.KindStreamableHTTP, URL: "https://example.com/mcp"},
	)

	require.NoError(t, runServersList(bg(), ta.app))

	var rows []map[string]string
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "local", rows[0]["ID"])
	assert.Equal(t, "-", rows[0]["CREDENTIAL"])
	assert.Equal(t, "remote", rows[1]["ID"])
	assert.Equal(t, "none", rows[1]["CREDENTIAL"])
}

func TestServersRemove(t *testing.T) {
	ta := newTestApp(t, &config.ServerConfig{ID: "local", Kind: config.KindStdio, Command: "echo"})

	require.NoError(t, runServersRemove(bg(), ta.app, "local"))
	_, err := ta.app.server(bg(), "local")
	assert.Equal(t, output.CodeServerNotFound, classifyError(err).Code)
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain", errors.New("boom"), ExitCodeGeneralError},
		{"not found", serverNotFound("x"), ExitCodeNotFound},
		{"auth", classifyError(fmt.Errorf("connect: %w", transport.ErrAuthorizationRequired)), ExitCodeAuthRequired},
		{"missing", classifyError(&transport.MissingConfigurationError{Field: "api_key"}), ExitCodeMissingConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, exitCodeFor(tt.err))
		})
	}
}

func bg() context.Context {
	return context.Background()
}
