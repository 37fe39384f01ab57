package extension

import (
	"archive/zip"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
)

const testManifest = `{
  "dxt_version": "0.1",
  "name": "weather",
  "display_name": "Weather Tools",
  "version": "1.2.0",
  "server": {
    "type": "node",
    "entry_point": "server/index.js",
    "mcp_config": {
      "command": "node",
      "args": ["${__dirname}/server/index.js", "--units", "${user_config.units}"],
      "env": {"WEATHER_API_KEY": "${user_config.api_key}"}
    }
  },
  "user_config": {
    "api_key": {"type": "string", "title": "API key", "required": true, "sensitive": true},
    "units": {"type": "string", "title": "Units", "default": "metric"}
  }
}`

// writeBundle writes a zip archive with the given entries and returns its path
func writeBundle(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.dxt")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

type testInstaller struct {
	*Installer
	tempRoot    string
	installRoot string
	secrets     *secret.MemoryStore
}

func newTestInstaller(t *testing.T) *testInstaller {
	t.Helper()
	base := t.TempDir()
	ti := &testInstaller{
		tempRoot:    filepath.Join(base, "tmp"),
		installRoot: filepath.Join(base, "Context", "dxt"),
		secrets:     secret.NewMemoryStore(),
	}
	require.NoError(t, os.MkdirAll(ti.tempRoot, 0o755))
	ti.Installer = NewInstaller(InstallerConfig{
		InstallRoot:      ti.installRoot,
		TempRoot:         ti.tempRoot,
		AllowedTempRoots: []string{ti.tempRoot},
		Secrets:          ti.secrets,
	}, zaptest.NewLogger(t))
	return ti
}

// snapshot maps every file under dir to its content
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
