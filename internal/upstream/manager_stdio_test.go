package upstream

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
	"github.com/smart-mcp-proxy/mcpctx/internal/transport"
	"github.com/smart-mcp-proxy/mcpctx/internal/upstream/types"
)

func TestFailedStdioServerIsSpawnedAgain(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}

	counter := filepath.Join(t.TempDir(), "spawns")
	factory := transport.NewFactory(transport.FactoryConfig{
		Secrets: secret.NewMemoryStore(),
	}, zap.NewNop())

	m := NewManager(ManagerConfig{
		Transports: factory,
		Servers:    &fakeServerStore{},
		Refresher:  &fakeRefresher{},
	}, zap.NewNop())
	t.Cleanup(func() { require.NoError(t, m.Close(bg())) })

	server := &config.ServerConfig{
		ID:      "crashy",
		Kind:    config.KindStdio,
		Command: "sh",
		Args:    []string{"-c", "echo x >> " + counter + "; exit 1"},
	}

	_, err := m.CreateUnconnectedClient(bg(), server)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(bg(), 10*time.Second)
		_, err := m.Client(ctx, server)
		cancel()
		require.Error(t, err)
	}

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "x"), "each attempt launches the process")
	assert.Equal(t, types.StateDisconnected, m.ConnectionState("crashy"))
}
