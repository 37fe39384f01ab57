package upstream

import (
	"sync"
	"time"

	"github.com/smart-mcp-proxy/mcpctx/internal/upstream/types"
)

// StateChange describes one transition of a client handle
type StateChange struct {
	ServerID  string
	From      types.ConnectionState
	To        types.ConnectionState
	Info      types.ConnectionInfo
	Timestamp time.Time
}

// StateChangeHandler receives state changes. Handlers run synchronously on
// the goroutine that caused the transition and must not block.
type StateChangeHandler func(change StateChange)

type notifier struct {
	mu       sync.RWMutex
	handlers []StateChangeHandler
}

func (n *notifier) add(handler StateChangeHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

func (n *notifier) dispatch(change StateChange) {
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}

	n.mu.RLock()
	handlers := make([]StateChangeHandler, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.RUnlock()

	for _, handler := range handlers {
		handler(change)
	}
}
