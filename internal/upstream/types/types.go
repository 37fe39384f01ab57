// Package types holds the connection state machine shared by client handles.
package types

import (
	"fmt"
	"sync"
	"time"
)

// ConnectionState represents the state of a client handle
type ConnectionState int

const (
	// StateDisconnected is the initial state and the state after teardown or a failed connect
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connect attempt is in progress
	StateConnecting
	// StateConnected indicates the initialize handshake succeeded
	StateConnected
	// StateDisconnecting indicates teardown is in progress
	StateDisconnecting
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// ConnectionInfo is a snapshot of a handle's state
type ConnectionInfo struct {
	State         ConnectionState `json:"state"`
	LastError     error           `json:"-"`
	ServerName    string          `json:"server_name,omitempty"`
	ServerVersion string          `json:"server_version,omitempty"`
	ConnectedAt   time.Time       `json:"connected_at,omitempty"`
}

// StateChangeFunc is called after every transition, outside the state lock
type StateChangeFunc func(oldState, newState ConnectionState, info ConnectionInfo)

// StateManager tracks the state of one handle
type StateManager struct {
	mu            sync.RWMutex
	currentState  ConnectionState
	lastError     error
	serverName    string
	serverVersion string
	connectedAt   time.Time

	onStateChange StateChangeFunc
}

// NewStateManager creates a new state manager
func NewStateManager() *StateManager {
	return &StateManager{
		currentState: StateDisconnected,
	}
}

// SetStateChangeCallback sets the function called on state changes
func (sm *StateManager) SetStateChangeCallback(callback StateChangeFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStateChange = callback
}

// GetState returns the current connection state
func (sm *StateManager) GetState() ConnectionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// GetConnectionInfo returns detailed connection information
func (sm *StateManager) GetConnectionInfo() ConnectionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.infoLocked()
}

func (sm *StateManager) infoLocked() ConnectionInfo {
	return ConnectionInfo{
		State:         sm.currentState,
		LastError:     sm.lastError,
		ServerName:    sm.serverName,
		ServerVersion: sm.serverVersion,
		ConnectedAt:   sm.connectedAt,
	}
}

// TransitionTo moves to newState. Invalid transitions are applied anyway
// and reported through the returned error.
func (sm *StateManager) TransitionTo(newState ConnectionState) error {
	sm.mu.Lock()
	oldState := sm.currentState
	err := ValidateTransition(oldState, newState)

	sm.currentState = newState
	switch newState {
	case StateConnected:
		sm.lastError = nil
		sm.connectedAt = time.Now()
	case StateDisconnected:
		sm.connectedAt = time.Time{}
	}

	info := sm.infoLocked()
	callback := sm.onStateChange
	sm.mu.Unlock()

	// Call the callback outside the lock to avoid deadlocks
	if callback != nil && oldState != newState {
		callback(oldState, newState, info)
	}
	return err
}

// Fail records err and returns to StateDisconnected
func (sm *StateManager) Fail(err error) {
	sm.mu.Lock()
	sm.lastError = err
	sm.mu.Unlock()

	_ = sm.TransitionTo(StateDisconnected)
}

// SetServerInfo records what the server reported during initialize
func (sm *StateManager) SetServerInfo(name, version string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.serverName = name
	sm.serverVersion = version
}

// IsState checks if the current state matches the given state
func (sm *StateManager) IsState(state ConnectionState) bool {
	return sm.GetState() == state
}

// IsConnected returns true once the handshake has succeeded
func (sm *StateManager) IsConnected() bool {
	return sm.IsState(StateConnected)
}

// ValidateTransition reports whether from -> to is part of the lifecycle
func ValidateTransition(from, to ConnectionState) error {
	validTransitions := map[ConnectionState][]ConnectionState{
		StateDisconnected:  {StateConnecting, StateDisconnecting},
		StateConnecting:    {StateConnected, StateDisconnected},
		StateConnected:     {StateDisconnecting},
		StateDisconnecting: {StateDisconnected},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid source state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid transition from %s to %s", from, to)
}
