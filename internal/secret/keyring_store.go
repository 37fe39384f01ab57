package secret

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ServiceName for keyring entries
const ServiceName = "mcpctx"

// KeyringStore keeps secrets in the OS keyring (Keychain, Secret Service, WinCred)
type KeyringStore struct {
	serviceName string
}

// NewKeyringStore creates a keyring-backed store
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{serviceName: ServiceName}
}

// Get returns the stored bytes or ErrNotFound
func (s *KeyringStore) Get(_ context.Context, key string) ([]byte, error) {
	encoded, err := keyring.Get(s.serviceName, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s from keyring: %w", key, err)
	}

	// Values are base64 so binary blobs survive backends that only hold text
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt keyring entry %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key
func (s *KeyringStore) Set(_ context.Context, key string, value []byte) error {
	if err := keyring.Set(s.serviceName, key, base64.StdEncoding.EncodeToString(value)); err != nil {
		return fmt.Errorf("failed to store secret %s in keyring: %w", key, err)
	}
	return nil
}

// Delete removes key; a missing key is not an error
func (s *KeyringStore) Delete(_ context.Context, key string) error {
	err := keyring.Delete(s.serviceName, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete secret %s from keyring: %w", key, err)
	}
	return nil
}

// IsAvailable checks if the keyring is usable on the current system
func (s *KeyringStore) IsAvailable() bool {
	testKey := "_mcpctx_test_availability"

	if err := keyring.Set(s.serviceName, testKey, "test"); err != nil {
		return false
	}
	if _, err := keyring.Get(s.serviceName, testKey); err != nil {
		return false
	}
	_ = keyring.Delete(s.serviceName, testKey)
	return true
}
