package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpctx/internal/config"
)

// ErrServerNotFound is returned when no record exists for an id
var ErrServerNotFound = errors.New("server not found")

// ConfigStore is read/write access to server configuration records
type ConfigStore interface {
	ListServers(ctx context.Context) ([]*config.ServerConfig, error)
	GetServer(ctx context.Context, id string) (*config.ServerConfig, error)
	UpdateServer(ctx context.Context, server *config.ServerConfig) error
	DeleteServer(ctx context.Context, id string) error
}

// BoltDB stores server records as JSON in a bbolt file
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

var _ ConfigStore = (*BoltDB)(nil)

// NewBoltDB opens (or creates) <dataDir>/config.db
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	dbPath := filepath.Join(dataDir, "config.db")

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		logger.Warnf("Failed to open database on first attempt: %v", err)

		// A stale lock from a crashed process shows up as a timeout
		if errors.Is(err, bolterrors.ErrTimeout) {
			backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
			logger.Infof("Database timeout detected, moving it aside to %s", backupPath)

			if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
				logger.Warnf("Failed to create backup: %v", cpErr)
			}
			if rmErr := os.Remove(dbPath); rmErr != nil {
				logger.Warnf("Failed to remove locked database file: %v", rmErr)
			}

			db, err = bbolt.Open(dbPath, 0600, &bbolt.Options{
				Timeout: 5 * time.Second,
			})
		}

		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database after recovery attempt: %w", err)
		}
	}

	boltDB := &BoltDB{
		db:     db,
		logger: logger,
	}

	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{ServersBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the current schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		versionBytes := tx.Bucket([]byte(MetaBucket)).Get([]byte(SchemaVersionKey))
		if versionBytes != nil {
			version = binary.LittleEndian.Uint64(versionBytes)
		}
		return nil
	})
	return version, err
}

// ListServers returns every record ordered by id
func (b *BoltDB) ListServers(_ context.Context) ([]*config.ServerConfig, error) {
	var servers []*config.ServerConfig

	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ServersBucket)).ForEach(func(k, v []byte) error {
			var server config.ServerConfig
			if err := json.Unmarshal(v, &server); err != nil {
				b.logger.Warnf("Skipping unreadable server record %s: %v", string(k), err)
				return nil
			}
			servers = append(servers, &server)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	return servers, nil
}

// GetServer returns one record or ErrServerNotFound
func (b *BoltDB) GetServer(_ context.Context, id string) (*config.ServerConfig, error) {
	var server *config.ServerConfig

	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ServersBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		server = &config.ServerConfig{}
		return json.Unmarshal(data, server)
	})
	if err != nil {
		return nil, err
	}
	return server, nil
}

// UpdateServer inserts or replaces a record
func (b *BoltDB) UpdateServer(_ context.Context, server *config.ServerConfig) error {
	if server == nil || server.ID == "" {
		return fmt.Errorf("server id is required")
	}

	record := server.Clone()
	record.Updated = time.Now()
	if record.Created.IsZero() {
		record.Created = record.Updated
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal server %s: %w", server.ID, err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ServersBucket)).Put([]byte(record.ID), data)
	})
}

// DeleteServer removes a record; missing records are not an error
func (b *BoltDB) DeleteServer(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ServersBucket)).Delete([]byte(id))
	})
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
