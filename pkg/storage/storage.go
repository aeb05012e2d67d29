// Package storage selects and opens the rotation store from process configuration.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/codeGROOVE-dev/auto-assign/pkg/queue"
	"github.com/codeGROOVE-dev/auto-assign/pkg/queue/disk"
	"github.com/codeGROOVE-dev/auto-assign/pkg/queue/memory"
	"github.com/codeGROOVE-dev/auto-assign/pkg/queue/postgres"
)

// Storage types.
const (
	TypeMemory   = "memory"
	TypeDisk     = "disk"
	TypePostgres = "postgres"
)

const (
	defaultStorageType = TypeDisk
	defaultDBHost      = "localhost"
	defaultDBPort      = "5432"
	defaultDBUser      = "auto_assign"
	defaultDBPassword  = "auto_assign"
	defaultDBName      = "auto_assign"
	defaultDBSSLMode   = "disable"
	defaultDBMaxConns  = 4
)

// Config selects a store.
type Config struct {
	Type     string
	Dir      string // disk store directory
	Postgres PostgresConfig
}

// PostgresConfig holds connection settings. URL wins over the individual fields.
type PostgresConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// DSN returns the connection string.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// FromEnv reads STORAGE_TYPE, QUEUE_DIR, DATABASE_URL and DB_* variables.
func FromEnv() Config {
	return Config{
		Type: getenvDefault("STORAGE_TYPE", defaultStorageType),
		Dir:  getenvDefault("QUEUE_DIR", defaultDir()),
		Postgres: PostgresConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getenvDefault("DB_HOST", defaultDBHost),
			Port:     getenvDefault("DB_PORT", defaultDBPort),
			User:     getenvDefault("DB_USER", defaultDBUser),
			Password: getenvDefault("DB_PASSWORD", defaultDBPassword),
			DBName:   getenvDefault("DB_NAME", defaultDBName),
			SSLMode:  getenvDefault("DB_SSL_MODE", defaultDBSSLMode),
			MaxConns: int32(getenvInt("DB_MAX_CONNS", defaultDBMaxConns)),
		},
	}
}

// Open builds the configured store. The returned cleanup func is never nil on success.
func Open(ctx context.Context, cfg Config) (queue.Store, func(), error) {
	switch cfg.Type {
	case TypeMemory:
		return memory.New(), func() {}, nil
	case TypeDisk:
		store, err := disk.New(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case TypePostgres:
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN(), MaxConns: cfg.Postgres.MaxConns})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func defaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "auto-assign", "queues")
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return i
}
