// Package disk provides a queue.Store backed by JSON files in a local directory.
package disk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/auto-assign/pkg/queue"
)

const (
	dirPerms  = 0o700
	filePerms = 0o600
)

// fileRecord is the on-disk representation of a rotation record.
type fileRecord struct {
	UpdatedAt  time.Time `json:"updated_at"`
	Repository string    `json:"repository"`
	Team       string    `json:"team"`
	Order      []string  `json:"order"`
	Version    int64     `json:"version"`
}

// Store keeps one file per key. Compare-and-swap is serialized within this process only;
// processes sharing a directory must not run concurrently.
type Store struct {
	dir string
	mu  sync.Mutex
}

var _ queue.Store = (*Store)(nil)

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	cleanPath := filepath.Clean(dir)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("queue directory must be absolute path")
	}
	if err := os.MkdirAll(cleanPath, dirPerms); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}
	return &Store{dir: cleanPath}, nil
}

// Load returns the record for key.
func (s *Store) Load(_ context.Context, key queue.Key) (queue.Record, error) {
	if err := key.Validate(); err != nil {
		return queue.Record{}, queue.ReadError(key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found, err := s.read(key)
	if err != nil {
		return queue.Record{}, queue.ReadError(key, err)
	}
	if !found {
		return queue.Record{}, nil
	}
	return queue.Record{Order: rec.Order, Version: rec.Version, Found: true}, nil
}

// Save writes order for key if the stored version matches expectedVersion.
func (s *Store) Save(_ context.Context, key queue.Key, order []string, expectedVersion int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, queue.WriteError(key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, _, err := s.read(key)
	if err != nil {
		return 0, queue.WriteError(key, err)
	}
	if current.Version != expectedVersion {
		return 0, queue.ErrConflict
	}

	if order == nil {
		order = []string{}
	}
	rec := fileRecord{
		Repository: key.Repository,
		Team:       key.Team,
		Order:      order,
		Version:    expectedVersion + 1,
		UpdatedAt:  time.Now(),
	}
	if err := s.write(key, rec); err != nil {
		return 0, queue.WriteError(key, err)
	}

	slog.Debug("Queue record written", "component", "queue", "key", key.String(), "version", rec.Version)
	return rec.Version, nil
}

// path returns the file holding key, named by a SHA256 of the key.
func (s *Store) path(key queue.Key) string {
	hash := sha256.Sum256([]byte(key.String()))
	return filepath.Join(s.dir, hex.EncodeToString(hash[:])+".json")
}

func (s *Store) read(key queue.Key) (fileRecord, bool, error) {
	var rec fileRecord

	file, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("opening queue file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Debug("Failed to close queue file", "component", "queue", "error", err)
		}
	}()

	if err := json.NewDecoder(file).Decode(&rec); err != nil {
		return rec, false, fmt.Errorf("decoding queue file: %w", err)
	}
	return rec, true, nil
}

// write saves rec atomically via a temp file and rename.
func (s *Store) write(key queue.Key, rec fileRecord) error {
	path := s.path(key)
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerms)
	if err != nil {
		return fmt.Errorf("creating queue file: %w", err)
	}

	if err := json.NewEncoder(file).Encode(rec); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encoding queue data: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing queue file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming queue file: %w", err)
	}

	return nil
}
