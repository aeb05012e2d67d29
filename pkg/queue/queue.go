// Package queue persists reviewer rotation order per repository and team.
package queue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrConflict is returned by Save when the stored version no longer matches the expected one.
	ErrConflict = errors.New("queue record was modified concurrently")
	// ErrRead wraps failures loading a record.
	ErrRead = errors.New("queue read failed")
	// ErrWrite wraps failures saving a record.
	ErrWrite = errors.New("queue write failed")
)

// Key addresses one rotation record.
type Key struct {
	Repository string // URL-safe repository key, see RepositoryKey
	Team       string
}

// String returns a flat representation of the key, used for file names and logs.
func (k Key) String() string {
	return k.Repository + "/" + url.QueryEscape(k.Team)
}

// Validate checks that both parts of the key are set.
func (k Key) Validate() error {
	if k.Repository == "" {
		return errors.New("queue key missing repository")
	}
	if k.Team == "" {
		return errors.New("queue key missing team")
	}
	return nil
}

// RepositoryKey derives a stable, URL-safe key from a repository's canonical URL.
func RepositoryKey(canonicalURL string) string {
	return url.QueryEscape(strings.TrimSuffix(canonicalURL, "/"))
}

// Record is a stored rotation order.
// Version is zero when no record exists and increases by one on every save.
type Record struct {
	Order   []string
	Version int64
	Found   bool
}

// Store loads and saves rotation records.
//
// Save is a compare-and-swap: it writes order only if the stored version equals
// expectedVersion (zero meaning the record must not exist yet), and returns the new version.
// Records for different keys are independent.
type Store interface {
	Load(ctx context.Context, key Key) (Record, error)
	Save(ctx context.Context, key Key, order []string, expectedVersion int64) (int64, error)
}

// ReadError wraps err as a storage read failure for key.
func ReadError(key Key, err error) error {
	return fmt.Errorf("%w for %s: %w", ErrRead, key, err)
}

// WriteError wraps err as a storage write failure for key.
func WriteError(key Key, err error) error {
	return fmt.Errorf("%w for %s: %w", ErrWrite, key, err)
}
