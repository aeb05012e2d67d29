package disk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/codeGROOVE-dev/auto-assign/pkg/queue"
)

func TestNew_RequiresAbsolutePath(t *testing.T) {
	if _, err := New("relative/dir"); err == nil {
		t.Error("expected error for relative path")
	}
}

func TestStore_SaveLoadAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := queue.Key{Repository: queue.RepositoryKey("https://github.com/o/r"), Team: "backend"}

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec, err := s.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Found {
		t.Fatalf("expected no record, got %+v", rec)
	}

	if _, err := s.Save(ctx, key, []string{"c", "d", "b"}, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec, err = reopened.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !rec.Found || rec.Version != 1 || !slices.Equal(rec.Order, []string{"c", "d", "b"}) {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestStore_Conflict(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := queue.Key{Repository: "r", Team: "t"}

	if _, err := s.Save(ctx, key, []string{"a"}, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save(ctx, key, []string{"b"}, 0); !errors.Is(err, queue.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if v, err := s.Save(ctx, key, []string{"b"}, 1); err != nil || v != 2 {
		t.Errorf("Save with current version = %d, %v; want 2, nil", v, err)
	}
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Save(context.Background(), queue.Key{Repository: "r", Team: "t"}, []string{"a"}, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || filepath.Ext(entries[0].Name()) != ".json" {
		t.Errorf("expected a single .json file, got %v", entries)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := queue.Key{Repository: "r", Team: "t"}

	if err := os.WriteFile(s.path(key), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := s.Load(context.Background(), key); !errors.Is(err, queue.ErrRead) {
		t.Errorf("expected ErrRead, got %v", err)
	}
	if _, err := s.Save(context.Background(), key, []string{"a"}, 0); !errors.Is(err, queue.ErrWrite) {
		t.Errorf("expected ErrWrite, got %v", err)
	}
}
