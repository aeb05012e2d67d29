package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/codeGROOVE-dev/auto-assign/pkg/queue"
)

func TestStore_LoadMissing(t *testing.T) {
	s := New()
	rec, err := s.Load(context.Background(), queue.Key{Repository: "r", Team: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Found || rec.Order != nil || rec.Version != 0 {
		t.Errorf("expected empty record, got %+v", rec)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := queue.Key{Repository: "r", Team: "t"}

	v, err := s.Save(ctx, key, []string{"a", "b"}, 0)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}

	rec, err := s.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !rec.Found || rec.Version != 1 || !slices.Equal(rec.Order, []string{"a", "b"}) {
		t.Errorf("unexpected record %+v", rec)
	}

	// Overwrite, not append.
	if _, err := s.Save(ctx, key, []string{"b"}, 1); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	rec, _ = s.Load(ctx, key)
	if !slices.Equal(rec.Order, []string{"b"}) || rec.Version != 2 {
		t.Errorf("unexpected record after overwrite %+v", rec)
	}
}

func TestStore_SaveConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := queue.Key{Repository: "r", Team: "t"}

	if _, err := s.Save(ctx, key, []string{"a"}, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save(ctx, key, []string{"b"}, 0); !errors.Is(err, queue.ErrConflict) {
		t.Errorf("expected ErrConflict creating existing record, got %v", err)
	}
	if _, err := s.Save(ctx, key, []string{"b"}, 7); !errors.Is(err, queue.ErrConflict) {
		t.Errorf("expected ErrConflict for stale version, got %v", err)
	}
}

func TestStore_KeysIndependent(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := queue.Key{Repository: "r", Team: "a"}
	b := queue.Key{Repository: "r", Team: "b"}

	if _, err := s.Save(ctx, a, []string{"x"}, 0); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if _, err := s.Save(ctx, b, []string{"y"}, 0); err != nil {
		t.Fatalf("Save b: %v", err)
	}

	rec, _ := s.Load(ctx, a)
	if !slices.Equal(rec.Order, []string{"x"}) {
		t.Errorf("key a clobbered: %+v", rec)
	}
}

func TestStore_InvalidKey(t *testing.T) {
	s := New()
	if _, err := s.Load(context.Background(), queue.Key{Team: "t"}); !errors.Is(err, queue.ErrRead) {
		t.Errorf("expected ErrRead, got %v", err)
	}
	if _, err := s.Save(context.Background(), queue.Key{Repository: "r"}, nil, 0); !errors.Is(err, queue.ErrWrite) {
		t.Errorf("expected ErrWrite, got %v", err)
	}
}

func TestStore_ConcurrentSavesSingleWinnerPerVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := queue.Key{Repository: "r", Team: "t"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Save(ctx, key, []string{string(rune('a' + i))}, 0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful create, got %d", wins)
	}
}
