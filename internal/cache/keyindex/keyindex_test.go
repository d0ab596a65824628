package keyindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/spanlab/span-sample-gateway/internal/cache/redisstore"
)

func newIndex(t *testing.T) KeyIndex {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisIndex(rc)
}

func TestAddKeysDrop_RoundTrip(t *testing.T) {
	ki := newIndex(t)
	ctx := context.Background()

	got, err := ki.Keys(ctx, 1)
	if err != nil {
		t.Fatalf("Keys on empty index: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown project, got %v", got)
	}

	if err := ki.Add(ctx, 1, []string{"k1", "k2"}, time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// duplicate k2 must not double up
	if err := ki.Add(ctx, 1, []string{"k2", "k3"}, time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err = ki.Keys(ctx, 1)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(got)
	if len(got) != 3 || got[0] != "k1" || got[1] != "k2" || got[2] != "k3" {
		t.Fatalf("unexpected keys: %v", got)
	}

	if err := ki.Drop(ctx, 1); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	got, err = ki.Keys(ctx, 1)
	if err != nil || got != nil {
		t.Fatalf("after Drop got=%v err=%v", got, err)
	}
}

func TestProjects_AreIsolated(t *testing.T) {
	ki := newIndex(t)
	ctx := context.Background()

	if err := ki.Add(ctx, 1, []string{"a"}, time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ki.Add(ctx, 2, []string{"b"}, time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := ki.Keys(ctx, 2)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("project 2 keys = %v", got)
	}
}

func TestConcurrentAdds_LoseNoKeys(t *testing.T) {
	ki := newIndex(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			k := fmt.Sprintf("samples:demo:seg%d:q=deadbeef", i)
			if err := ki.Add(ctx, 1, []string{k}, time.Minute); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Add: %v", err)
	}

	got, err := ki.Keys(ctx, 1)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	// every writer's key must survive; a read-merge-write index would
	// drop interleaved adds here
	if len(got) != writers {
		sort.Strings(got)
		t.Fatalf("got %d keys, want %d: %v", len(got), writers, got)
	}
}
