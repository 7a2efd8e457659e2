package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyShapes(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{CollectionListKey{}, "collections"},
		{PageKey{Collection: "Sales_Process", Limit: 50, Offset: 100}, "pages:Sales_Process:50:100"},
		{FullDocKey{DocumentID: "Sales_Process_m1"}, "doc:Sales_Process_m1"},
	}
	for _, tt := range tests {
		if got := tt.key.CacheKey(); got != tt.want {
			t.Errorf("CacheKey() = %q, want %q", got, tt.want)
		}
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	layer := NewLayer(NewMemoryStore())
	ctx := context.Background()
	key := PageKey{Collection: "Sales", Limit: 10, Offset: 0}

	var calls atomic.Int32
	compute := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "computed", nil
	}

	for i := 0; i < 3; i++ {
		value, err := GetOrCompute(ctx, layer, key, time.Minute, compute)
		if err != nil {
			t.Fatalf("GetOrCompute failed: %v", err)
		}
		if value != "computed" {
			t.Fatalf("expected computed value, got %q", value)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 compute call, got %d", got)
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	layer := NewLayer(NewMemoryStore())
	ctx := context.Background()
	key := FullDocKey{DocumentID: "d1"}

	boom := errors.New("boom")
	var calls atomic.Int32
	failing := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, boom
	}

	if _, err := GetOrCompute(ctx, layer, key, time.Minute, failing); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := GetOrCompute(ctx, layer, key, time.Minute, failing); !errors.Is(err, boom) {
		t.Fatalf("expected boom on retry, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("failures must not be cached, expected 2 calls, got %d", got)
	}
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	layer := NewLayer(NewMemoryStore())
	ctx := context.Background()
	key := PageKey{Collection: "HR", Limit: 20, Offset: 0}

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const concurrency = 8
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := GetOrCompute(ctx, layer, key, time.Minute, compute)
			if err == nil && value != "shared" {
				err = errors.New("unexpected value " + value)
			}
			errs <- err
		}()
	}

	// Give the goroutines time to pile onto the same flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("GetOrCompute failed: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected concurrent misses to collapse to 1 compute, got %d", got)
	}
}

func TestInvalidatePredicates(t *testing.T) {
	store := NewMemoryStore()
	layer := NewLayer(store)
	ctx := context.Background()

	seed := []string{
		"collections",
		"pages:Sales:50:0",
		"pages:Sales:50:50",
		"pages:HR:50:0",
		"doc:Sales_m1",
		"doc:HR_m2",
	}
	for _, key := range seed {
		if err := store.Set(ctx, key, []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	err := layer.Invalidate(ctx,
		PagesFor("Sales"),
		Exactly(FullDocKey{DocumentID: "Sales_m1"}),
	)
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	gone := []string{"pages:Sales:50:0", "pages:Sales:50:50", "doc:Sales_m1"}
	for _, key := range gone {
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Errorf("expected %s to be invalidated", key)
		}
	}
	kept := []string{"collections", "pages:HR:50:0", "doc:HR_m2"}
	for _, key := range kept {
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Errorf("expected %s to survive", key)
		}
	}
}

func TestPagesForDoesNotMatchPrefixCollections(t *testing.T) {
	store := NewMemoryStore()
	layer := NewLayer(store)
	ctx := context.Background()

	// "Sales" must not sweep pages of "Sales_Archive".
	_ = store.Set(ctx, "pages:Sales:50:0", []byte("x"), time.Minute)
	_ = store.Set(ctx, "pages:Sales_Archive:50:0", []byte("x"), time.Minute)

	if err := layer.Invalidate(ctx, PagesFor("Sales")); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "pages:Sales:50:0"); ok {
		t.Error("expected Sales pages to be invalidated")
	}
	if _, ok, _ := store.Get(ctx, "pages:Sales_Archive:50:0"); !ok {
		t.Error("expected Sales_Archive pages to survive")
	}
}

func TestInvalidateDocumentHook(t *testing.T) {
	store := NewMemoryStore()
	layer := NewLayer(store)
	ctx := context.Background()

	_ = store.Set(ctx, "collections", []byte("x"), time.Minute)
	_ = store.Set(ctx, "pages:Sales:50:0", []byte("x"), time.Minute)
	_ = store.Set(ctx, "doc:Sales_m1", []byte("x"), time.Minute)
	_ = store.Set(ctx, "doc:Sales_m2", []byte("x"), time.Minute)

	InvalidateDocument(layer)(ctx, "Sales", "Sales_m1")

	if _, ok, _ := store.Get(ctx, "pages:Sales:50:0"); ok {
		t.Error("expected collection pages to be invalidated")
	}
	if _, ok, _ := store.Get(ctx, "doc:Sales_m1"); ok {
		t.Error("expected written document to be invalidated")
	}
	if _, ok, _ := store.Get(ctx, "doc:Sales_m2"); !ok {
		t.Error("expected sibling document to survive")
	}
	if _, ok, _ := store.Get(ctx, "collections"); !ok {
		t.Error("expected collection listing to survive")
	}
}
