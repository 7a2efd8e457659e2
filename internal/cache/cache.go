// Package cache is a TTL-keyed store for the three value shapes the query
// facade serves: the collection listing, paginated batch results, and
// single full documents. All values are stored as JSON bytes under one
// string keyspace, so the in-memory and Redis backends are
// interchangeable and a cache hit returns byte-identical results.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key is a structurally typed cache key.
type Key interface {
	CacheKey() string
}

// CollectionListKey addresses the single cache-wide collection listing.
type CollectionListKey struct{}

func (CollectionListKey) CacheKey() string { return "collections" }

// PageKey addresses one page of one collection.
type PageKey struct {
	Collection string
	Limit      int
	Offset     int
}

func (k PageKey) CacheKey() string {
	return fmt.Sprintf("pages:%s:%d:%d", k.Collection, k.Limit, k.Offset)
}

// FullDocKey addresses the full view of a single document.
type FullDocKey struct {
	DocumentID string
}

func (k FullDocKey) CacheKey() string { return "doc:" + k.DocumentID }

// Predicate selects entries for targeted invalidation.
type Predicate struct {
	prefix string
	exact  bool
}

// Exactly matches the one entry stored under key.
func Exactly(key Key) Predicate {
	return Predicate{prefix: key.CacheKey(), exact: true}
}

// PagesFor matches every PageKey entry for a collection, regardless of
// limit and offset.
func PagesFor(collection string) Predicate {
	return Predicate{prefix: "pages:" + collection + ":"}
}

// InvalidateDocument returns the invalidation hook fired on annotation
// writes: it drops every cached page of the owning collection plus the
// document's full view. The collection listing survives; annotations do
// not change item counts.
func InvalidateDocument(layer *Layer) func(ctx context.Context, collection, documentID string) {
	return func(ctx context.Context, collection, documentID string) {
		err := layer.Invalidate(ctx,
			PagesFor(collection),
			Exactly(FullDocKey{DocumentID: documentID}),
		)
		if err != nil {
			log.Printf("cache: invalidate %s: %v", documentID, err)
		}
	}
}

// Store is a byte-oriented TTL store. Get reports a miss for absent and
// expired entries alike; expired entries are reclaimed lazily.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Layer wraps a Store with miss collapsing: concurrent GetOrCompute calls
// for the same key share a single compute.
type Layer struct {
	store Store
	group singleflight.Group
}

func NewLayer(store Store) *Layer {
	return &Layer{store: store}
}

// Invalidate removes every entry matched by any of the predicates.
func (l *Layer) Invalidate(ctx context.Context, predicates ...Predicate) error {
	for _, p := range predicates {
		var err error
		if p.exact {
			err = l.store.Delete(ctx, p.prefix)
		} else {
			err = l.store.DeletePrefix(ctx, p.prefix)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clear drops all entries unconditionally.
func (l *Layer) Clear(ctx context.Context) error {
	return l.store.Clear(ctx)
}

func (l *Layer) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

func (l *Layer) Close() error {
	return l.store.Close()
}

// GetOrCompute returns the live entry under key if present, otherwise runs
// compute, stores the JSON-encoded result with the given TTL, and returns
// it. A backend read or write failure degrades to computing; it never
// fails the request.
func GetOrCompute[T any](ctx context.Context, l *Layer, key Key, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	k := key.CacheKey()

	if value, ok := lookup[T](ctx, l, k); ok {
		return value, nil
	}

	result, err, _ := l.group.Do(k, func() (any, error) {
		// A concurrent flight may have filled the entry already.
		if value, ok := lookup[T](ctx, l, k); ok {
			return value, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(value)
		if err != nil {
			log.Printf("cache: encode %s: %v", k, err)
			return value, nil
		}
		if err := l.store.Set(ctx, k, raw, ttl); err != nil {
			log.Printf("cache: store %s: %v", k, err)
		}
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func lookup[T any](ctx context.Context, l *Layer, key string) (T, bool) {
	var value T
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		log.Printf("cache: read %s: %v", key, err)
		return value, false
	}
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		log.Printf("cache: decode %s: %v", key, err)
		return value, false
	}
	return value, true
}
