// Package index enumerates collections and the raw, undecoded items
// inside them. Enumeration is cheap: it never opens or decodes an item.
package index

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrUnknownCollection is returned for a collection id the source cannot
// enumerate.
var ErrUnknownCollection = errors.New("unknown collection")

// Collection is one named grouping of items. Count is the raw item count,
// not a decoded count. Bootstrap marks seeded placeholder collections that
// hold no real data.
type Collection struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Bootstrap bool   `json:"bootstrap,omitempty"`
}

// ItemHandle is an opaque reference to one undecoded item.
type ItemHandle struct {
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	ModTime    time.Time `json:"modTime"`
}

// Source is a storage backend that can enumerate collections and items
// and open raw item contents.
type Source interface {
	Collections(ctx context.Context) ([]Collection, error)
	Items(ctx context.Context, collection string) ([]ItemHandle, error)
	Open(ctx context.Context, handle ItemHandle) (io.ReadCloser, error)
}

// placeholderCollections is the fixed set seeded when the backing source
// holds no collections at all, so callers always see a non-empty listing.
// Zero counts and the Bootstrap flag keep them distinguishable from real
// data.
var placeholderCollections = []string{
	"Marketing_Process",
	"Sales_Process",
	"HR_Process",
	"IT_Process",
}

var titleCaser = cases.Title(language.English)

// DisplayName is the deterministic human-readable form of a collection id:
// underscores become spaces, words are title-cased.
func DisplayName(id string) string {
	return titleCaser.String(strings.ReplaceAll(id, "_", " "))
}

// Index wraps a Source with display names, ordering and the placeholder
// bootstrap. Caching of listings is the facade's concern, not the
// index's.
type Index struct {
	source Source
}

func New(source Source) *Index {
	return &Index{source: source}
}

// Collections lists all collections sorted by id.
func (ix *Index) Collections(ctx context.Context) ([]Collection, error) {
	collections, err := ix.source.Collections(ctx)
	if err != nil {
		return nil, err
	}
	if len(collections) == 0 {
		collections = make([]Collection, 0, len(placeholderCollections))
		for _, id := range placeholderCollections {
			collections = append(collections, Collection{ID: id, Bootstrap: true})
		}
	}
	for i := range collections {
		collections[i].Name = DisplayName(collections[i].ID)
	}
	sort.Slice(collections, func(i, j int) bool {
		return collections[i].ID < collections[j].ID
	})
	return collections, nil
}

// Items lists the raw item handles of one collection, most recently
// modified first.
func (ix *Index) Items(ctx context.Context, collection string) ([]ItemHandle, error) {
	handles, err := ix.source.Items(ctx, collection)
	if err != nil {
		return nil, err
	}
	sort.Slice(handles, func(i, j int) bool {
		if !handles[i].ModTime.Equal(handles[j].ModTime) {
			return handles[i].ModTime.After(handles[j].ModTime)
		}
		return handles[i].Key < handles[j].Key
	})
	return handles, nil
}

// Open returns the raw contents of one item.
func (ix *Index) Open(ctx context.Context, handle ItemHandle) (io.ReadCloser, error) {
	return ix.source.Open(ctx, handle)
}
