package index

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSSource enumerates a local directory tree: every top-level directory is
// a collection, every *.msg file inside it is an item.
type FSSource struct {
	root string
}

// NewFSSource creates a filesystem item source, creating the base folder
// if it does not exist yet.
func NewFSSource(root string) (*FSSource, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure base folder %s: %w", root, err)
	}
	return &FSSource{root: root}, nil
}

func (s *FSSource) Collections(ctx context.Context) ([]Collection, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read base folder: %w", err)
	}

	var collections []Collection
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		items, err := s.Items(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		collections = append(collections, Collection{ID: entry.Name(), Count: len(items)})
	}
	if len(collections) == 0 {
		return s.createSampleLayout()
	}
	return collections, nil
}

// createSampleLayout materializes the placeholder collections as empty
// folders on first run, so page requests against them answer with empty
// pages rather than unknown-collection errors.
func (s *FSSource) createSampleLayout() ([]Collection, error) {
	collections := make([]Collection, 0, len(placeholderCollections))
	for _, id := range placeholderCollections {
		if err := os.MkdirAll(filepath.Join(s.root, id), 0o755); err != nil {
			return nil, fmt.Errorf("create sample collection %s: %w", id, err)
		}
		collections = append(collections, Collection{ID: id, Bootstrap: true})
	}
	return collections, nil
}

func (s *FSSource) Items(ctx context.Context, collection string) ([]ItemHandle, error) {
	if !validName(collection) {
		return nil, ErrUnknownCollection
	}
	entries, err := os.ReadDir(filepath.Join(s.root, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUnknownCollection
		}
		return nil, fmt.Errorf("read collection %s: %w", collection, err)
	}

	var handles []ItemHandle
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".msg") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		handles = append(handles, ItemHandle{
			Collection: collection,
			Key:        entry.Name(),
			ModTime:    info.ModTime(),
		})
	}
	return handles, nil
}

func (s *FSSource) Open(ctx context.Context, handle ItemHandle) (io.ReadCloser, error) {
	if !validName(handle.Collection) || !validName(handle.Key) {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(s.root, handle.Collection, handle.Key))
}

// validName rejects path components that could escape the base folder.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, "/\\")
}
