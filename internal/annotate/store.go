// Package annotate holds per-document mutable state: a status tag and an
// ordered, append-only comment list. The store is the single source of
// truth for both; decoded documents copy annotation fields by value.
package annotate

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"msgvault/api/internal/util"
)

const (
	StatusUntagged = "untagged"
	StatusKeep     = "keep"
	StatusReview   = "review"
)

var (
	ErrInvalidStatus = errors.New("invalid status")
	ErrMissingKey    = errors.New("comment key is required")
)

// ValidStatus reports whether s is one of the three allowed status values.
func ValidStatus(s string) bool {
	switch s {
	case StatusUntagged, StatusKeep, StatusReview:
		return true
	}
	return false
}

type Comment struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Labels    []string  `json:"labels,omitempty"`
	Text      string    `json:"text,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Annotation struct {
	Status   string    `json:"status"`
	Comments []Comment `json:"comments"`
}

// InvalidateFunc removes the cache entries affected by a write to the
// given document: its collection's page family and its full view.
type InvalidateFunc func(ctx context.Context, collection, documentID string)

// Persister mirrors annotation writes to durable storage. Persistence is
// best-effort: a failed write is logged, never surfaced to the caller.
type Persister interface {
	SaveStatus(ctx context.Context, collection, documentID, status string) error
	SaveComment(ctx context.Context, collection, documentID string, comment Comment) error
}

// Store is a concurrency-safe in-memory annotation map keyed by document
// identifier. Annotations are created lazily on first write and live for
// the process lifetime.
type Store struct {
	mu          sync.RWMutex
	annotations map[string]*Annotation
	invalidate  InvalidateFunc
	persister   Persister
}

func NewStore(invalidate InvalidateFunc, persister Persister) *Store {
	return &Store{
		annotations: make(map[string]*Annotation),
		invalidate:  invalidate,
		persister:   persister,
	}
}

// Get returns a copy of the annotation for documentID. A document that was
// never written has the default annotation: untagged, no comments.
func (s *Store) Get(documentID string) Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ann, ok := s.annotations[documentID]
	if !ok {
		return Annotation{Status: StatusUntagged, Comments: []Comment{}}
	}
	comments := make([]Comment, len(ann.Comments))
	copy(comments, ann.Comments)
	return Annotation{Status: ann.Status, Comments: comments}
}

// SetStatus tags a document. Only the three known status values are
// accepted. The affected cache entries are invalidated before returning,
// so a subsequent read within the TTL window sees the new status.
func (s *Store) SetStatus(ctx context.Context, collection, documentID, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}

	s.mu.Lock()
	ann := s.ensureLocked(documentID)
	ann.Status = status
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveStatus(ctx, collection, documentID, status); err != nil {
			log.Printf("annotate: persist status for %s: %v", documentID, err)
		}
	}
	if s.invalidate != nil {
		s.invalidate(ctx, collection, documentID)
	}
	return nil
}

// AddComment appends a comment to a document. The grouping key is
// required; ID and CreatedAt are assigned by the server. Comments cannot
// be edited or deleted.
func (s *Store) AddComment(ctx context.Context, collection, documentID string, comment Comment) (Comment, error) {
	if comment.Key == "" {
		return Comment{}, ErrMissingKey
	}
	comment.ID = util.NewID("cmt")
	comment.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	ann := s.ensureLocked(documentID)
	ann.Comments = append(ann.Comments, comment)
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveComment(ctx, collection, documentID, comment); err != nil {
			log.Printf("annotate: persist comment for %s: %v", documentID, err)
		}
	}
	if s.invalidate != nil {
		s.invalidate(ctx, collection, documentID)
	}
	return comment, nil
}

// Restore seeds the store from persisted annotations at boot. It does not
// trigger invalidation; the cache is empty at that point.
func (s *Store) Restore(annotations map[string]Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ann := range annotations {
		copied := ann
		if copied.Status == "" {
			copied.Status = StatusUntagged
		}
		s.annotations[id] = &copied
	}
}

func (s *Store) ensureLocked(documentID string) *Annotation {
	ann, ok := s.annotations[documentID]
	if !ok {
		ann = &Annotation{Status: StatusUntagged}
		s.annotations[documentID] = ann
	}
	return ann
}
