package app

import (
	"context"
	"errors"
	"sort"
	"strings"

	"msgvault/api/internal/annotate"
	"msgvault/api/internal/cache"
	"msgvault/api/internal/config"
	"msgvault/api/internal/index"
	"msgvault/api/internal/msg"
	"msgvault/api/internal/search"
)

// PageResult is one page of a collection listing. TotalCount always
// reflects the raw handle count; decode failures shrink Messages only.
type PageResult struct {
	Messages   []msg.Document `json:"messages"`
	TotalCount int            `json:"totalCount"`
	HasMore    bool           `json:"hasMore"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}

// CommentInput is the caller-supplied part of a comment; ID and timestamp
// are assigned by the server.
type CommentInput struct {
	Key    string   `json:"key"`
	Labels []string `json:"labels"`
	Text   string   `json:"text"`
	Author string   `json:"author"`
}

type collectionIndex interface {
	Collections(ctx context.Context) ([]index.Collection, error)
	Items(ctx context.Context, collection string) ([]index.ItemHandle, error)
}

type batchExtractor interface {
	ExtractBatch(ctx context.Context, handles []index.ItemHandle) []msg.Document
	ExtractOne(ctx context.Context, handle index.ItemHandle) (msg.Document, error)
	Attachment(ctx context.Context, handle index.ItemHandle, ordinal int) (msg.AttachmentContent, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Service is the query facade: it composes the collection index, cache
// layer, batch extractor and annotation store into the operations the
// transport calls.
type Service struct {
	cfg         config.Config
	index       collectionIndex
	extractor   batchExtractor
	annotations *annotate.Store
	cache       *cache.Layer
	search      *search.Service
	db          pinger
}

// New creates the facade. db may be nil when annotation persistence is
// not configured.
func New(cfg config.Config, ix collectionIndex, extractor batchExtractor, annotations *annotate.Store, cacheLayer *cache.Layer, searchService *search.Service, db pinger) *Service {
	return &Service{
		cfg:         cfg,
		index:       ix,
		extractor:   extractor,
		annotations: annotations,
		cache:       cacheLayer,
		search:      searchService,
		db:          db,
	}
}

// ListCollections lists all collections. Enumeration never decodes, so
// the listing gets the short TTL rather than the extraction TTL.
func (s *Service) ListCollections(ctx context.Context) ([]index.Collection, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.CollectionListKey{}, s.cfg.ListingTTL, func(ctx context.Context) ([]index.Collection, error) {
		collections, err := s.index.Collections(ctx)
		if err != nil {
			return nil, sourceError(err)
		}
		return collections, nil
	})
}

// ListPage returns one page of a collection, newest first, served from
// cache when a live entry exists.
func (s *Service) ListPage(ctx context.Context, collection string, limit, offset int) (PageResult, error) {
	if strings.TrimSpace(collection) == "" {
		return PageResult{}, validationError("collection is required", nil)
	}
	if limit < 0 {
		return PageResult{}, validationError("limit must not be negative", map[string]any{"limit": limit})
	}
	if offset < 0 {
		return PageResult{}, validationError("offset must not be negative", map[string]any{"offset": offset})
	}
	if limit == 0 {
		limit = s.cfg.PageLimit
	}

	key := cache.PageKey{Collection: collection, Limit: limit, Offset: offset}
	return cache.GetOrCompute(ctx, s.cache, key, s.cfg.CacheTTL, func(ctx context.Context) (PageResult, error) {
		handles, err := s.index.Items(ctx, collection)
		if errors.Is(err, index.ErrUnknownCollection) {
			return PageResult{}, notFound("unknown collection: " + collection)
		}
		if err != nil {
			return PageResult{}, sourceError(err)
		}

		total := len(handles)
		start := min(offset, total)
		end := min(start+limit, total)

		documents := s.extractor.ExtractBatch(ctx, handles[start:end])
		sortDocuments(documents)
		s.indexForSearch(documents)

		return PageResult{
			Messages:   documents,
			TotalCount: total,
			HasMore:    offset+limit < total,
			Offset:     offset,
			Limit:      limit,
		}, nil
	})
}

// GetFullDocument returns the full decoded view of one document.
func (s *Service) GetFullDocument(ctx context.Context, collection, documentID string) (msg.Document, error) {
	key := cache.FullDocKey{DocumentID: documentID}
	document, err := cache.GetOrCompute(ctx, s.cache, key, s.cfg.CacheTTL, func(ctx context.Context) (msg.Document, error) {
		handle, err := s.findHandle(ctx, collection, documentID)
		if err != nil {
			return msg.Document{}, err
		}
		document, err := s.extractor.ExtractOne(ctx, handle)
		if err != nil {
			return msg.Document{}, sourceError(err)
		}
		return document, nil
	})
	if err != nil {
		return msg.Document{}, err
	}
	// The cache is keyed by document id alone; a hit must not answer for
	// the wrong collection.
	if document.Collection != collection {
		return msg.Document{}, notFound("unknown document: " + documentID)
	}
	return document, nil
}

// Attachment extracts the bytes of one attachment. Not cached: beyond
// identifying the owning document this is outside the caching core.
func (s *Service) Attachment(ctx context.Context, collection, documentID string, ordinal int) (msg.AttachmentContent, error) {
	handle, err := s.findHandle(ctx, collection, documentID)
	if err != nil {
		return msg.AttachmentContent{}, err
	}
	content, err := s.extractor.Attachment(ctx, handle, ordinal)
	if errors.Is(err, msg.ErrAttachmentNotFound) {
		return msg.AttachmentContent{}, notFound("attachment not found")
	}
	if err != nil {
		return msg.AttachmentContent{}, sourceError(err)
	}
	return content, nil
}

// SetStatus tags a document. The annotation store invalidates the
// affected cache entries as a side effect of the write.
func (s *Service) SetStatus(ctx context.Context, collection, documentID, status string) error {
	if !annotate.ValidStatus(status) {
		return validationError("status must be one of untagged, keep, review", map[string]any{"status": status})
	}
	return s.annotations.SetStatus(ctx, collection, documentID, status)
}

// AddComment appends a comment to a document. The grouping key is
// required; the write is rejected before touching the store without it.
func (s *Service) AddComment(ctx context.Context, collection, documentID string, input CommentInput) (annotate.Comment, error) {
	if strings.TrimSpace(input.Key) == "" {
		return annotate.Comment{}, validationError("comment key is required", nil)
	}
	return s.annotations.AddComment(ctx, collection, documentID, annotate.Comment{
		Key:    input.Key,
		Labels: input.Labels,
		Text:   input.Text,
		Author: input.Author,
	})
}

// Search queries the opportunistic message index.
func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

// ClearCache drops every cache entry.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

func (s *Service) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// PingDB reports database connectivity; nil when persistence is not
// configured.
func (s *Service) PingDB(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// HasDB reports whether annotation persistence is configured.
func (s *Service) HasDB() bool {
	return s.db != nil
}

func (s *Service) findHandle(ctx context.Context, collection, documentID string) (index.ItemHandle, error) {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(documentID) == "" {
		return index.ItemHandle{}, validationError("collection and document id are required", nil)
	}
	// An identifier that cannot belong to the collection is settled
	// without enumerating it.
	if _, ok := msg.ItemKey(collection, documentID); !ok {
		return index.ItemHandle{}, notFound("unknown document: " + documentID)
	}
	handles, err := s.index.Items(ctx, collection)
	if errors.Is(err, index.ErrUnknownCollection) {
		return index.ItemHandle{}, notFound("unknown collection: " + collection)
	}
	if err != nil {
		return index.ItemHandle{}, sourceError(err)
	}
	for _, handle := range handles {
		if msg.DocumentID(collection, handle.Key) == documentID {
			return handle, nil
		}
	}
	return index.ItemHandle{}, notFound("unknown document: " + documentID)
}

// sortDocuments imposes the listing order: timestamp descending,
// identifier ascending as the tie-break. This is a listing contract, not
// a property of decode completion order.
func sortDocuments(documents []msg.Document) {
	sort.Slice(documents, func(i, j int) bool {
		if !documents[i].Date.Equal(documents[j].Date) {
			return documents[i].Date.After(documents[j].Date)
		}
		return documents[i].ID < documents[j].ID
	})
}

func (s *Service) indexForSearch(documents []msg.Document) {
	if s.search == nil || len(documents) == 0 {
		return
	}
	records := make([]search.MessageRecord, 0, len(documents))
	for _, doc := range documents {
		records = append(records, search.MessageRecord{
			ID:         doc.ID,
			Collection: doc.Collection,
			Subject:    doc.Subject,
			Sender:     doc.Sender,
			Body:       doc.Body,
			Status:     doc.Status,
			Date:       doc.Date,
		})
	}
	s.search.IndexMessages(records)
}
