package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"msgvault/api/internal/annotate"
	"msgvault/api/internal/cache"
	"msgvault/api/internal/config"
	"msgvault/api/internal/extract"
	"msgvault/api/internal/index"
	"msgvault/api/internal/msg"
	"msgvault/api/internal/search"
)

type fakeIndex struct {
	collections []index.Collection
	items       map[string][]index.ItemHandle
	itemCalls   atomic.Int32
}

func (f *fakeIndex) Collections(ctx context.Context) ([]index.Collection, error) {
	return f.collections, nil
}

func (f *fakeIndex) Items(ctx context.Context, collection string) ([]index.ItemHandle, error) {
	f.itemCalls.Add(1)
	handles, ok := f.items[collection]
	if !ok {
		return nil, index.ErrUnknownCollection
	}
	return handles, nil
}

// fakeItemDecoder stands in for the CFB parser; everything downstream of
// it (worker pool, annotation merge, caching) is real.
type fakeItemDecoder struct {
	docs        map[string]msg.Document
	decodeCalls atomic.Int32
}

func (d *fakeItemDecoder) Decode(ctx context.Context, handle index.ItemHandle) (msg.Document, error) {
	d.decodeCalls.Add(1)
	doc, ok := d.docs[handle.Key]
	if !ok {
		return msg.Document{}, errors.New("corrupt container")
	}
	doc.ID = msg.DocumentID(handle.Collection, handle.Key)
	doc.Collection = handle.Collection
	doc.Filename = handle.Key
	if doc.Date.IsZero() {
		doc.Date = handle.ModTime
	}
	return doc, nil
}

func (d *fakeItemDecoder) Attachment(ctx context.Context, handle index.ItemHandle, ordinal int) (msg.AttachmentContent, error) {
	if _, ok := d.docs[handle.Key]; !ok || ordinal != 0 {
		return msg.AttachmentContent{}, msg.ErrAttachmentNotFound
	}
	return msg.AttachmentContent{Name: "report.pdf", Type: "PDF", Data: []byte("%PDF-stub")}, nil
}

type fixture struct {
	service     *Service
	index       *fakeIndex
	decoder     *fakeItemDecoder
	annotations *annotate.Store
	layer       *cache.Layer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ix := &fakeIndex{
		collections: []index.Collection{
			{ID: "HR", Name: "Hr", Count: 1},
			{ID: "Sales", Name: "Sales", Count: 3},
		},
		items: map[string][]index.ItemHandle{
			"Sales": {
				{Collection: "Sales", Key: "m3.msg", ModTime: base.Add(2 * time.Hour)},
				{Collection: "Sales", Key: "m2.msg", ModTime: base.Add(time.Hour)},
				{Collection: "Sales", Key: "m1.msg", ModTime: base},
			},
			"HR": {
				{Collection: "HR", Key: "h1.msg", ModTime: base},
			},
			"Empty": {},
		},
	}
	decoder := &fakeItemDecoder{docs: map[string]msg.Document{
		"m1.msg": {Subject: "Oldest", Sender: "alice@x.com", Body: "first message"},
		"m2.msg": {Subject: "Middle", Sender: "bob@x.com", Body: "second message"},
		"m3.msg": {Subject: "Newest", Sender: "carol@x.com", Body: "third message"},
		"h1.msg": {Subject: "Offer", Sender: "hr@x.com", Body: "welcome aboard"},
	}}

	layer := cache.NewLayer(cache.NewMemoryStore())
	annotations := annotate.NewStore(cache.InvalidateDocument(layer), nil)
	extractor := extract.New(decoder, annotations, 2, time.Second)

	cfg := config.Config{
		CacheTTL:   time.Minute,
		ListingTTL: time.Minute,
		PageLimit:  50,
	}
	service := New(cfg, ix, extractor, annotations, layer, search.NewService(nil), nil)

	return &fixture{
		service:     service,
		index:       ix,
		decoder:     decoder,
		annotations: annotations,
		layer:       layer,
	}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status
}

func TestListPageOrderAndTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.service.ListPage(ctx, "Sales", 2, 0)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if page.TotalCount != 3 || !page.HasMore {
		t.Fatalf("expected total 3 with more pages, got total=%d hasMore=%v", page.TotalCount, page.HasMore)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}
	if page.Messages[0].Subject != "Newest" || page.Messages[1].Subject != "Middle" {
		t.Fatalf("expected newest-first order, got %q then %q", page.Messages[0].Subject, page.Messages[1].Subject)
	}

	last, err := f.service.ListPage(ctx, "Sales", 2, 2)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if len(last.Messages) != 1 || last.Messages[0].Subject != "Oldest" {
		t.Fatalf("unexpected last page: %+v", last.Messages)
	}
	if last.HasMore {
		t.Fatal("expected no more pages past the end")
	}
}

func TestListPageServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.ListPage(ctx, "Sales", 2, 0)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	decodesAfterFirst := f.decoder.decodeCalls.Load()

	second, err := f.service.ListPage(ctx, "Sales", 2, 0)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if got := f.decoder.decodeCalls.Load(); got != decodesAfterFirst {
		t.Fatalf("expected cached page to skip decoding, calls went %d -> %d", decodesAfterFirst, got)
	}
	if len(second.Messages) != len(first.Messages) || second.TotalCount != first.TotalCount {
		t.Fatal("cached page differs from computed page")
	}

	// A different limit/offset is a different entry.
	if _, err := f.service.ListPage(ctx, "Sales", 1, 0); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if got := f.decoder.decodeCalls.Load(); got == decodesAfterFirst {
		t.Fatal("expected a different page shape to recompute")
	}
}

func TestListPageTotalsCountUndecodableItems(t *testing.T) {
	f := newFixture(t)
	delete(f.decoder.docs, "m2.msg")

	page, err := f.service.ListPage(context.Background(), "Sales", 10, 0)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if page.TotalCount != 3 {
		t.Fatalf("total must reflect raw item count, got %d", page.TotalCount)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected undecodable item to be dropped, got %d messages", len(page.Messages))
	}
}

func TestListPageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.ListPage(ctx, "Sales", -1, 0); domainStatus(t, err) != 422 {
		t.Fatal("expected 422 for negative limit")
	}
	if _, err := f.service.ListPage(ctx, "Sales", 0, -5); domainStatus(t, err) != 422 {
		t.Fatal("expected 422 for negative offset")
	}
	if _, err := f.service.ListPage(ctx, "Nope", 10, 0); domainStatus(t, err) != 404 {
		t.Fatal("expected 404 for unknown collection")
	}

	// Empty collections page cleanly.
	page, err := f.service.ListPage(ctx, "Empty", 10, 0)
	if err != nil {
		t.Fatalf("ListPage on empty collection failed: %v", err)
	}
	if page.TotalCount != 0 || page.HasMore {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestListPageDefaultLimit(t *testing.T) {
	f := newFixture(t)

	page, err := f.service.ListPage(context.Background(), "Sales", 0, 0)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if page.Limit != 50 {
		t.Fatalf("expected configured default limit 50, got %d", page.Limit)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("expected all 3 messages under default limit, got %d", len(page.Messages))
	}
}

func TestStatusWriteVisibleWithinTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.ListPage(ctx, "Sales", 10, 0); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}

	if err := f.service.SetStatus(ctx, "Sales", "Sales_m2", annotate.StatusKeep); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	// The page family was invalidated, so the next read recomputes and
	// carries the new status despite the TTL not having elapsed.
	page, err := f.service.ListPage(ctx, "Sales", 10, 0)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	var found bool
	for _, doc := range page.Messages {
		if doc.ID == "Sales_m2" {
			found = true
			if doc.Status != annotate.StatusKeep {
				t.Fatalf("expected status keep after write, got %q", doc.Status)
			}
		}
	}
	if !found {
		t.Fatal("expected Sales_m2 in page")
	}
}

func TestStatusWriteLeavesOtherCollectionsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.ListPage(ctx, "HR", 10, 0); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	decodes := f.decoder.decodeCalls.Load()

	if err := f.service.SetStatus(ctx, "Sales", "Sales_m2", annotate.StatusReview); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if _, err := f.service.ListPage(ctx, "HR", 10, 0); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if got := f.decoder.decodeCalls.Load(); got != decodes {
		t.Fatalf("write to Sales must not evict HR pages, decode calls went %d -> %d", decodes, got)
	}
}

func TestGetFullDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.service.GetFullDocument(ctx, "Sales", "Sales_m1")
	if err != nil {
		t.Fatalf("GetFullDocument failed: %v", err)
	}
	if doc.Subject != "Oldest" || doc.Status != annotate.StatusUntagged {
		t.Fatalf("unexpected document: %+v", doc)
	}

	if err := f.service.SetStatus(ctx, "Sales", "Sales_m1", annotate.StatusReview); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	doc, err = f.service.GetFullDocument(ctx, "Sales", "Sales_m1")
	if err != nil {
		t.Fatalf("GetFullDocument failed: %v", err)
	}
	if doc.Status != annotate.StatusReview {
		t.Fatalf("expected fresh status after invalidation, got %q", doc.Status)
	}

	if _, err := f.service.GetFullDocument(ctx, "Sales", "Sales_missing"); domainStatus(t, err) != 404 {
		t.Fatal("expected 404 for unknown document")
	}
	if _, err := f.service.GetFullDocument(ctx, "Nope", "Nope_m1"); domainStatus(t, err) != 404 {
		t.Fatal("expected 404 for unknown collection")
	}
}

func TestGetFullDocumentCollectionMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Warm the cache under the real collection.
	if _, err := f.service.GetFullDocument(ctx, "Sales", "Sales_m1"); err != nil {
		t.Fatalf("GetFullDocument failed: %v", err)
	}

	// A mismatched collection must 404 whether or not the entry is warm.
	if _, err := f.service.GetFullDocument(ctx, "HR", "Sales_m1"); domainStatus(t, err) != 404 {
		t.Fatal("expected 404 for mismatched collection on a warm entry")
	}

	// An identifier that cannot belong to the collection is settled
	// without touching the item source.
	itemCalls := f.index.itemCalls.Load()
	if _, err := f.service.GetFullDocument(ctx, "Sales", "HR_h1"); domainStatus(t, err) != 404 {
		t.Fatal("expected 404 for foreign document id")
	}
	if got := f.index.itemCalls.Load(); got != itemCalls {
		t.Fatalf("foreign id must not enumerate the collection, listings went %d -> %d", itemCalls, got)
	}
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	f := newFixture(t)

	err := f.service.SetStatus(context.Background(), "Sales", "Sales_m1", "archived")
	if domainStatus(t, err) != 422 {
		t.Fatal("expected 422 for unknown status value")
	}
	if got := f.annotations.Get("Sales_m1").Status; got != annotate.StatusUntagged {
		t.Fatalf("rejected write must not mutate, got %q", got)
	}
}

func TestAddCommentRequiresKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.AddComment(ctx, "Sales", "Sales_m1", CommentInput{Text: "no key"})
	if domainStatus(t, err) != 422 {
		t.Fatal("expected 422 for missing comment key")
	}
	if got := len(f.annotations.Get("Sales_m1").Comments); got != 0 {
		t.Fatalf("rejected comment must not be stored, got %d", got)
	}

	comment, err := f.service.AddComment(ctx, "Sales", "Sales_m1", CommentInput{Key: "finding", Text: "check this"})
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if comment.ID == "" || comment.CreatedAt.IsZero() {
		t.Fatalf("expected server-stamped comment, got %+v", comment)
	}
}

func TestAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.Attachment(ctx, "Sales", "Sales_m1", 0)
	if err != nil {
		t.Fatalf("Attachment failed: %v", err)
	}
	if content.Name != "report.pdf" || len(content.Data) == 0 {
		t.Fatalf("unexpected attachment: %+v", content)
	}

	if _, err := f.service.Attachment(ctx, "Sales", "Sales_m1", 7); domainStatus(t, err) != 404 {
		t.Fatal("expected 404 for missing attachment ordinal")
	}
}

func TestClearCacheForcesRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.ListPage(ctx, "Sales", 10, 0); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	decodes := f.decoder.decodeCalls.Load()

	if err := f.service.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	if _, err := f.service.ListPage(ctx, "Sales", 10, 0); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if got := f.decoder.decodeCalls.Load(); got == decodes {
		t.Fatal("expected recompute after cache clear")
	}
}

func TestListCollectionsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	collections, err := f.service.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(collections) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(collections))
	}

	// Search stays consistent with the page it was fed from.
	if _, err := f.service.ListPage(ctx, "Sales", 10, 0); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	response := f.service.Search(search.Query{Text: "second"})
	if response.Total != 1 {
		t.Fatalf("expected decoded page to be searchable, got %d matches", response.Total)
	}
}
