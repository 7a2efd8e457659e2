// Package extract decodes batches of items concurrently with a bounded
// worker pool and a per-item timeout. Individual decode failures are
// absorbed here: a failed or timed-out item is dropped from the result
// and logged, never escalated to a batch-level error.
package extract

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"msgvault/api/internal/annotate"
	"msgvault/api/internal/index"
	"msgvault/api/internal/msg"
)

const (
	DefaultWorkers = 4
	DefaultTimeout = 10 * time.Second
)

// Decoder converts one raw item into a Document, or one attachment of it
// into bytes. Implementations may block for the duration of the parse.
type Decoder interface {
	Decode(ctx context.Context, handle index.ItemHandle) (msg.Document, error)
	Attachment(ctx context.Context, handle index.ItemHandle, ordinal int) (msg.AttachmentContent, error)
}

// Extractor fans item decoding out across a fixed-size worker pool and
// merges annotation store state into the surviving documents.
type Extractor struct {
	decoder     Decoder
	annotations *annotate.Store
	workers     int
	timeout     time.Duration
}

func New(decoder Decoder, annotations *annotate.Store, workers int, timeout time.Duration) *Extractor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{
		decoder:     decoder,
		annotations: annotations,
		workers:     workers,
		timeout:     timeout,
	}
}

// ExtractBatch decodes handles concurrently. Output order is not
// guaranteed; the caller imposes the listing order. Partial results are
// success: the returned slice may be shorter than handles.
func (e *Extractor) ExtractBatch(ctx context.Context, handles []index.ItemHandle) []msg.Document {
	results := make([]*msg.Document, len(handles))

	var group errgroup.Group
	group.SetLimit(e.workers)
	for i, handle := range handles {
		i, handle := i, handle
		group.Go(func() error {
			doc, err := e.decodeWithTimeout(ctx, handle)
			if err != nil {
				log.Printf("extract: drop %s/%s: %v", handle.Collection, handle.Key, err)
				return nil
			}
			results[i] = &doc
			return nil
		})
	}
	_ = group.Wait()

	documents := make([]msg.Document, 0, len(handles))
	for _, doc := range results {
		if doc == nil {
			continue
		}
		e.mergeAnnotation(doc)
		documents = append(documents, *doc)
	}
	return documents
}

// ExtractOne decodes a single item under the per-item timeout. Unlike
// batch extraction the error is surfaced: a single-document view has
// nothing to fall back on.
func (e *Extractor) ExtractOne(ctx context.Context, handle index.ItemHandle) (msg.Document, error) {
	doc, err := e.decodeWithTimeout(ctx, handle)
	if err != nil {
		return msg.Document{}, err
	}
	e.mergeAnnotation(&doc)
	return doc, nil
}

// Attachment extracts the bytes of one attachment, under the same timeout
// as a document decode.
func (e *Extractor) Attachment(ctx context.Context, handle index.ItemHandle, ordinal int) (msg.AttachmentContent, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		content msg.AttachmentContent
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		content, err := e.decoder.Attachment(ctx, handle, ordinal)
		ch <- result{content, err}
	}()

	select {
	case r := <-ch:
		return r.content, r.err
	case <-ctx.Done():
		return msg.AttachmentContent{}, fmt.Errorf("extract attachment %d of %s: %w", ordinal, handle.Key, ctx.Err())
	}
}

// decodeWithTimeout bounds a decode that may not honor ctx itself. On
// timeout the item is given up on; the in-flight decode is left to finish
// into a buffered channel rather than torn down.
func (e *Extractor) decodeWithTimeout(ctx context.Context, handle index.ItemHandle) (msg.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		doc msg.Document
		err error
	}
	ch := make(chan result, 1)
	go func() {
		doc, err := e.decoder.Decode(ctx, handle)
		ch <- result{doc, err}
	}()

	select {
	case r := <-ch:
		return r.doc, r.err
	case <-ctx.Done():
		return msg.Document{}, fmt.Errorf("decode %s: %w", handle.Key, ctx.Err())
	}
}

func (e *Extractor) mergeAnnotation(doc *msg.Document) {
	ann := e.annotations.Get(doc.ID)
	doc.Status = ann.Status
	doc.Comments = ann.Comments
}
