package search

import "log"

// Service tries Meilisearch first and falls back to the in-memory index.
type Service struct {
	meili  *Meili
	memory *Memory
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili, memory: NewMemory()}
}

// Search queries Meilisearch if healthy, otherwise the in-memory index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to memory index: %v", err)
	}

	results, total := s.memory.Search(q)
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessages records freshly decoded messages. The memory index is fed
// synchronously (it is cheap); Meilisearch fire-and-forget.
func (s *Service) IndexMessages(records []MessageRecord) {
	if len(records) == 0 {
		return
	}
	s.memory.IndexMessages(records)

	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessages(records); err != nil {
			log.Printf("search: index %d messages: %v", len(records), err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
