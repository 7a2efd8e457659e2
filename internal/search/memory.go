package search

import (
	"sort"
	"strings"
	"sync"
)

// Memory is the fallback index used when Meilisearch is absent or
// unhealthy: case-insensitive substring match over subject, sender and
// body, newest first.
type Memory struct {
	mu      sync.RWMutex
	records map[string]MessageRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]MessageRecord)}
}

func (m *Memory) IndexMessages(records []MessageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		m.records[record.ID] = record
	}
}

func (m *Memory) Search(q Query) ([]Result, int) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	m.mu.RLock()
	var matches []MessageRecord
	for _, record := range m.records {
		if q.Collection != "" && record.Collection != q.Collection {
			continue
		}
		if needle != "" && !matchesRecord(record, needle) {
			continue
		}
		matches = append(matches, record)
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Date.Equal(matches[j].Date) {
			return matches[i].Date.After(matches[j].Date)
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, record := range matches[start:end] {
		results = append(results, Result{
			ID:         record.ID,
			Collection: record.Collection,
			Subject:    record.Subject,
			Sender:     record.Sender,
			Snippet:    snippet(record.Body, needle),
			Date:       record.Date,
		})
	}
	return results, total
}

func matchesRecord(record MessageRecord, needle string) bool {
	return strings.Contains(strings.ToLower(record.Subject), needle) ||
		strings.Contains(strings.ToLower(record.Sender), needle) ||
		strings.Contains(strings.ToLower(record.Body), needle)
}

// snippet returns a short window of body around the first match.
func snippet(body, needle string) string {
	if needle == "" || body == "" {
		return ""
	}
	pos := strings.Index(strings.ToLower(body), needle)
	if pos < 0 {
		return ""
	}
	start := pos - 40
	if start < 0 {
		start = 0
	}
	end := pos + len(needle) + 40
	if end > len(body) {
		end = len(body)
	}
	return strings.TrimSpace(body[start:end])
}
