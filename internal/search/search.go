// Package search maintains an opportunistic full-text index over decoded
// messages. The index is fed fire-and-forget whenever a page decode
// completes; it never triggers decodes of its own, so it only ever knows
// about messages some caller has already paid to decode.
package search

import "time"

// MessageRecord is the indexed projection of a decoded message.
type MessageRecord struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	Status     string    `json:"status"`
	Date       time.Time `json:"date"`
}

type Query struct {
	Text       string
	Collection string
	Limit      int
	Offset     int
}

type Result struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Snippet    string    `json:"snippet,omitempty"`
	Date       time.Time `json:"date"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
