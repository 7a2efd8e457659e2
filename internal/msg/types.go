// Package msg decodes Outlook .msg items (CFB binary containers) into
// structured documents. Decoding is expensive; callers cache the results.
package msg

import (
	"path/filepath"
	"strings"
	"time"

	"msgvault/api/internal/annotate"
)

// Attachment describes one attachment of a decoded message. Index is the
// ordinal used to fetch its bytes.
type Attachment struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// AttachmentContent is the decoded bytes of a single attachment.
type AttachmentContent struct {
	Name string
	Type string
	Data []byte
}

// Document is the decoded, annotation-merged representation of an item.
// Status and Comments are copied by value from the annotation store at
// read time; a Document is a snapshot, never a live view.
type Document struct {
	ID             string             `json:"id"`
	Collection     string             `json:"collection"`
	Subject        string             `json:"subject"`
	Sender         string             `json:"from"`
	Recipients     string             `json:"to"`
	Date           time.Time          `json:"date"`
	Body           string             `json:"body"`
	Filename       string             `json:"filename"`
	ThreadID       string             `json:"threadId"`
	ContainsThread bool               `json:"containsThread"`
	Attachments    []Attachment       `json:"attachments"`
	Status         string             `json:"status"`
	Comments       []annotate.Comment `json:"comments"`
}

// DocumentID derives the stable identifier for an item: collection id plus
// the filename without its extension. For a fixed (collection, key) pair
// the identifier never changes across decodes.
func DocumentID(collection, key string) string {
	return collection + "_" + strings.TrimSuffix(key, filepath.Ext(key))
}

// ItemKey is the inverse of DocumentID: it recovers the item filename from
// a document identifier, or reports failure if the identifier does not
// belong to the collection.
func ItemKey(collection, documentID string) (string, bool) {
	stem, found := strings.CutPrefix(documentID, collection+"_")
	if !found || stem == "" {
		return "", false
	}
	return stem + ".msg", true
}
