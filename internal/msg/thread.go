package msg

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
)

// threadIndicators are the phrases scanned for in a message body to guess
// whether it embeds an earlier conversation. This is a heuristic with
// known false positives and negatives.
var threadIndicators = []string{
	"original message",
	"forwarded message",
	"from:",
	"sent:",
	"to:",
	"subject:",
}

// ClassifyThread reports whether body appears to contain a quoted or
// forwarded thread.
func ClassifyThread(body string) bool {
	lower := strings.ToLower(body)
	for _, indicator := range threadIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// ThreadID derives a stable pseudo-thread identifier from a subject line.
func ThreadID(subject string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	return fmt.Sprintf("thread_%d", h.Sum32()%10000)
}

var attachmentTypes = map[string]string{
	".pdf":  "PDF",
	".doc":  "Word",
	".docx": "Word",
	".xls":  "Excel",
	".xlsx": "Excel",
	".ppt":  "PowerPoint",
	".pptx": "PowerPoint",
	".txt":  "Text",
	".jpg":  "Image",
	".jpeg": "Image",
	".png":  "Image",
	".gif":  "Image",
	".zip":  "Archive",
	".rar":  "Archive",
}

// AttachmentType maps a filename to a coarse display type.
func AttachmentType(filename string) string {
	if t, ok := attachmentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return "File"
}
