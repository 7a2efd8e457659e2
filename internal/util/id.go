package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier, e.g. "cmt_9f86d081884c7d65".
func NewID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
