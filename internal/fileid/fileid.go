// Package fileid derives stable keys for case library sources.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "case:"

// SourceKey returns a stable key for the case stored at the given absolute directory path.
// Re-importing the same directory yields the same key, so the new case supersedes the old one.
func SourceKey(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}
