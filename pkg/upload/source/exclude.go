package source

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Excluded reports whether a remote path matches any exclude pattern.
// Patterns are shell globs applied to the path's base name; a pattern
// containing a slash is matched against the whole slash-normalized path.
func Excluded(remotePath string, patterns []string) bool {
	normalized := filepath.ToSlash(remotePath)
	base := path.Base(normalized)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		target := base
		if strings.Contains(pattern, "/") {
			target = normalized
		}
		if ok, err := path.Match(pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidatePatterns rejects malformed glob patterns up front so an operation
// fails in pre-flight instead of mid-enumeration.
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}
