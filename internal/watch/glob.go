package watch

import (
	"path/filepath"
	"strings"

	"github.com/chris-regnier/callsite/internal/input"
)

// ShouldWatchPath reports whether p matches a watch pattern and no ignore
// pattern. With no watch patterns, everything not ignored is watched.
func ShouldWatchPath(p string, watchPatterns, ignorePatterns []string) bool {
	normalized := strings.TrimPrefix(filepath.ToSlash(p), "file://")

	for _, pattern := range ignorePatterns {
		if input.MatchGlob(normalized, pattern) {
			return false
		}
	}
	if len(watchPatterns) == 0 {
		return true
	}
	for _, pattern := range watchPatterns {
		if input.MatchGlob(normalized, pattern) {
			return true
		}
	}
	return false
}
