package input

import (
	"path"
	"path/filepath"
	"strings"
)

// MatchGlob matches a slash path against a glob in which "**" spans any
// number of path segments, including none. A pattern without a slash is
// matched against the base name only.
func MatchGlob(p, pattern string) bool {
	pattern = filepath.ToSlash(pattern)
	p = filepath.ToSlash(p)

	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(p))
		return ok
	}
	return matchSegments(strings.Split(p, "/"), strings.Split(pattern, "/"))
}

func matchSegments(segs, pats []string) bool {
	for len(pats) > 0 {
		if pats[0] == "**" {
			rest := pats[1:]
			for i := 0; i <= len(segs); i++ {
				if matchSegments(segs[i:], rest) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pats[0], segs[0]); !ok {
			return false
		}
		segs, pats = segs[1:], pats[1:]
	}
	return len(segs) == 0
}
