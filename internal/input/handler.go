// Package input collects the Java sources an analysis run covers.
package input

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/chris-regnier/callsite/internal/sarif"
)

type Kind int

const (
	KindFile Kind = iota
	KindDiff
)

type Artifact struct {
	Path    string
	Content []byte
	Kind    Kind
}

// Handler reads source files, skipping paths that match its exclude globs.
type Handler struct {
	exclude []string
}

func NewHandler(exclude ...string) *Handler {
	return &Handler{exclude: exclude}
}

// IsJava reports whether path names a Java source file.
func IsJava(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".java")
}

// excluded matches a glob against the whole slash path and against each of
// its elements, so "build" excludes every build directory and "**/gen/**"
// excludes everything below any gen directory.
func (h *Handler) excluded(name string) bool {
	slashed := filepath.ToSlash(name)
	for _, pattern := range h.exclude {
		if MatchGlob(slashed, pattern) {
			return true
		}
		for _, part := range strings.Split(slashed, "/") {
			if ok, _ := path.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

func readSource(path string, kind Kind) (Artifact, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, false, err
	}
	if !utf8.Valid(data) {
		slog.Warn("skipping file with invalid UTF-8", "path", path)
		return Artifact{}, false, nil
	}
	return Artifact{Path: path, Content: data, Kind: kind}, true, nil
}

// ReadFiles reads the named files in order. Explicitly named files are read
// even when they are not .java; excluded paths are skipped.
func (h *Handler) ReadFiles(paths []string) ([]Artifact, error) {
	var artifacts []Artifact
	for _, p := range paths {
		if h.excluded(p) {
			slog.Debug("skipping excluded file", "path", p)
			continue
		}
		a, ok, err := readSource(p, KindFile)
		if err != nil {
			return nil, err
		}
		if ok {
			artifacts = append(artifacts, a)
		}
	}
	return artifacts, nil
}

// ReadDirectory walks dir for .java files in lexical order, skipping hidden
// and excluded directories.
func (h *Handler) ReadDirectory(dir string) ([]Artifact, error) {
	var artifacts []Artifact
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || h.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsJava(path) || h.excluded(rel) {
			return nil
		}
		a, ok, err := readSource(path, KindFile)
		if err != nil {
			return err
		}
		if ok {
			artifacts = append(artifacts, a)
		}
		return nil
	})
	return artifacts, err
}

// DiffScope is the part of a change set an analysis should report on.
type DiffScope struct {
	// Files are the post-image paths of changed .java files, sorted.
	Files []string
	// Added maps each file to the line ranges the diff adds.
	Added map[string][]sarif.Region
}

// ReadDiff parses a unified diff (as produced by git diff) into the changed
// Java files and their added line ranges. Deleted files are dropped.
func (h *Handler) ReadDiff(patch []byte) (*DiffScope, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	scope := &DiffScope{Added: make(map[string][]sarif.Region)}
	for _, fd := range fileDiffs {
		name := newName(fd)
		if name == "" || !IsJava(name) || h.excluded(name) {
			continue
		}
		ranges := addedRanges(fd.Hunks)
		if len(ranges) == 0 {
			continue
		}
		if _, seen := scope.Added[name]; !seen {
			scope.Files = append(scope.Files, name)
		}
		scope.Added[name] = append(scope.Added[name], ranges...)
	}
	sort.Strings(scope.Files)
	return scope, nil
}

func newName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		return ""
	}
	return strings.TrimPrefix(name, "b/")
}

// addedRanges walks hunk bodies and merges consecutive added lines.
func addedRanges(hunks []*diff.Hunk) []sarif.Region {
	var out []sarif.Region
	for _, h := range hunks {
		line := int(h.NewStartLine)
		for _, raw := range bytes.Split(h.Body, []byte("\n")) {
			if len(raw) == 0 {
				continue
			}
			switch raw[0] {
			case '+':
				if n := len(out); n > 0 && out[n-1].EndLine == line-1 {
					out[n-1].EndLine = line
				} else {
					out = append(out, sarif.Region{StartLine: line, EndLine: line})
				}
				line++
			case ' ':
				line++
			}
		}
	}
	return out
}
