// Package javaast parses Java sources with tree-sitter and exposes the small
// read-only view of the syntax tree that the matching engine needs: files,
// their package and imports, and method or constructor invocations.
package javaast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// ErrNotJava is returned by Parse for paths without a .java extension.
var ErrNotJava = errors.New("not a java source file")

// Import is a single import declaration.
type Import struct {
	Path     string // e.g. "javax.servlet.http.HttpServletRequest" or "java.util" for "java.util.*"
	Static   bool
	Wildcard bool
}

// File is a parsed Java compilation unit. It is immutable after Parse.
type File struct {
	Path    string
	Source  []byte
	Tree    *sitter.Tree
	Package string
	Imports []Import
	Hash    string
}

// Root returns the program node.
func (f *File) Root() *sitter.Node {
	return f.Tree.RootNode()
}

// Text returns the source text covered by n.
func (f *File) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(f.Source)
}

// Malformed reports whether the parser had to recover from syntax errors.
func (f *File) Malformed() bool {
	root := f.Root()
	return root == nil || root.HasError()
}

// Detect reports whether path names a Java source file.
func Detect(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".java")
}

// Language returns the tree-sitter grammar used for Java.
func Language() *sitter.Language {
	return java.GetLanguage()
}

// Parse parses src as a Java compilation unit. A fresh tree-sitter parser is
// created per call so Parse is safe for concurrent use.
func Parse(ctx context.Context, path string, src []byte) (*File, error) {
	if !Detect(path) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotJava)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(Language())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	sum := sha256.Sum256(src)
	f := &File{
		Path:   path,
		Source: src,
		Tree:   tree,
		Hash:   hex.EncodeToString(sum[:]),
	}
	f.Package, f.Imports = header(tree.RootNode(), src)
	return f, nil
}

// header extracts the package name and imports from the top of a program.
func header(root *sitter.Node, src []byte) (string, []Import) {
	if root == nil {
		return "", nil
	}

	var pkg string
	var imports []Import
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "package_declaration":
			if name := firstNamedOfType(child, "scoped_identifier", "identifier"); name != nil {
				pkg = name.Content(src)
			}
		case "import_declaration":
			imp := Import{}
			for j := 0; j < int(child.ChildCount()); j++ {
				c := child.Child(j)
				switch c.Type() {
				case "static":
					imp.Static = true
				case "asterisk":
					imp.Wildcard = true
				case "scoped_identifier", "identifier":
					imp.Path = c.Content(src)
				}
			}
			if imp.Path != "" {
				imports = append(imports, imp)
			}
		}
	}
	return pkg, imports
}

func firstNamedOfType(n *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		for _, t := range types {
			if child.Type() == t {
				return child
			}
		}
	}
	return nil
}
