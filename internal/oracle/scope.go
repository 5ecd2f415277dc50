package oracle

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/callsite/internal/javaast"
)

// scope is the type-name resolution context of one compilation unit.
type scope struct {
	pkg      string
	single   map[string]string // simple name -> imported type
	wildcard []string          // on-demand import prefixes
	local    map[string]string // types declared in the file
}

func (o *Oracle) newScope(f *javaast.File, local map[string]string) *scope {
	sc := &scope{
		pkg:    f.Package,
		single: make(map[string]string),
		local:  local,
	}
	if sc.local == nil {
		sc.local = make(map[string]string)
		collectDecls(f, f.Root(), f.Package, func(_ *sitter.Node, simple, fq string) {
			if _, seen := sc.local[simple]; !seen {
				sc.local[simple] = fq
			}
		})
	}
	for _, imp := range f.Imports {
		if imp.Static {
			continue
		}
		if imp.Wildcard {
			sc.wildcard = append(sc.wildcard, imp.Path)
			continue
		}
		sc.single[lastSegment(imp.Path)] = imp.Path
	}
	return sc
}

// scopeFor returns the precomputed scope of f, or builds a transient one for
// files the oracle was not built with.
func (o *Oracle) scopeFor(f *javaast.File) *scope {
	if sc, ok := o.scopes[f]; ok {
		return sc
	}
	return o.newScope(f, nil)
}

// resolveName maps a type name as written in source to a fully-qualified
// name. Single-type imports and types declared in the file always resolve;
// same-package, on-demand and java.lang lookups only resolve known types.
func (o *Oracle) resolveName(sc *scope, raw string) (string, bool) {
	name := strings.Join(strings.Fields(stripTypeArgs(raw)), "")
	if name == "" {
		return "", false
	}

	dims := ""
	for strings.HasSuffix(name, "[]") {
		name = strings.TrimSuffix(name, "[]")
		dims += "[]"
	}
	if isPrimitive(name) {
		return name + dims, true
	}

	if i := strings.IndexByte(name, '.'); i >= 0 {
		if head, ok := o.resolveSimple(sc, name[:i]); ok {
			return head + name[i:] + dims, true
		}
		return name + dims, true
	}
	t, ok := o.resolveSimple(sc, name)
	if !ok {
		return "", false
	}
	return t + dims, true
}

func (o *Oracle) resolveSimple(sc *scope, name string) (string, bool) {
	if t, ok := sc.local[name]; ok {
		return t, true
	}
	if t, ok := sc.single[name]; ok {
		return t, true
	}
	if cand := qualify(sc.pkg, name); o.Known(cand) {
		return cand, true
	}
	for _, prefix := range sc.wildcard {
		if cand := prefix + "." + name; o.Known(cand) {
			return cand, true
		}
	}
	if cand := "java.lang." + name; o.Known(cand) {
		return cand, true
	}
	return "", false
}

// typeNodeName resolves a type node (as found in declarations, casts and
// instance creation) to a fully-qualified name.
func (o *Oracle) typeNodeName(f *javaast.File, sc *scope, n *sitter.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case "integral_type", "floating_point_type", "boolean_type", "void_type":
		return strings.TrimSpace(f.Text(n)), true
	case "type_identifier", "scoped_type_identifier", "identifier", "scoped_identifier":
		return o.resolveName(sc, f.Text(n))
	case "generic_type":
		if n.NamedChildCount() == 0 {
			return "", false
		}
		return o.typeNodeName(f, sc, n.NamedChild(0))
	case "array_type":
		elem, ok := o.typeNodeName(f, sc, n.ChildByFieldName("element"))
		if !ok {
			return "", false
		}
		return elem + strings.Repeat("[]", strings.Count(f.Text(n.ChildByFieldName("dimensions")), "[")), true
	case "annotated_type", "catch_type":
		// multi-catch resolves to its first alternative
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "annotation" || c.Type() == "marker_annotation" {
				continue
			}
			return o.typeNodeName(f, sc, c)
		}
	}
	return "", false
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// stripTypeArgs removes every <...> group, including nested ones.
func stripTypeArgs(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
