// Package oracle answers static-type questions about Java sources: the type of
// an expression or declaration, and whether one type is a subtype of another.
//
// An Oracle is built once per run from a library catalog and the parsed
// project files, and is read-only afterwards, so it may be shared by any
// number of goroutines.
package oracle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/callsite/internal/javaast"
)

// ObjectType is the root of the reference type hierarchy.
const ObjectType = "java.lang.Object"

// NullType is the type of the null literal.
const NullType = "null"

type member struct {
	arity   int // -1 accepts any argument count
	returns string
}

type typeInfo struct {
	name       string
	superclass string
	supertypes []string
	methods    map[string][]member
	fields     map[string]string
}

func newTypeInfo(name string) *typeInfo {
	return &typeInfo{
		name:    name,
		methods: make(map[string][]member),
		fields:  make(map[string]string),
	}
}

// Oracle is an immutable type index.
type Oracle struct {
	types       map[string]*typeInfo
	decls       map[*javaast.File]map[uint32]string
	scopes      map[*javaast.File]*scope
	fingerprint string
}

// Builder accumulates catalog entries and files. It is not safe for
// concurrent use.
type Builder struct {
	catalog []CatalogType
	files   []*javaast.File
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddCatalog registers library types.
func (b *Builder) AddCatalog(types ...CatalogType) *Builder {
	b.catalog = append(b.catalog, types...)
	return b
}

// AddFile registers a parsed source file whose declarations become known
// types.
func (b *Builder) AddFile(files ...*javaast.File) *Builder {
	b.files = append(b.files, files...)
	return b
}

type declRef struct {
	file *javaast.File
	node *sitter.Node
	name string
}

// Build indexes everything added so far. Project declarations take
// precedence over catalog entries with the same name.
func (b *Builder) Build() *Oracle {
	o := &Oracle{
		types:  make(map[string]*typeInfo),
		decls:  make(map[*javaast.File]map[uint32]string),
		scopes: make(map[*javaast.File]*scope),
	}
	for _, ct := range b.catalog {
		o.addCatalog(ct)
	}

	var decls []declRef
	locals := make(map[*javaast.File]map[string]string, len(b.files))
	for _, f := range b.files {
		byStart := make(map[uint32]string)
		local := make(map[string]string)
		collectDecls(f, f.Root(), f.Package, func(node *sitter.Node, simple, fq string) {
			byStart[node.StartByte()] = fq
			if _, seen := local[simple]; !seen {
				local[simple] = fq
			}
			o.types[fq] = newTypeInfo(fq)
			decls = append(decls, declRef{file: f, node: node, name: fq})
		})
		o.decls[f] = byStart
		locals[f] = local
	}

	for _, f := range b.files {
		o.scopes[f] = o.newScope(f, locals[f])
	}
	for _, d := range decls {
		o.fillDecl(d)
	}

	o.fingerprint = o.computeFingerprint()
	return o
}

func (o *Oracle) addCatalog(ct CatalogType) {
	ti := newTypeInfo(ct.Name)
	ti.supertypes = append(ti.supertypes, ct.Supertypes...)
	for name, ret := range ct.Methods {
		ti.methods[name] = append(ti.methods[name], member{arity: -1, returns: ret})
	}
	for name, typ := range ct.Fields {
		ti.fields[name] = typ
	}
	o.types[ct.Name] = ti
}

// collectDecls calls fn for every named type declaration under n, with its
// fully-qualified name. Nested types are qualified by their enclosing type.
func collectDecls(f *javaast.File, n *sitter.Node, prefix string, fn func(node *sitter.Node, simple, fq string)) {
	if n == nil {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if javaast.IsTypeDecl(child) {
			simple := f.Text(child.ChildByFieldName("name"))
			if simple == "" {
				continue
			}
			fq := qualify(prefix, simple)
			fn(child, simple, fq)
			collectDecls(f, child.ChildByFieldName("body"), fq, fn)
			continue
		}
		collectDecls(f, child, prefix, fn)
	}
}

func (o *Oracle) fillDecl(d declRef) {
	ti := o.types[d.name]
	sc := o.scopes[d.file]

	switch d.node.Type() {
	case "enum_declaration":
		ti.supertypes = append(ti.supertypes, "java.lang.Enum")
	case "record_declaration":
		ti.supertypes = append(ti.supertypes, "java.lang.Record")
	}

	for i := 0; i < int(d.node.NamedChildCount()); i++ {
		child := d.node.NamedChild(i)
		switch child.Type() {
		case "superclass", "super_interfaces", "extends_interfaces":
			for _, tn := range typeListNodes(child) {
				t, ok := o.typeNodeName(d.file, sc, tn)
				if !ok {
					continue
				}
				ti.supertypes = append(ti.supertypes, t)
				if child.Type() == "superclass" {
					ti.superclass = t
				}
			}
		}
	}

	if d.node.Type() == "record_declaration" {
		o.addParamFields(d.file, sc, ti, d.node.ChildByFieldName("parameters"))
	}
	o.addMembers(d.file, sc, ti, d.node.ChildByFieldName("body"))
}

func (o *Oracle) addMembers(f *javaast.File, sc *scope, ti *typeInfo, body *sitter.Node) {
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		m := body.NamedChild(i)
		switch m.Type() {
		case "enum_body_declarations":
			o.addMembers(f, sc, ti, m)
		case "method_declaration":
			name := f.Text(m.ChildByFieldName("name"))
			ret, ok := o.typeNodeName(f, sc, m.ChildByFieldName("type"))
			if !ok {
				ret = ""
			}
			ti.methods[name] = append(ti.methods[name], member{
				arity:   arity(m.ChildByFieldName("parameters")),
				returns: ret,
			})
		case "field_declaration", "constant_declaration":
			t, ok := o.typeNodeName(f, sc, m.ChildByFieldName("type"))
			if !ok {
				continue
			}
			for j := 0; j < int(m.NamedChildCount()); j++ {
				vd := m.NamedChild(j)
				if vd.Type() != "variable_declarator" {
					continue
				}
				ti.fields[f.Text(vd.ChildByFieldName("name"))] = t + strings.Repeat("[]", dimsOf(f, vd))
			}
		}
	}
}

func (o *Oracle) addParamFields(f *javaast.File, sc *scope, ti *typeInfo, params *sitter.Node) {
	if params == nil {
		return
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		if p.Type() != "formal_parameter" {
			continue
		}
		if t, ok := o.typeNodeName(f, sc, p.ChildByFieldName("type")); ok {
			ti.fields[f.Text(p.ChildByFieldName("name"))] = t
		}
	}
}

// arity counts declared parameters; varargs methods accept any count.
func arity(params *sitter.Node) int {
	if params == nil {
		return 0
	}
	n := 0
	for i := 0; i < int(params.NamedChildCount()); i++ {
		switch params.NamedChild(i).Type() {
		case "formal_parameter":
			n++
		case "spread_parameter":
			return -1
		}
	}
	return n
}

func typeListNodes(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "type_list" {
			out = append(out, typeListNodes(c)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Known reports whether name is a catalog or project type.
func (o *Oracle) Known(name string) bool {
	_, ok := o.types[name]
	return ok
}

// Supertypes returns the direct supertypes of name.
func (o *Oracle) Supertypes(name string) []string {
	ti, ok := o.types[name]
	if !ok {
		return nil
	}
	out := make([]string, len(ti.supertypes))
	copy(out, ti.supertypes)
	return out
}

// Fingerprint identifies the index: it changes whenever a type, a supertype
// edge, or the declared type of a method or field changes.
func (o *Oracle) Fingerprint() string {
	return o.fingerprint
}

func (o *Oracle) computeFingerprint() string {
	h := sha256.New()
	for _, name := range sortedKeys(o.types) {
		ti := o.types[name]
		fmt.Fprintf(h, "T %s\x00%s\x00%s\n", name, ti.superclass, strings.Join(ti.supertypes, ","))
		for _, m := range sortedKeys(ti.methods) {
			// overloads keep declaration order; the first arity match wins
			for _, mem := range ti.methods[m] {
				fmt.Fprintf(h, "M %s\x00%d\x00%s\n", m, mem.arity, mem.returns)
			}
		}
		for _, f := range sortedKeys(ti.fields) {
			fmt.Fprintf(h, "F %s\x00%s\n", f, ti.fields[f])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsSubtype reports whether a value of type candidate is assignable to
// target: identity, supertype reachability, null to any reference type,
// primitive widening, boxing, and array covariance.
func (o *Oracle) IsSubtype(candidate, target string) bool {
	if candidate == "" || target == "" {
		return false
	}
	if candidate == target {
		return true
	}
	if candidate == NullType {
		return !isPrimitive(target)
	}

	cPrim, tPrim := isPrimitive(candidate), isPrimitive(target)
	switch {
	case cPrim && tPrim:
		return widens(candidate, target)
	case cPrim:
		return o.IsSubtype(boxed[candidate], target)
	case tPrim:
		if p, ok := unboxed[candidate]; ok {
			return p == target || widens(p, target)
		}
		return false
	}

	if elem, ok := arrayElem(candidate); ok {
		switch target {
		case ObjectType, "java.lang.Cloneable", "java.io.Serializable":
			return true
		}
		telem, ok := arrayElem(target)
		if !ok {
			return false
		}
		if isPrimitive(elem) || isPrimitive(telem) {
			return elem == telem
		}
		return o.IsSubtype(elem, telem)
	}
	if target == ObjectType {
		return true
	}

	seen := map[string]bool{candidate: true}
	queue := []string{candidate}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		ti, ok := o.types[cur]
		if !ok {
			continue
		}
		for _, st := range ti.supertypes {
			if st == target {
				return true
			}
			if !seen[st] {
				seen[st] = true
				queue = append(queue, st)
			}
		}
	}
	return false
}

// lineage returns name followed by its supertypes in breadth-first order,
// ending with java.lang.Object.
func (o *Oracle) lineage(name string) []string {
	seen := map[string]bool{name: true}
	out := []string{name}
	for i := 0; i < len(out); i++ {
		ti, ok := o.types[out[i]]
		if !ok {
			continue
		}
		for _, st := range ti.supertypes {
			if !seen[st] {
				seen[st] = true
				out = append(out, st)
			}
		}
	}
	if !seen[ObjectType] {
		out = append(out, ObjectType)
	}
	return out
}

// hasMethod reports whether owner or one of its supertypes declares a
// method called name, whatever its arity.
func (o *Oracle) hasMethod(owner, name string) bool {
	for _, t := range o.lineage(owner) {
		if ti, ok := o.types[t]; ok && len(ti.methods[name]) > 0 {
			return true
		}
	}
	return false
}

func (o *Oracle) methodReturn(owner, name string, argc int) (string, bool) {
	for _, t := range o.lineage(owner) {
		ti, ok := o.types[t]
		if !ok {
			continue
		}
		for _, m := range ti.methods[name] {
			if m.arity == -1 || m.arity == argc {
				return m.returns, m.returns != ""
			}
		}
	}
	return "", false
}

func (o *Oracle) fieldType(owner, name string) (string, bool) {
	for _, t := range o.lineage(owner) {
		ti, ok := o.types[t]
		if !ok {
			continue
		}
		if ft, ok := ti.fields[name]; ok {
			return ft, true
		}
	}
	return "", false
}

func (o *Oracle) superclass(name string) string {
	if ti, ok := o.types[name]; ok && ti.superclass != "" {
		return ti.superclass
	}
	return ObjectType
}
