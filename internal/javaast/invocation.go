package javaast

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// ConstructorName is the invocation name reported for `new T(...)`.
const ConstructorName = "<init>"

// Node types that declare a type and may act as an implicit receiver.
var typeDeclTypes = map[string]bool{
	"class_declaration":           true,
	"interface_declaration":       true,
	"enum_declaration":            true,
	"record_declaration":          true,
	"annotation_type_declaration": true,
}

// IsTypeDecl reports whether n declares a class, interface, enum, record or
// annotation type.
func IsTypeDecl(n *sitter.Node) bool {
	return n != nil && typeDeclTypes[n.Type()]
}

// IsInvocation reports whether n is a method call or an instance creation.
func IsInvocation(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "method_invocation", "object_creation_expression":
		return true
	}
	return false
}

// Span is a source range. Lines and columns are 1-based.
type Span struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
}

// SpanOf returns the span covered by n.
func SpanOf(n *sitter.Node) Span {
	if n == nil {
		return Span{}
	}
	start, end := n.StartPoint(), n.EndPoint()
	return Span{
		StartLine:   int(start.Row) + 1,
		StartColumn: int(start.Column) + 1,
		EndLine:     int(end.Row) + 1,
		EndColumn:   int(end.Column) + 1,
	}
}

// Invocation is a read-only view over a method_invocation or
// object_creation_expression node.
type Invocation struct {
	File *File
	Node *sitter.Node
}

// AsInvocation wraps n if it is an invocation node.
func AsInvocation(f *File, n *sitter.Node) (Invocation, bool) {
	if !IsInvocation(n) {
		return Invocation{}, false
	}
	return Invocation{File: f, Node: n}, true
}

// IsConstructor reports whether the invocation is `new T(...)`.
func (inv Invocation) IsConstructor() bool {
	return inv.Node.Type() == "object_creation_expression"
}

// Name returns the called method name, or ConstructorName for instance
// creation.
func (inv Invocation) Name() string {
	if inv.IsConstructor() {
		return ConstructorName
	}
	return inv.File.Text(inv.Node.ChildByFieldName("name"))
}

// NameNode returns the node to report on: the method name, or the created
// type for constructors.
func (inv Invocation) NameNode() *sitter.Node {
	if inv.IsConstructor() {
		return inv.Node.ChildByFieldName("type")
	}
	return inv.Node.ChildByFieldName("name")
}

// Receiver returns the explicit receiver expression (`obj` in `obj.m()`,
// including `this` and `super`), the created type node for constructors, or
// nil when the receiver is implicit.
func (inv Invocation) Receiver() *sitter.Node {
	if inv.IsConstructor() {
		return inv.Node.ChildByFieldName("type")
	}
	return inv.Node.ChildByFieldName("object")
}

// Args returns the argument expressions in order.
func (inv Invocation) Args() []*sitter.Node {
	list := inv.Node.ChildByFieldName("arguments")
	if list == nil {
		return nil
	}
	args := make([]*sitter.Node, 0, list.NamedChildCount())
	for i := 0; i < int(list.NamedChildCount()); i++ {
		arg := list.NamedChild(i)
		if arg.Type() == "comment" || arg.Type() == "line_comment" || arg.Type() == "block_comment" {
			continue
		}
		args = append(args, arg)
	}
	return args
}

// Span returns the span of the whole invocation expression.
func (inv Invocation) Span() Span {
	return SpanOf(inv.Node)
}

// EnclosingTypeDecl returns the nearest declaration or anonymous class body
// owner that encloses n: a type declaration node, or the
// object_creation_expression of an anonymous class. Nil at top level.
func EnclosingTypeDecl(n *sitter.Node) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if IsTypeDecl(p) {
			return p
		}
		if p.Type() == "class_body" {
			if owner := p.Parent(); owner != nil && owner.Type() == "object_creation_expression" {
				return owner
			}
		}
	}
	return nil
}

// EnclosingMethod returns the nearest method, constructor or lambda that
// encloses n, or nil.
func EnclosingMethod(n *sitter.Node) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "method_declaration", "constructor_declaration", "compact_constructor_declaration":
			return p
		case "class_body", "interface_body", "enum_body":
			return nil
		}
	}
	return nil
}

// FindNodes performs a recursive DFS and calls fn for every node whose Type()
// is in nodeTypes.
func FindNodes(node *sitter.Node, nodeTypes map[string]bool, fn func(*sitter.Node)) {
	if node == nil {
		return
	}
	if nodeTypes[node.Type()] {
		fn(node)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		FindNodes(node.Child(i), nodeTypes, fn)
	}
}
