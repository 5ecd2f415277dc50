package oracle

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/callsite/internal/javaast"
)

const maxResolveDepth = 32

// ResolveType returns the static type of n: an expression, a type node, a
// type declaration, or the object_creation_expression of an anonymous class.
// The boolean is false when the type cannot be determined.
func (o *Oracle) ResolveType(f *javaast.File, n *sitter.Node) (string, bool) {
	if f == nil || n == nil {
		return "", false
	}
	return o.typeOf(f, o.scopeFor(f), n, 0)
}

// ImplicitReceiver returns the type an unqualified method call is invoked
// on: the innermost enclosing type, anonymous classes included, whose
// lineage has a method of that name. When none has one it is the innermost
// enclosing type.
func (o *Oracle) ImplicitReceiver(f *javaast.File, call *sitter.Node) (string, bool) {
	if f == nil || call == nil {
		return "", false
	}
	return o.implicitReceiver(f, o.scopeFor(f), call, 0)
}

func (o *Oracle) implicitReceiver(f *javaast.File, sc *scope, call *sitter.Node, depth int) (string, bool) {
	name := javaast.Invocation{File: f, Node: call}.Name()
	var innermost string
	for decl := javaast.EnclosingTypeDecl(call); decl != nil; decl = javaast.EnclosingTypeDecl(decl) {
		t, ok := o.typeOf(f, sc, decl, depth+1)
		if !ok {
			continue
		}
		if innermost == "" {
			innermost = t
		}
		if o.hasMethod(t, name) {
			return t, true
		}
	}
	return innermost, innermost != ""
}

func (o *Oracle) typeOf(f *javaast.File, sc *scope, n *sitter.Node, depth int) (string, bool) {
	if n == nil || depth > maxResolveDepth {
		return "", false
	}

	switch n.Type() {
	case "class_declaration", "interface_declaration", "enum_declaration",
		"record_declaration", "annotation_type_declaration":
		fq, ok := o.decls[f][n.StartByte()]
		return fq, ok

	case "object_creation_expression":
		return o.typeNodeName(f, sc, n.ChildByFieldName("type"))

	case "type_identifier", "scoped_type_identifier", "generic_type", "array_type",
		"integral_type", "floating_point_type", "boolean_type":
		return o.typeNodeName(f, sc, n)

	case "identifier":
		return o.identType(f, sc, n, depth)

	case "this":
		return o.typeOf(f, sc, javaast.EnclosingTypeDecl(n), depth+1)

	case "super":
		self, ok := o.typeOf(f, sc, javaast.EnclosingTypeDecl(n), depth+1)
		if !ok {
			return "", false
		}
		return o.superclass(self), true

	case "field_access":
		return o.fieldAccessType(f, sc, n, depth)

	case "method_invocation":
		inv := javaast.Invocation{File: f, Node: n}
		var owner string
		var ok bool
		if recv := inv.Receiver(); recv != nil {
			owner, ok = o.typeOf(f, sc, recv, depth+1)
		} else {
			owner, ok = o.implicitReceiver(f, sc, n, depth)
		}
		if !ok {
			return "", false
		}
		return o.methodReturn(owner, inv.Name(), len(inv.Args()))

	case "parenthesized_expression":
		if n.NamedChildCount() == 0 {
			return "", false
		}
		return o.typeOf(f, sc, n.NamedChild(0), depth+1)

	case "cast_expression":
		return o.typeNodeName(f, sc, n.ChildByFieldName("type"))

	case "ternary_expression":
		if t, ok := o.typeOf(f, sc, n.ChildByFieldName("consequence"), depth+1); ok && t != NullType {
			return t, true
		}
		return o.typeOf(f, sc, n.ChildByFieldName("alternative"), depth+1)

	case "assignment_expression":
		return o.typeOf(f, sc, n.ChildByFieldName("left"), depth+1)

	case "binary_expression":
		return o.binaryType(f, sc, n, depth)

	case "unary_expression":
		if op := n.ChildByFieldName("operator"); op != nil && op.Type() == "!" {
			return "boolean", true
		}
		return o.typeOf(f, sc, n.ChildByFieldName("operand"), depth+1)

	case "update_expression":
		if n.NamedChildCount() == 0 {
			return "", false
		}
		return o.typeOf(f, sc, n.NamedChild(0), depth+1)

	case "instanceof_expression":
		return "boolean", true

	case "array_access":
		t, ok := o.typeOf(f, sc, n.ChildByFieldName("array"), depth+1)
		if !ok {
			return "", false
		}
		return arrayElem(t)

	case "array_creation_expression":
		elem, ok := o.typeNodeName(f, sc, n.ChildByFieldName("type"))
		if !ok {
			return "", false
		}
		dims := 0
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dimensions_expr":
				dims++
			case "dimensions":
				dims += strings.Count(f.Text(c), "[")
			}
		}
		return elem + strings.Repeat("[]", dims), true

	case "string_literal", "text_block":
		return "java.lang.String", true

	case "decimal_integer_literal", "hex_integer_literal", "octal_integer_literal", "binary_integer_literal":
		if strings.HasSuffix(strings.ToLower(f.Text(n)), "l") {
			return "long", true
		}
		return "int", true

	case "decimal_floating_point_literal", "hex_floating_point_literal":
		if strings.HasSuffix(strings.ToLower(f.Text(n)), "f") {
			return "float", true
		}
		return "double", true

	case "true", "false":
		return "boolean", true

	case "character_literal":
		return "char", true

	case "null_literal":
		return NullType, true

	case "class_literal":
		return "java.lang.Class", true
	}
	return "", false
}

func (o *Oracle) identType(f *javaast.File, sc *scope, n *sitter.Node, depth int) (string, bool) {
	name := f.Text(n)
	if b, ok := o.lookupVariable(f, sc, n, name, depth); ok {
		if b.resolved != "" {
			return b.resolved, true
		}
		if b.typ == nil {
			return "", false
		}
		if f.Text(b.typ) == "var" {
			return o.typeOf(f, sc, b.value, depth+1)
		}
		t, ok := o.typeNodeName(f, sc, b.typ)
		if !ok {
			return "", false
		}
		return t + strings.Repeat("[]", b.dims), true
	}
	// Not a variable in scope: a type name used as a static receiver.
	return o.resolveName(sc, name)
}

func (o *Oracle) fieldAccessType(f *javaast.File, sc *scope, n *sitter.Node, depth int) (string, bool) {
	// A qualified type name parses as a field access, e.g. javax.servlet.Foo.
	if t, ok := o.resolveName(sc, f.Text(n)); ok && o.Known(t) {
		return t, true
	}
	owner, ok := o.typeOf(f, sc, n.ChildByFieldName("object"), depth+1)
	if !ok {
		return "", false
	}
	field := f.Text(n.ChildByFieldName("field"))
	if _, isArray := arrayElem(owner); isArray && field == "length" {
		return "int", true
	}
	return o.fieldType(owner, field)
}

func (o *Oracle) binaryType(f *javaast.File, sc *scope, n *sitter.Node, depth int) (string, bool) {
	op := n.ChildByFieldName("operator")
	if op == nil {
		return "", false
	}
	switch op.Type() {
	case "==", "!=", "<", ">", "<=", ">=", "&&", "||":
		return "boolean", true
	}

	lt, lok := o.typeOf(f, sc, n.ChildByFieldName("left"), depth+1)
	rt, rok := o.typeOf(f, sc, n.ChildByFieldName("right"), depth+1)
	if op.Type() == "+" && ((lok && lt == "java.lang.String") || (rok && rt == "java.lang.String")) {
		return "java.lang.String", true
	}
	if !lok || !rok {
		return "", false
	}
	switch op.Type() {
	case "<<", ">>", ">>>":
		return promote(lt, "int")
	}
	return promote(lt, rt)
}

// binding is what a variable lookup finds: a declared type node (plus array
// dimensions on the declarator), or an already resolved type for inherited
// fields. A binding with neither is an untyped lambda parameter.
type binding struct {
	typ      *sitter.Node
	value    *sitter.Node
	dims     int
	resolved string
}

// lookupVariable finds the declaration of name visible at n by walking up
// the enclosing scopes.
func (o *Oracle) lookupVariable(f *javaast.File, sc *scope, n *sitter.Node, name string, depth int) (binding, bool) {
	for child, parent := n, n.Parent(); parent != nil; child, parent = parent, parent.Parent() {
		switch parent.Type() {
		case "block", "constructor_body", "switch_block_statement_group", "program":
			for i := 0; i < int(parent.NamedChildCount()); i++ {
				stmt := parent.NamedChild(i)
				if stmt.StartByte() >= child.StartByte() {
					break
				}
				if stmt.Type() == "local_variable_declaration" {
					if b, ok := declaratorBinding(f, stmt, name); ok {
						return b, true
					}
				}
			}

		case "method_declaration", "constructor_declaration", "lambda_expression":
			if b, ok := paramBinding(f, parent.ChildByFieldName("parameters"), name); ok {
				return b, true
			}

		case "catch_clause":
			for i := 0; i < int(parent.NamedChildCount()); i++ {
				p := parent.NamedChild(i)
				if p.Type() != "catch_formal_parameter" || f.Text(p.ChildByFieldName("name")) != name {
					continue
				}
				return binding{typ: firstNamedOfType(p, "catch_type")}, true
			}

		case "enhanced_for_statement":
			if f.Text(parent.ChildByFieldName("name")) == name {
				return binding{typ: parent.ChildByFieldName("type")}, true
			}

		case "for_statement":
			for i := 0; i < int(parent.NamedChildCount()); i++ {
				init := parent.NamedChild(i)
				if init.Type() != "local_variable_declaration" || init.StartByte() >= child.StartByte() {
					continue
				}
				if b, ok := declaratorBinding(f, init, name); ok {
					return b, true
				}
			}

		case "resource_specification":
			for i := 0; i < int(parent.NamedChildCount()); i++ {
				r := parent.NamedChild(i)
				if r.Type() != "resource" || r.StartByte() >= child.StartByte() {
					continue
				}
				if f.Text(r.ChildByFieldName("name")) == name {
					return binding{typ: r.ChildByFieldName("type"), value: r.ChildByFieldName("value")}, true
				}
			}

		case "try_with_resources_statement":
			if spec := parent.ChildByFieldName("resources"); spec != nil && spec.StartByte() != child.StartByte() {
				for i := 0; i < int(spec.NamedChildCount()); i++ {
					r := spec.NamedChild(i)
					if r.Type() == "resource" && f.Text(r.ChildByFieldName("name")) == name {
						return binding{typ: r.ChildByFieldName("type"), value: r.ChildByFieldName("value")}, true
					}
				}
			}

		case "record_declaration":
			if b, ok := paramBinding(f, parent.ChildByFieldName("parameters"), name); ok {
				return b, true
			}

		case "class_body", "interface_body", "enum_body_declarations":
			for i := 0; i < int(parent.NamedChildCount()); i++ {
				m := parent.NamedChild(i)
				if m.Type() != "field_declaration" && m.Type() != "constant_declaration" {
					continue
				}
				if b, ok := declaratorBinding(f, m, name); ok {
					return b, true
				}
			}
			owner := parent.Parent()
			if owner != nil && owner.Type() == "enum_body" {
				owner = owner.Parent()
			}
			if fq, ok := o.typeOf(f, sc, owner, depth+1); ok {
				if t, ok := o.fieldType(fq, name); ok {
					return binding{resolved: t}, true
				}
			}
		}
	}
	return binding{}, false
}

func declaratorBinding(f *javaast.File, decl *sitter.Node, name string) (binding, bool) {
	typ := decl.ChildByFieldName("type")
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		vd := decl.NamedChild(i)
		if vd.Type() != "variable_declarator" || f.Text(vd.ChildByFieldName("name")) != name {
			continue
		}
		return binding{typ: typ, value: vd.ChildByFieldName("value"), dims: dimsOf(f, vd)}, true
	}
	return binding{}, false
}

func paramBinding(f *javaast.File, params *sitter.Node, name string) (binding, bool) {
	if params == nil {
		return binding{}, false
	}
	switch params.Type() {
	case "identifier":
		return binding{}, f.Text(params) == name
	case "inferred_parameters":
		for i := 0; i < int(params.NamedChildCount()); i++ {
			if f.Text(params.NamedChild(i)) == name {
				return binding{}, true
			}
		}
	case "formal_parameters":
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			switch p.Type() {
			case "formal_parameter":
				if f.Text(p.ChildByFieldName("name")) == name {
					return binding{typ: p.ChildByFieldName("type"), dims: dimsOf(f, p)}, true
				}
			case "spread_parameter":
				vd := firstNamedOfType(p, "variable_declarator")
				if vd == nil || f.Text(vd.ChildByFieldName("name")) != name {
					continue
				}
				for j := 0; j < int(p.NamedChildCount()); j++ {
					c := p.NamedChild(j)
					if c.Type() != "modifiers" && c.Type() != "variable_declarator" {
						return binding{typ: c, dims: 1}, true
					}
				}
				return binding{}, true
			}
		}
	}
	return binding{}, false
}

func dimsOf(f *javaast.File, n *sitter.Node) int {
	d := n.ChildByFieldName("dimensions")
	if d == nil {
		return 0
	}
	return strings.Count(f.Text(d), "[")
}

func firstNamedOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			return c
		}
	}
	return nil
}
