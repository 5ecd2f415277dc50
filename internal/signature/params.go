package signature

import (
	"fmt"
	"strings"

	"github.com/chris-regnier/callsite/internal/javaast"
)

// ParamKind selects how arguments are checked.
type ParamKind int

const (
	paramsUnset ParamKind = iota
	// KindNone accepts only calls without arguments.
	KindNone
	// KindAny accepts any argument list.
	KindAny
	// KindExact accepts argument lists whose types are assignable, in
	// order, to the declared parameter types.
	KindExact
)

func (k ParamKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAny:
		return "any"
	case KindExact:
		return "exact"
	default:
		return "unset"
	}
}

const varargsSuffix = "..."

// Parameters is the parameter shape of a Signature. The zero value is
// unset and rejected by New.
type Parameters struct {
	kind  ParamKind
	types []string
}

// NoParams matches calls with zero arguments.
func NoParams() Parameters { return Parameters{kind: KindNone} }

// AnyParams matches any argument list.
func AnyParams() Parameters { return Parameters{kind: KindAny} }

// ExactTypes matches argument lists assignable to types. A last type ending
// in "..." is a varargs parameter.
func ExactTypes(types ...string) Parameters {
	t := make([]string, len(types))
	copy(t, types)
	return Parameters{kind: KindExact, types: t}
}

// Kind returns the parameter shape kind.
func (p Parameters) Kind() ParamKind { return p.kind }

// Types returns a copy of the declared parameter types for KindExact.
func (p Parameters) Types() []string {
	out := make([]string, len(p.types))
	copy(out, p.types)
	return out
}

// Varargs reports whether the last declared parameter is variadic.
func (p Parameters) Varargs() bool {
	return p.kind == KindExact && len(p.types) > 0 && strings.HasSuffix(p.types[len(p.types)-1], varargsSuffix)
}

func (p Parameters) clone() Parameters {
	return Parameters{kind: p.kind, types: p.Types()}
}

func (p Parameters) String() string {
	switch p.kind {
	case KindNone:
		return "()"
	case KindAny:
		return "(..)"
	case KindExact:
		return "(" + strings.Join(p.types, ", ") + ")"
	default:
		return "(?)"
	}
}

func (p Parameters) validate() (Parameters, error) {
	switch p.kind {
	case KindNone, KindAny:
		return Parameters{kind: p.kind}, nil
	case KindExact:
	default:
		return Parameters{}, fmt.Errorf("%w: parameter shape not set", ErrInvalid)
	}

	out := Parameters{kind: KindExact, types: make([]string, len(p.types))}
	for i, raw := range p.types {
		t := strings.Join(strings.Fields(raw), "")
		base := strings.TrimSuffix(t, varargsSuffix)
		if base != t && i != len(p.types)-1 {
			return Parameters{}, fmt.Errorf("%w: varargs parameter %q must be last", ErrInvalid, raw)
		}
		if !validParamType(base) {
			return Parameters{}, fmt.Errorf("%w: parameter type %q", ErrInvalid, raw)
		}
		out.types[i] = t
	}
	return out, nil
}

func validParamType(s string) bool {
	for strings.HasSuffix(s, "[]") {
		s = strings.TrimSuffix(s, "[]")
	}
	return validTypeName(s)
}

func (p Parameters) accepts(inv javaast.Invocation, o Oracle) bool {
	switch p.kind {
	case KindNone:
		return len(inv.Args()) == 0
	case KindAny:
		return true
	case KindExact:
	default:
		return false
	}

	args := inv.Args()
	fixed := p.types
	var elem string
	if p.Varargs() {
		fixed = p.types[:len(p.types)-1]
		elem = strings.TrimSuffix(p.types[len(p.types)-1], varargsSuffix)
		if len(args) < len(fixed) {
			return false
		}
	} else if len(args) != len(fixed) {
		return false
	}

	argTypes := make([]string, len(args))
	for i, arg := range args {
		t, ok := o.ResolveType(inv.File, arg)
		if !ok {
			return false
		}
		argTypes[i] = t
	}

	for i, want := range fixed {
		if !o.IsSubtype(argTypes[i], want) {
			return false
		}
	}
	if elem == "" {
		return true
	}

	rest := argTypes[len(fixed):]
	if len(rest) == 1 && o.IsSubtype(rest[0], elem+"[]") {
		return true
	}
	for _, t := range rest {
		if !o.IsSubtype(t, elem) {
			return false
		}
	}
	return true
}
