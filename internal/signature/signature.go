// Package signature describes which method invocations a rule targets.
//
// A Signature names one or more owner types, one or more method names and a
// parameter shape. It is validated and frozen by New and is safe to share
// between goroutines. Matching consults an Oracle for static types and never
// matches when a type cannot be resolved.
package signature

import (
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/callsite/internal/javaast"
)

// ErrInvalid is wrapped by every error returned from New.
var ErrInvalid = errors.New("invalid signature")

// Oracle answers the static-type questions a Signature needs.
type Oracle interface {
	ResolveType(f *javaast.File, n *sitter.Node) (string, bool)
	// ImplicitReceiver types the receiver of a call written without one.
	ImplicitReceiver(f *javaast.File, call *sitter.Node) (string, bool)
	IsSubtype(candidate, target string) bool
}

// TypeRef is a fully-qualified type name, optionally matching subtypes.
type TypeRef struct {
	Name     string
	Subtypes bool
}

// Exact matches only the named type.
func Exact(name string) TypeRef { return TypeRef{Name: name} }

// SubtypeOf matches the named type and all of its subtypes.
func SubtypeOf(name string) TypeRef { return TypeRef{Name: name, Subtypes: true} }

func (t TypeRef) String() string {
	if t.Subtypes {
		return t.Name + "+"
	}
	return t.Name
}

// Spec is the unvalidated input to New.
type Spec struct {
	Owners []TypeRef
	Names  []string
	Params Parameters
}

// Signature is an immutable invocation predicate.
type Signature struct {
	owners []TypeRef
	names  map[string]struct{}
	order  []string
	params Parameters
	str    string
}

// New validates spec and returns a frozen Signature. Owners and names must be
// non-empty and contain no blank entries, and the parameter shape must be set.
func New(spec Spec) (*Signature, error) {
	if len(spec.Owners) == 0 {
		return nil, fmt.Errorf("%w: no owner types", ErrInvalid)
	}
	if len(spec.Names) == 0 {
		return nil, fmt.Errorf("%w: no method names", ErrInvalid)
	}

	s := &Signature{
		owners: make([]TypeRef, 0, len(spec.Owners)),
		names:  make(map[string]struct{}, len(spec.Names)),
	}
	for _, o := range spec.Owners {
		name := strings.TrimSpace(o.Name)
		if !validTypeName(name) {
			return nil, fmt.Errorf("%w: owner type %q", ErrInvalid, o.Name)
		}
		s.owners = append(s.owners, TypeRef{Name: name, Subtypes: o.Subtypes})
	}
	for _, n := range spec.Names {
		if n != javaast.ConstructorName && !validIdentifier(n) {
			return nil, fmt.Errorf("%w: method name %q", ErrInvalid, n)
		}
		if _, dup := s.names[n]; dup {
			continue
		}
		s.names[n] = struct{}{}
		s.order = append(s.order, n)
	}

	params, err := spec.Params.validate()
	if err != nil {
		return nil, err
	}
	s.params = params
	s.str = s.format()
	return s, nil
}

// MustNew is like New but panics on an invalid spec. It is meant for
// signatures declared in Go source.
func MustNew(spec Spec) *Signature {
	s, err := New(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// Owners returns a copy of the owner types.
func (s *Signature) Owners() []TypeRef {
	out := make([]TypeRef, len(s.owners))
	copy(out, s.owners)
	return out
}

// Names returns a copy of the method names in declaration order.
func (s *Signature) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Params returns the parameter shape.
func (s *Signature) Params() Parameters {
	return s.params.clone()
}

// HasName reports whether name is one of the signature's method names.
// Names are case-sensitive.
func (s *Signature) HasName(name string) bool {
	_, ok := s.names[name]
	return ok
}

// String renders the signature as owners#names(params), e.g.
// "javax.servlet.http.HttpServletRequest+#getRequestedSessionId()".
func (s *Signature) String() string {
	return s.str
}

func (s *Signature) format() string {
	owners := make([]string, len(s.owners))
	for i, o := range s.owners {
		owners[i] = o.String()
	}
	return strings.Join(owners, "|") + "#" + strings.Join(s.order, "|") + s.params.String()
}

// Matches reports whether inv satisfies the signature. It checks the method
// name first, then the receiver type against the owners, then the arguments.
// Any type the oracle cannot resolve makes the result false.
func (s *Signature) Matches(inv javaast.Invocation, o Oracle) bool {
	if inv.Node == nil || !s.HasName(inv.Name()) {
		return false
	}

	var typ string
	var ok bool
	if recv := inv.Receiver(); recv != nil {
		typ, ok = o.ResolveType(inv.File, recv)
	} else {
		typ, ok = o.ImplicitReceiver(inv.File, inv.Node)
	}
	if !ok {
		return false
	}
	if !s.ownerMatches(typ, o) {
		return false
	}
	return s.params.accepts(inv, o)
}

func (s *Signature) ownerMatches(typ string, o Oracle) bool {
	for _, owner := range s.owners {
		if owner.Subtypes {
			if o.IsSubtype(typ, owner.Name) {
				return true
			}
			continue
		}
		if typ == owner.Name {
			return true
		}
	}
	return false
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		case r > 127:
		default:
			return false
		}
	}
	return true
}

func validTypeName(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !validIdentifier(part) {
			return false
		}
	}
	return true
}
