// Package engine connects method-invocation rules to parsed Java files.
//
// Rules are compiled once per run into an immutable Registry. A Traversal
// walks one file depth-first and hands every matching invocation to the
// callbacks of the rules whose signatures it satisfies. A Runner executes
// traversals for many files in parallel and merges their results in input
// order. The Registry and the Oracle are shared read-only by all workers.
package engine

import (
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/callsite/internal/javaast"
	"github.com/chris-regnier/callsite/internal/signature"
)

var (
	// ErrUnknownOwner marks a rule whose owner types the oracle does not know.
	ErrUnknownOwner = errors.New("unknown owner type")
	// ErrDuplicateRule marks a rule whose ID was already registered.
	ErrDuplicateRule = errors.New("duplicate rule id")
	// ErrInvalidRule marks a rule without an ID, signatures or callback.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrCallbackPanic wraps a value recovered from a panicking callback.
	ErrCallbackPanic = errors.New("callback panicked")
	// ErrMalformedTree aborts the traversal of a file with syntax errors.
	ErrMalformedTree = errors.New("malformed syntax tree")
	// ErrAlreadyRun is returned when a Traversal is run twice.
	ErrAlreadyRun = errors.New("traversal already run")
)

// Oracle is the type service the engine consults. Known is used at
// registry build time to validate owner types.
type Oracle interface {
	signature.Oracle
	Known(name string) bool
}

// Level is the severity attached to a rule's diagnostics.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
)

// Callback receives matched invocations for one rule.
type Callback interface {
	OnMatch(c *Call) error
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(c *Call) error

// OnMatch calls f(c).
func (f CallbackFunc) OnMatch(c *Call) error { return f(c) }

// Rule declares the signatures it targets and the callback invoked on each
// matching invocation.
type Rule struct {
	ID         string
	Level      Level
	Signatures []*signature.Signature
	Callback   Callback
	// Fingerprint changes whenever Callback would report differently. Cached
	// results are not used for a registry holding a rule without one.
	Fingerprint string
}

// Diagnostic is one finding reported by a rule callback.
type Diagnostic struct {
	RuleID  string       `json:"rule_id"`
	Level   Level        `json:"level"`
	Message string       `json:"message"`
	Path    string       `json:"path"`
	Span    javaast.Span `json:"span"`
}

// Failure records a callback that returned an error or panicked. It is
// distinct from a Diagnostic: it reports a broken rule, not a finding.
type Failure struct {
	RuleID string       `json:"rule_id"`
	Path   string       `json:"path"`
	Span   javaast.Span `json:"span"`
	Err    error        `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("rule %s at %s:%d:%d: %v", f.RuleID, f.Path, f.Span.StartLine, f.Span.StartColumn, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// ConfigError reports a rule excluded from the registry.
type ConfigError struct {
	RuleID string
	Owners []string // unknown owner types, for ErrUnknownOwner
	Err    error
}

func (e ConfigError) Error() string {
	if len(e.Owners) > 0 {
		return fmt.Sprintf("rule %s: %v: %v", e.RuleID, e.Err, e.Owners)
	}
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e ConfigError) Unwrap() error { return e.Err }

// Call is passed to a callback for one matched invocation.
type Call struct {
	Invocation javaast.Invocation
	Signature  *signature.Signature
	Oracle     Oracle

	rule  *Rule
	diags []Diagnostic
}

// RuleID returns the ID of the rule being invoked.
func (c *Call) RuleID() string { return c.rule.ID }

// Report emits a diagnostic located at n, or at the whole invocation when n
// is nil.
func (c *Call) Report(n *sitter.Node, message string) {
	span := c.Invocation.Span()
	if n != nil {
		span = javaast.SpanOf(n)
	}
	c.diags = append(c.diags, Diagnostic{
		RuleID:  c.rule.ID,
		Level:   c.rule.Level,
		Message: message,
		Path:    c.Invocation.File.Path,
		Span:    span,
	})
}

// Reportf is Report with a format string.
func (c *Call) Reportf(n *sitter.Node, format string, args ...any) {
	c.Report(n, fmt.Sprintf(format, args...))
}

// ArgType resolves the static type of the i-th argument.
func (c *Call) ArgType(i int) (string, bool) {
	args := c.Invocation.Args()
	if i < 0 || i >= len(args) {
		return "", false
	}
	return c.Oracle.ResolveType(c.Invocation.File, args[i])
}

// Text returns the source text of n.
func (c *Call) Text(n *sitter.Node) string {
	return c.Invocation.File.Text(n)
}
