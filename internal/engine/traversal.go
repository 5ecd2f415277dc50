package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/callsite/internal/javaast"
)

// State is the lifecycle position of a Traversal.
type State int32

const (
	NotStarted State = iota
	InProgress
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats counts what a traversal saw.
type Stats struct {
	Nodes       int `json:"nodes"`
	Invocations int `json:"invocations"`
	Candidates  int `json:"candidates"`
}

// FileResult is the outcome of one file's traversal. An aborted file keeps
// no diagnostics or failures; Err says why it was aborted.
type FileResult struct {
	Path        string        `json:"path"`
	State       State         `json:"state"`
	Diagnostics []Diagnostic  `json:"diagnostics"`
	Failures    []Failure     `json:"failures,omitempty"`
	Stats       Stats         `json:"stats"`
	Duration    time.Duration `json:"duration"`
	Cached      bool          `json:"cached,omitempty"`
	Err         error         `json:"-"`
}

// Traversal walks a single file once.
type Traversal struct {
	file   *javaast.File
	reg    *Registry
	oracle Oracle
	strict bool
	state  atomic.Int32
	result *FileResult
}

// TraversalOption configures a Traversal.
type TraversalOption func(*Traversal)

// WithStrictSyntax controls whether a tree with syntax errors aborts the
// traversal (the default) or is walked with its ERROR subtrees skipped.
func WithStrictSyntax(strict bool) TraversalOption {
	return func(t *Traversal) {
		t.strict = strict
	}
}

// NewTraversal prepares a traversal of file against reg.
func NewTraversal(file *javaast.File, reg *Registry, o Oracle, opts ...TraversalOption) *Traversal {
	t := &Traversal{file: file, reg: reg, oracle: o, strict: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current state.
func (t *Traversal) State() State {
	return State(t.state.Load())
}

// Run visits every node of the file depth-first in source order and
// dispatches each invocation to its candidate callbacks. Cancellation is
// observed between top-level nodes and once more at the end. Run may be
// called only once.
func (t *Traversal) Run(ctx context.Context) (*FileResult, error) {
	if !t.state.CompareAndSwap(int32(NotStarted), int32(InProgress)) {
		return nil, ErrAlreadyRun
	}

	start := time.Now()
	t.result = &FileResult{Path: t.file.Path}
	defer func() { t.result.Duration = time.Since(start) }()

	root := t.file.Root()
	if root == nil || (t.strict && root.HasError()) {
		return t.abort(fmt.Errorf("%s: %w", t.file.Path, ErrMalformedTree))
	}

	t.result.Stats.Nodes++
	for i := 0; i < int(root.ChildCount()); i++ {
		if err := ctx.Err(); err != nil {
			return t.abort(fmt.Errorf("%s: %w", t.file.Path, err))
		}
		t.walk(root.Child(i))
	}
	if err := ctx.Err(); err != nil {
		return t.abort(fmt.Errorf("%s: %w", t.file.Path, err))
	}

	t.state.Store(int32(Completed))
	t.result.State = Completed
	return t.result, nil
}

func (t *Traversal) abort(err error) (*FileResult, error) {
	t.state.Store(int32(Aborted))
	t.result.State = Aborted
	t.result.Diagnostics = nil
	t.result.Failures = nil
	t.result.Err = err
	return t.result, err
}

// walk is an iterative pre-order DFS over n and its descendants.
func (t *Traversal) walk(n *sitter.Node) {
	stack := make([]*sitter.Node, 0, 64)
	stack = append(stack, n)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil {
			continue
		}
		if !t.strict && cur.Type() == "ERROR" {
			continue
		}

		t.visit(cur)

		for i := int(cur.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, cur.Child(i))
		}
	}
}

func (t *Traversal) visit(n *sitter.Node) {
	t.result.Stats.Nodes++
	inv, ok := javaast.AsInvocation(t.file, n)
	if !ok {
		return
	}
	t.result.Stats.Invocations++

	for _, e := range t.reg.LookupCandidates(inv, t.oracle) {
		t.result.Stats.Candidates++
		t.dispatch(e, inv)
	}
}

// dispatch runs one callback. Diagnostics reported by a callback that fails
// are dropped with it.
func (t *Traversal) dispatch(e Entry, inv javaast.Invocation) {
	call := &Call{Invocation: inv, Signature: e.Signature, Oracle: t.oracle, rule: e.rule}
	if err := invoke(e.Callback, call); err != nil {
		t.result.Failures = append(t.result.Failures, Failure{
			RuleID: e.RuleID,
			Path:   t.file.Path,
			Span:   inv.Span(),
			Err:    err,
		})
		return
	}
	t.result.Diagnostics = append(t.result.Diagnostics, call.diags...)
}

func invoke(cb Callback, call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return cb.OnMatch(call)
}
