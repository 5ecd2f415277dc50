package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/callsite/internal/signature"
)

func anyCallRule(id string, names ...string) Rule {
	return reportRule(id, signature.MustNew(signature.Spec{
		Owners: []signature.TypeRef{signature.SubtypeOf("java.lang.Object")},
		Names:  names,
		Params: signature.AnyParams(),
	}))
}

func TestTraversal_VisitsNestedInvocations(t *testing.T) {
	f := parseJava(t, "Nested.java", `package com.acme;

import javax.servlet.http.HttpServletRequest;

class Nested {
    void run(HttpServletRequest req, String s) {
        s.concat(req.getRequestedSessionId());
        Runnable r = () -> req.getRequestedSessionId();
        new Object() {
            void inner() { req.getRequestedSessionId(); }
        };
    }

    String field = make().trim();

    String make() { return ""; }
}
`)
	o := newOracle(f)
	reg, errs := Build([]Rule{
		reportRule("S2254", sessionIDSig()),
		anyCallRule("calls", "concat", "trim"),
	}, o)
	require.Empty(t, errs)

	tr := NewTraversal(f, reg, o)
	assert.Equal(t, NotStarted, tr.State())
	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, tr.State())
	assert.Equal(t, Completed, res.State)

	var got []string
	for _, d := range res.Diagnostics {
		got = append(got, d.RuleID)
	}
	// pre-order: the outer call is visited before its argument
	assert.Equal(t, []string{"calls", "S2254", "S2254", "S2254", "calls"}, got)

	first := res.Diagnostics[1]
	assert.Equal(t, "Nested.java", first.Path)
	assert.Equal(t, 7, first.Span.StartLine)
	assert.Equal(t, LevelWarning, first.Level)

	assert.Greater(t, res.Stats.Nodes, res.Stats.Invocations)
	assert.Equal(t, 7, res.Stats.Invocations)
	assert.Equal(t, 5, res.Stats.Candidates)
}

func TestTraversal_RunTwice(t *testing.T) {
	f := parseJava(t, "Handler.java", handlerSource)
	o := newOracle(f)
	reg, _ := Build(nil, o)

	tr := NewTraversal(f, reg, o)
	_, err := tr.Run(context.Background())
	require.NoError(t, err)
	_, err = tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestTraversal_CallbackFailuresAreIsolated(t *testing.T) {
	f := parseJava(t, "Handler.java", handlerSource)
	o := newOracle(f)

	panicking := Rule{
		ID:         "panics",
		Signatures: []*signature.Signature{sessionIDSig()},
		Callback: CallbackFunc(func(c *Call) error {
			c.Report(nil, "never kept")
			panic("boom")
		}),
	}
	failing := Rule{
		ID:         "fails",
		Signatures: []*signature.Signature{sessionIDSig()},
		Callback: CallbackFunc(func(c *Call) error {
			return errors.New("lookup failed")
		}),
	}
	reg, errs := Build([]Rule{panicking, failing, reportRule("S2254", sessionIDSig())}, o)
	require.Empty(t, errs)

	res, err := NewTraversal(f, reg, o).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)

	require.Len(t, res.Diagnostics, 2)
	for _, d := range res.Diagnostics {
		assert.Equal(t, "S2254", d.RuleID)
	}

	require.Len(t, res.Failures, 4)
	assert.Equal(t, "panics", res.Failures[0].RuleID)
	assert.ErrorIs(t, res.Failures[0], ErrCallbackPanic)
	assert.Contains(t, res.Failures[0].Error(), "boom")
	assert.Equal(t, "fails", res.Failures[1].RuleID)
	assert.NotErrorIs(t, res.Failures[1], ErrCallbackPanic)
}

func TestTraversal_Cancelled(t *testing.T) {
	f := parseJava(t, "Handler.java", handlerSource)
	o := newOracle(f)
	reg, _ := Build([]Rule{reportRule("S2254", sessionIDSig())}, o)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewTraversal(f, reg, o)
	res, err := tr.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Aborted, tr.State())
	assert.Empty(t, res.Diagnostics)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestTraversal_CancelledMidFile(t *testing.T) {
	f := parseJava(t, "Two.java", `package com.acme;

import javax.servlet.http.HttpServletRequest;

class A { void a(HttpServletRequest r) { r.getRequestedSessionId(); } }

class B { void b(HttpServletRequest r) { r.getRequestedSessionId(); } }
`)
	o := newOracle(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopper := Rule{
		ID:         "stop",
		Signatures: []*signature.Signature{sessionIDSig()},
		Callback: CallbackFunc(func(c *Call) error {
			c.Report(nil, "seen")
			cancel()
			return nil
		}),
	}
	reg, _ := Build([]Rule{stopper}, o)

	res, err := NewTraversal(f, reg, o).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Aborted, res.State)
	assert.Empty(t, res.Diagnostics, "partial results are discarded")
}

func TestTraversal_MalformedTree(t *testing.T) {
	src := `package com.acme;

import javax.servlet.http.HttpServletRequest;

class Broken {
    void run(HttpServletRequest req) {
        req.getRequestedSessionId();
        int = ;
    }
}
`
	f := parseJava(t, "Broken.java", src)
	require.True(t, f.Malformed())
	o := newOracle(f)
	reg, _ := Build([]Rule{reportRule("S2254", sessionIDSig())}, o)

	res, err := NewTraversal(f, reg, o).Run(context.Background())
	require.ErrorIs(t, err, ErrMalformedTree)
	assert.Equal(t, Aborted, res.State)
	assert.Empty(t, res.Diagnostics)

	lenient, err := NewTraversal(f, reg, o, WithStrictSyntax(false)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, lenient.State)
}
