package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chris-regnier/callsite/internal/engine"
)

// EventFromResult converts a finished file into a traversal event.
func EventFromResult(res *engine.FileResult) TraversalEvent {
	e := TraversalEvent{
		ID:              uuid.NewString(),
		Timestamp:       time.Now(),
		FilePath:        res.Path,
		State:           res.State.String(),
		Nodes:           res.Stats.Nodes,
		Invocations:     res.Stats.Invocations,
		Candidates:      res.Stats.Candidates,
		Duration:        res.Duration,
		DiagnosticCount: len(res.Diagnostics),
		FailureCount:    len(res.Failures),
		CacheResult:     CacheMiss,
	}
	if res.Cached {
		e.CacheResult = CacheHit
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	if len(res.Diagnostics) > 0 {
		e.ByRule = make(map[string]int)
		for _, d := range res.Diagnostics {
			e.ByRule[d.RuleID]++
		}
	}
	return e
}

// FileDone records res. It lets a Collector observe an engine.Runner.
func (c *Collector) FileDone(_ context.Context, res *engine.FileResult) {
	if res == nil {
		return
	}
	c.Record(EventFromResult(res))
}

var _ engine.Observer = (*Collector)(nil)
