package metrics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chris-regnier/callsite/internal/engine"
)

// Instrumented reports finished files to the global OpenTelemetry meter.
type Instrumented struct {
	files       metric.Int64Counter
	diagnostics metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewInstrumented creates the OpenTelemetry instruments. With telemetry
// disabled the global meter is a no-op and so are the instruments.
func NewInstrumented() (*Instrumented, error) {
	meter := otel.Meter("github.com/chris-regnier/callsite/internal/metrics")

	files, err1 := meter.Int64Counter("callsite.engine.files",
		metric.WithDescription("Files traversed"))
	diagnostics, err2 := meter.Int64Counter("callsite.engine.diagnostics",
		metric.WithDescription("Diagnostics reported"))
	failures, err3 := meter.Int64Counter("callsite.engine.callback_failures",
		metric.WithDescription("Rule callbacks that failed"))
	duration, err4 := meter.Float64Histogram("callsite.engine.file.duration",
		metric.WithDescription("Time spent traversing one file"),
		metric.WithUnit("s"))
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}

	return &Instrumented{
		files:       files,
		diagnostics: diagnostics,
		failures:    failures,
		duration:    duration,
	}, nil
}

func (i *Instrumented) FileDone(ctx context.Context, res *engine.FileResult) {
	if res == nil {
		return
	}
	state := attribute.String("callsite.state", res.State.String())
	cached := attribute.Bool("callsite.cached", res.Cached)

	i.files.Add(ctx, 1, metric.WithAttributes(state, cached))
	i.failures.Add(ctx, int64(len(res.Failures)))
	if !res.Cached {
		i.duration.Record(ctx, res.Duration.Seconds(), metric.WithAttributes(state))
	}

	perRule := make(map[string]int64)
	for _, d := range res.Diagnostics {
		perRule[d.RuleID]++
	}
	for rule, n := range perRule {
		i.diagnostics.Add(ctx, n, metric.WithAttributes(attribute.String("callsite.rule", rule)))
	}
}

var _ engine.Observer = (*Instrumented)(nil)
