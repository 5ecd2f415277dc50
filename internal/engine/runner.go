package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chris-regnier/callsite/internal/javaast"
)

// ResultCache stores completed file results between runs.
type ResultCache interface {
	Lookup(ctx context.Context, key string) (*FileResult, bool)
	Save(ctx context.Context, key string, res *FileResult)
}

// Observer is notified after each file finishes, from the worker goroutine
// that ran it.
type Observer interface {
	FileDone(ctx context.Context, res *FileResult)
}

// Runner traverses many files in parallel, one goroutine per file.
type Runner struct {
	reg         *Registry
	oracle      Oracle
	workers     int
	fileTimeout time.Duration
	strict      bool
	cache       ResultCache
	observers   []Observer
	logger      *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers bounds the number of files traversed at once.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithFileTimeout aborts any single file that takes longer than d.
func WithFileTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.fileTimeout = d
	}
}

// WithStrict sets WithStrictSyntax on every traversal.
func WithStrict(strict bool) RunnerOption {
	return func(r *Runner) {
		r.strict = strict
	}
}

// WithResultCache reuses results for files whose content, rules and type
// index are unchanged.
func WithResultCache(c ResultCache) RunnerOption {
	return func(r *Runner) {
		r.cache = c
	}
}

// WithObserver adds an observer of finished files.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// WithLogger sets the logger for aborted files and callback failures.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner returns a Runner over a built registry and oracle.
func NewRunner(reg *Registry, o Oracle, opts ...RunnerOption) *Runner {
	r := &Runner{
		reg:     reg,
		oracle:  o,
		workers: runtime.NumCPU(),
		strict:  true,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// fingerprinter is implemented by oracles whose type index can be hashed.
type fingerprinter interface {
	Fingerprint() string
}

// CacheKey identifies the result of traversing f with this runner's rules
// and oracle. It is empty when the rules or the oracle cannot be
// fingerprinted, and such results are never cached.
func (r *Runner) CacheKey(f *javaast.File) string {
	rules := r.reg.Fingerprint()
	fp, ok := r.oracle.(fingerprinter)
	if rules == "" || !ok || fp.Fingerprint() == "" {
		return ""
	}
	return f.Hash + ":" + rules + ":" + fp.Fingerprint()
}

// Run traverses files and returns one result per file, in input order.
// A file that fails or times out is reported in its own result and does not
// affect the others. The returned error is non-nil only when ctx itself was
// cancelled.
func (r *Runner) Run(ctx context.Context, files []*javaast.File) ([]*FileResult, error) {
	results := make([]*FileResult, len(files))

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, f := range files {
		g.Go(func() error {
			results[i] = r.runFile(ctx, f)
			for _, o := range r.observers {
				o.FileDone(ctx, results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

func (r *Runner) runFile(ctx context.Context, f *javaast.File) *FileResult {
	var key string
	if r.cache != nil {
		key = r.CacheKey(f)
	}
	if key != "" {
		if res, ok := r.cache.Lookup(ctx, key); ok {
			cached := *res
			cached.Path = f.Path
			cached.Cached = true
			cached.Diagnostics = make([]Diagnostic, len(res.Diagnostics))
			for i, d := range res.Diagnostics {
				d.Path = f.Path
				cached.Diagnostics[i] = d
			}
			return &cached
		}
	}

	fctx := ctx
	if r.fileTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, r.fileTimeout)
		defer cancel()
	}

	res, err := NewTraversal(f, r.reg, r.oracle, WithStrictSyntax(r.strict)).Run(fctx)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		r.logger.Log(ctx, level, "file traversal aborted", "path", f.Path, "err", err)
		return res
	}

	for _, fail := range res.Failures {
		r.logger.Warn("rule callback failed", "rule", fail.RuleID, "path", fail.Path,
			"line", fail.Span.StartLine, "err", fail.Err)
	}
	if key != "" && len(res.Failures) == 0 {
		r.cache.Save(ctx, key, res)
	}
	return res
}

// Diagnostics flattens results into one slice, file by file.
func Diagnostics(results []*FileResult) []Diagnostic {
	var out []Diagnostic
	for _, res := range results {
		if res != nil {
			out = append(out, res.Diagnostics...)
		}
	}
	return out
}
