// Package analysis runs one analysis of a set of Java sources end to end:
// parse, index declarations, match rules, assemble SARIF, evaluate the gate
// policy and persist the run.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/chris-regnier/callsite/internal/cache"
	"github.com/chris-regnier/callsite/internal/config"
	"github.com/chris-regnier/callsite/internal/engine"
	"github.com/chris-regnier/callsite/internal/evaluator"
	"github.com/chris-regnier/callsite/internal/input"
	"github.com/chris-regnier/callsite/internal/javaast"
	"github.com/chris-regnier/callsite/internal/metrics"
	"github.com/chris-regnier/callsite/internal/oracle"
	"github.com/chris-regnier/callsite/internal/output"
	"github.com/chris-regnier/callsite/internal/rules"
	"github.com/chris-regnier/callsite/internal/sarif"
	"github.com/chris-regnier/callsite/internal/store"
)

var tracer = otel.Tracer("github.com/chris-regnier/callsite/internal/analysis")

// Input scopes recorded in the SARIF log.
const (
	ScopeFiles     = "files"
	ScopeDirectory = "directory"
	ScopeDiff      = "diff"
)

// Request is one batch of sources to report on.
type Request struct {
	// Artifacts are traversed and reported on.
	Artifacts []input.Artifact
	// Context sources are only indexed for type resolution. Paths already in
	// Artifacts are ignored.
	Context []input.Artifact
	Scope   string
	// Added restricts results to these line ranges per file (diff mode).
	// Nil reports on whole files.
	Added map[string][]sarif.Region
}

// Analyzer holds everything that outlives a single run: the effective rule
// set, the result cache, metrics and the gate policy.
type Analyzer struct {
	cfg         *config.Config
	root        string
	rules       []rules.Rule
	cache       *cache.ResultCache
	collector   *metrics.Collector
	prom        *metrics.Prometheus
	instruments *metrics.Instrumented
	evaluator   *evaluator.Evaluator
	store       store.Store
	logger      *slog.Logger

	policyDir   string
	metricsFile string
	persist     bool

	// runs are serialized; the collector is reset per run
	mu sync.Mutex
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger for configuration problems and aborted files.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// WithPolicyDir overrides gate.policy_dir.
func WithPolicyDir(dir string) Option {
	return func(a *Analyzer) {
		if dir != "" {
			a.policyDir = dir
		}
	}
}

// WithMetricsFile overrides output.metrics_file.
func WithMetricsFile(path string) Option {
	return func(a *Analyzer) {
		if path != "" {
			a.metricsFile = path
		}
	}
}

// WithoutStore skips persisting runs.
func WithoutStore() Option {
	return func(a *Analyzer) {
		a.persist = false
	}
}

// New prepares an analyzer for the project at root. cfg must be validated.
func New(ctx context.Context, root string, cfg *config.Config, opts ...Option) (*Analyzer, error) {
	a := &Analyzer{
		cfg:         cfg,
		root:        root,
		logger:      slog.Default(),
		policyDir:   resolve(root, cfg.Gate.PolicyDir),
		metricsFile: cfg.Output.MetricsFile,
		persist:     true,
	}
	for _, opt := range opts {
		opt(a)
	}

	all, err := EffectiveRules(root, cfg)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if cfg.RuleEnabled(r.ID) {
			a.rules = append(a.rules, r)
		}
	}

	if cfg.Cache.Enabled != nil && *cfg.Cache.Enabled {
		ttl, _ := time.ParseDuration(cfg.Cache.TTL)
		a.cache = cache.NewResultCache(
			cache.WithStorage(cache.NewLocalStorage(resolve(root, cfg.Cache.Dir))),
			cache.WithResultTTL(ttl),
			cache.WithCacheLogger(a.logger),
		)
	}

	a.prom = metrics.NewPrometheus()
	a.collector = metrics.NewCollector(metrics.WithPrometheus(a.prom))
	if a.instruments, err = metrics.NewInstrumented(); err != nil {
		return nil, fmt.Errorf("creating instruments: %w", err)
	}

	if a.evaluator, err = evaluator.NewEvaluator(ctx, a.policyDir); err != nil {
		return nil, fmt.Errorf("loading gate policy: %w", err)
	}

	if a.persist {
		if a.store, err = OpenStore(root, cfg); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// EffectiveRules loads built-in, default, user and project rules and
// applies the configured level overrides. Disabled rules are included.
func EffectiveRules(root string, cfg *config.Config) ([]rules.Rule, error) {
	all, err := rules.LoadRules(rules.UserRulesDir(), rules.ProjectRulesDir(root))
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	for i, r := range all {
		if o, ok := cfg.Rules[r.ID]; ok && o.Level != "" {
			all[i].Level = o.Level
		}
	}
	return all, nil
}

// OpenStore opens the configured store with relative paths resolved
// against root.
func OpenStore(root string, cfg *config.Config) (store.Store, error) {
	s, err := store.Open(cfg.Store.Backend, resolve(root, cfg.Store.Dir), resolveDSN(root, cfg.Store.DSN))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// Rules returns the enabled rules.
func (a *Analyzer) Rules() []rules.Rule {
	return a.rules
}

// Close releases the store.
func (a *Analyzer) Close() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Run analyzes one request. The returned error is non-nil only when the
// run as a whole failed; per-file problems surface as SARIF notifications.
func (a *Analyzer) Run(ctx context.Context, req Request) (*output.AnalysisOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, span := tracer.Start(ctx, "analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("callsite.scope", req.Scope),
		attribute.Int("callsite.files", len(req.Artifacts)),
	)

	out, err := a.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("callsite.results", len(out.SARIFLog.Runs[0].Results)),
		attribute.String("callsite.decision", out.Verdict.Decision),
	)
	return out, nil
}

func (a *Analyzer) run(ctx context.Context, req Request) (*output.AnalysisOutput, error) {
	a.collector.Reset()

	targets, err := a.parseAll(ctx, req.Artifacts)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(targets))
	for _, f := range targets {
		seen[f.Path] = true
	}
	var extra []input.Artifact
	for _, art := range req.Context {
		if !seen[a.relPath(art.Path)] {
			extra = append(extra, art)
		}
	}
	contextFiles, err := a.parseAll(ctx, extra)
	if err != nil {
		return nil, err
	}

	o := oracle.NewBuilder().
		AddCatalog(oracle.DefaultCatalog()...).
		AddCatalog(catalogTypes(a.cfg.Types)...).
		AddFile(targets...).
		AddFile(contextFiles...).
		Build()

	compiled, err := rules.CompileAll(a.rules)
	if err != nil {
		a.logger.Warn("skipping rules that failed to compile", "err", err)
	}
	nameIndex := a.cfg.Engine.NameIndex == nil || *a.cfg.Engine.NameIndex
	reg, cfgErrs := engine.Build(compiled, o, engine.WithNameIndex(nameIndex))
	for _, ce := range cfgErrs {
		a.logger.Warn("rule disabled by configuration error", "rule", ce.RuleID, "err", ce.Err, "owners", ce.Owners)
	}

	runner := engine.NewRunner(reg, o, a.runnerOptions()...)
	results, err := runner.Run(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("running rules: %w", err)
	}

	found := sarif.FromDiagnostics(engine.Diagnostics(results))
	if req.Added != nil {
		found = sarif.FilterLines(found, req.Added)
	}

	log := sarif.NewAssembler().
		WithRunMetadata(sarif.RunMetadata{
			RegistryFingerprint: reg.Fingerprint(),
			OracleFingerprint:   o.Fingerprint(),
			Rules:               reg.Rules(),
		}).
		AddResults(found).
		AddRules(sarif.Descriptors(a.rules)).
		AddNotifications(sarif.Notifications(results)).
		WithInputScope(req.Scope).
		Build()

	verdict, err := a.evaluator.Evaluate(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("evaluating gate policy: %w", err)
	}

	if a.store != nil {
		id, err := a.store.WriteSARIF(ctx, log)
		if err != nil {
			return nil, fmt.Errorf("storing results: %w", err)
		}
		if verdict.Metadata == nil {
			verdict.Metadata = map[string]interface{}{}
		}
		verdict.Metadata["result_id"] = id
		if err := a.store.WriteVerdict(ctx, id, verdict); err != nil {
			return nil, fmt.Errorf("storing verdict: %w", err)
		}
		a.logger.Debug("stored run", "id", id)
	}

	stats := a.collector.GetStats()
	if a.metricsFile != "" {
		if err := a.writeMetrics(a.metricsFile); err != nil {
			a.logger.Warn("writing metrics file", "path", a.metricsFile, "err", err)
		}
	}

	return &output.AnalysisOutput{
		Verdict:  verdict,
		SARIFLog: log,
		Stats:    &stats,
	}, nil
}

// writeMetrics picks the format from the extension: .json for stats plus
// events, .csv for events, anything else for the Prometheus textfile.
func (a *Analyzer) writeMetrics(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return metrics.NewExporter(a.collector).ExportJSON(path)
	case ".csv":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := metrics.NewExporter(a.collector).WriteCSV(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return a.prom.WriteTextfile(path)
}

// WriteReport writes a human-readable summary of the last run.
func (a *Analyzer) WriteReport(w io.Writer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return metrics.NewExporter(a.collector).WriteReport(w)
}

func (a *Analyzer) runnerOptions() []engine.RunnerOption {
	opts := []engine.RunnerOption{
		engine.WithWorkers(a.cfg.Engine.Workers),
		engine.WithFileTimeout(a.cfg.Engine.FileTimeoutDuration()),
		engine.WithStrict(a.cfg.Engine.StrictSyntax == nil || *a.cfg.Engine.StrictSyntax),
		engine.WithObserver(a.collector),
		engine.WithObserver(a.instruments),
		engine.WithLogger(a.logger),
	}
	if a.cache != nil {
		opts = append(opts, engine.WithResultCache(a.cache))
	}
	return opts
}

// parseAll parses artifacts in parallel, keeping their order. Files that
// are not Java are skipped with a warning.
func (a *Analyzer) parseAll(ctx context.Context, artifacts []input.Artifact) ([]*javaast.File, error) {
	parsed := make([]*javaast.File, len(artifacts))

	workers := a.cfg.Engine.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, art := range artifacts {
		g.Go(func() error {
			f, err := javaast.Parse(gctx, a.relPath(art.Path), art.Content)
			if errors.Is(err, javaast.ErrNotJava) {
				a.logger.Warn("skipping non-java file", "path", art.Path)
				return nil
			}
			if err != nil {
				return fmt.Errorf("parsing %s: %w", art.Path, err)
			}
			parsed[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := parsed[:0]
	for _, f := range parsed {
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// relPath makes p relative to the project root so result URIs match diff
// paths. Paths outside the root are kept as given.
func (a *Analyzer) relPath(p string) string {
	absRoot, err1 := filepath.Abs(a.root)
	absPath, err2 := filepath.Abs(p)
	if err1 != nil || err2 != nil {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

func catalogTypes(decls []config.TypeDecl) []oracle.CatalogType {
	out := make([]oracle.CatalogType, 0, len(decls))
	for _, d := range decls {
		out = append(out, oracle.CatalogType{
			Name:       d.Name,
			Supertypes: d.Supertypes,
			Methods:    d.Methods,
			Fields:     d.Fields,
		})
	}
	return out
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// resolveDSN leaves URIs and in-memory databases alone.
func resolveDSN(root, dsn string) string {
	if strings.Contains(dsn, ":") {
		return dsn
	}
	return resolve(root, dsn)
}
