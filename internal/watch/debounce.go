package watch

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chris-regnier/callsite/internal/config"
)

// Config holds configuration for the debounced watcher
type Config struct {
	Debounce       time.Duration
	ParallelFiles  int
	WatchPatterns  []string
	IgnorePatterns []string
}

// DefaultConfig returns the defaults for Java projects.
func DefaultConfig() Config {
	return Config{
		Debounce:      300 * time.Millisecond,
		ParallelFiles: 3,
		WatchPatterns: []string{"**/*.java"},
		IgnorePatterns: []string{
			"**/.git/**",
			"**/build/**",
			"**/target/**",
			"**/.callsite/**",
		},
	}
}

// FromConfig converts the watch section of a loaded configuration. Unset or
// unparsable values keep their defaults.
func FromConfig(wc config.WatchConfig) Config {
	c := DefaultConfig()
	if d, err := time.ParseDuration(wc.Debounce); err == nil && d > 0 {
		c.Debounce = d
	}
	if wc.ParallelFiles > 0 {
		c.ParallelFiles = wc.ParallelFiles
	}
	if len(wc.WatchPatterns) > 0 {
		c.WatchPatterns = wc.WatchPatterns
	}
	if len(wc.IgnorePatterns) > 0 {
		c.IgnorePatterns = wc.IgnorePatterns
	}
	return c
}

// Debouncer batches file changes and calls onTrigger once changes have been
// quiet for the debounce period. A batch larger than ParallelFiles is split
// into per-file calls, at most ParallelFiles at a time.
type Debouncer struct {
	config    Config
	onTrigger func(files []string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

// NewDebouncer panics if onTrigger is nil.
func NewDebouncer(cfg Config, onTrigger func(files []string)) *Debouncer {
	if onTrigger == nil {
		panic("onTrigger callback cannot be nil")
	}
	def := DefaultConfig()
	if cfg.Debounce == 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.ParallelFiles == 0 {
		cfg.ParallelFiles = def.ParallelFiles
	}
	return &Debouncer{
		config:    cfg,
		onTrigger: onTrigger,
		pending:   make(map[string]struct{}),
	}
}

// Config returns the current configuration
func (d *Debouncer) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// FileChanged queues a file and restarts the quiet period.
func (d *Debouncer) FileChanged(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending[path] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.config.Debounce, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	files := make([]string, 0, len(d.pending))
	for f := range d.pending {
		files = append(files, f)
	}
	d.pending = make(map[string]struct{})
	parallel := d.config.ParallelFiles
	d.mu.Unlock()

	sort.Strings(files)
	if parallel <= 1 || len(files) <= parallel {
		d.onTrigger(files)
		return
	}

	var g errgroup.Group
	g.SetLimit(parallel)
	for _, f := range files {
		g.Go(func() error {
			d.onTrigger([]string{f})
			return nil
		})
	}
	_ = g.Wait()
}

// Stop drops pending changes; later changes are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// ShouldWatch checks a path against the configured patterns.
func (d *Debouncer) ShouldWatch(path string) bool {
	cfg := d.Config()
	return ShouldWatchPath(path, cfg.WatchPatterns, cfg.IgnorePatterns)
}
