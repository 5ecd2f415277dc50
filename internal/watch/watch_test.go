package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chris-regnier/callsite/internal/config"
)

func TestDebouncer(t *testing.T) {
	var triggerCount atomic.Int32
	d := NewDebouncer(Config{Debounce: 50 * time.Millisecond}, func(files []string) {
		triggerCount.Add(1)
	})
	defer d.Stop()

	d.FileChanged("A.java")
	d.FileChanged("B.java")
	d.FileChanged("C.java")

	time.Sleep(30 * time.Millisecond)
	if triggerCount.Load() != 0 {
		t.Fatal("triggered too early")
	}

	time.Sleep(60 * time.Millisecond)
	if triggerCount.Load() != 1 {
		t.Fatalf("expected 1 trigger, got %d", triggerCount.Load())
	}
}

func TestDebouncer_MultipleBatches(t *testing.T) {
	var batches [][]string
	var mu sync.Mutex
	d := NewDebouncer(Config{Debounce: 30 * time.Millisecond}, func(files []string) {
		mu.Lock()
		batches = append(batches, files)
		mu.Unlock()
	})
	defer d.Stop()

	d.FileChanged("A.java")
	time.Sleep(60 * time.Millisecond)
	d.FileChanged("B.java")
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
}

func TestDebouncer_SortedBatch(t *testing.T) {
	got := make(chan []string, 1)
	d := NewDebouncer(Config{Debounce: 20 * time.Millisecond, ParallelFiles: 5}, func(files []string) {
		got <- files
	})
	defer d.Stop()

	d.FileChanged("c/C.java")
	d.FileChanged("a/A.java")
	d.FileChanged("b/B.java")
	d.FileChanged("a/A.java")

	select {
	case files := <-got:
		want := []string{"a/A.java", "b/B.java", "c/C.java"}
		if len(files) != len(want) {
			t.Fatalf("expected %v, got %v", want, files)
		}
		for i := range want {
			if files[i] != want[i] {
				t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no trigger")
	}
}

func TestDebouncer_SplitsLargeBatches(t *testing.T) {
	var mu sync.Mutex
	var calls int
	var files []string
	var inFlight, maxInFlight atomic.Int32
	done := make(chan struct{}, 10)

	d := NewDebouncer(Config{Debounce: 20 * time.Millisecond, ParallelFiles: 2}, func(f []string) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)

		mu.Lock()
		calls++
		files = append(files, f...)
		mu.Unlock()
		done <- struct{}{}
	})
	defer d.Stop()

	for _, f := range []string{"A.java", "B.java", "C.java", "D.java"} {
		d.FileChanged(f)
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for triggers")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 4 || len(files) != 4 {
		t.Errorf("expected 4 single-file calls, got %d calls with %v", calls, files)
	}
	if maxInFlight.Load() > 2 {
		t.Errorf("expected at most 2 concurrent triggers, got %d", maxInFlight.Load())
	}
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	var triggerCount atomic.Int32
	d := NewDebouncer(Config{Debounce: 20 * time.Millisecond}, func([]string) {
		triggerCount.Add(1)
	})
	d.FileChanged("A.java")
	d.Stop()
	d.FileChanged("B.java")
	time.Sleep(50 * time.Millisecond)
	if triggerCount.Load() != 0 {
		t.Errorf("expected no trigger after Stop, got %d", triggerCount.Load())
	}
}

func TestNewDebouncer_NilCallbackPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewDebouncer(Config{}, nil)
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.WatchConfig{Debounce: "1s", ParallelFiles: 8})
	if c.Debounce != time.Second {
		t.Errorf("Debounce = %v, want 1s", c.Debounce)
	}
	if c.ParallelFiles != 8 {
		t.Errorf("ParallelFiles = %d, want 8", c.ParallelFiles)
	}
	if len(c.WatchPatterns) != 1 || c.WatchPatterns[0] != "**/*.java" {
		t.Errorf("expected default watch patterns, got %v", c.WatchPatterns)
	}

	c = FromConfig(config.WatchConfig{Debounce: "soon"})
	if c.Debounce != 300*time.Millisecond {
		t.Errorf("unparsable debounce should keep the default, got %v", c.Debounce)
	}
}

func TestShouldWatchPath(t *testing.T) {
	watch := []string{"**/*.java"}
	ignore := []string{"**/.git/**", "**/build/**", "**/target/**"}

	tests := []struct {
		path string
		want bool
	}{
		{"file:///project/src/main/java/App.java", true},
		{"/project/App.java", true},
		{"App.java", true},
		{"/project/README.md", false},
		{"/project/build/generated/Gen.java", false},
		{"/project/module/target/classes/A.java", false},
		{"/project/.git/HEAD", false},
		{"/project/src/Builder.java", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ShouldWatchPath(tt.path, watch, ignore); got != tt.want {
				t.Errorf("ShouldWatchPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	if !ShouldWatchPath("/anything", nil, ignore) {
		t.Error("no watch patterns should watch everything not ignored")
	}
}

func TestWatcher_TriggersOnJavaWrite(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "build"), 0755); err != nil {
		t.Fatal(err)
	}

	got := make(chan []string, 4)
	w, err := New(root, Config{Debounce: 30 * time.Millisecond, ParallelFiles: 10,
		WatchPatterns:  []string{"**/*.java"},
		IgnorePatterns: []string{"**/build/**"},
	}, func(files []string) { got <- files }, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "build", "Gen.java"), []byte("class Gen {}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "App.java"), []byte("class App {}"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case files := <-got:
		if len(files) != 1 || filepath.Base(files[0]) != "App.java" {
			t.Errorf("expected only App.java, got %v", files)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no trigger for App.java")
	}
}
