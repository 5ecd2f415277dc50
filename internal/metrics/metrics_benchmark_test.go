package metrics

import (
	"context"
	"sync"
	"testing"
	"time"
)

func BenchmarkCollector_Record(b *testing.B) {
	c := NewCollector()
	event := TraversalEvent{
		Timestamp:       time.Now(),
		State:           "completed",
		Invocations:     12,
		Candidates:      2,
		DiagnosticCount: 1,
		Duration:        2 * time.Millisecond,
		CacheResult:     CacheMiss,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Record(event)
	}
}

func BenchmarkCollector_FileDoneParallel(b *testing.B) {
	c := NewCollector(WithPrometheus(NewPrometheus()))
	res := completed("A.java", "S2254", "S1148")
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.FileDone(ctx, res)
		}
	})
}

func BenchmarkCollector_GetStats(b *testing.B) {
	c := NewCollector()
	for i := 0; i < 1000; i++ {
		c.Record(TraversalEvent{
			Timestamp: time.Now(),
			State:     "completed",
			Duration:  time.Duration(i) * time.Microsecond,
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.GetStats()
	}
}

func TestConcurrentMetricsStability(t *testing.T) {
	c := NewCollector(WithMaxEvents(500))
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.FileDone(ctx, completed("A.java", "S2254"))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = c.GetStats()
				_ = c.GetRecentEvents(10)
			}
		}()
	}
	wg.Wait()

	if got := c.GetStats().TotalFiles; got != 1600 {
		t.Errorf("expected 1600 files, got %d", got)
	}
}
