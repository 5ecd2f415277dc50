package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Exporter handles exporting metrics to various formats
type Exporter struct {
	collector *Collector
}

// NewExporter creates a new metrics exporter
func NewExporter(collector *Collector) *Exporter {
	return &Exporter{collector: collector}
}

// ExportJSON writes stats and recent events to a JSON file
func (e *Exporter) ExportJSON(path string) error {
	report := struct {
		GeneratedAt time.Time        `json:"generated_at"`
		Stats       AggregateStats   `json:"stats"`
		Events      []TraversalEvent `json:"events"`
	}{
		GeneratedAt: time.Now(),
		Stats:       e.collector.GetStats(),
		Events:      e.collector.GetRecentEvents(1000),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// WriteReport writes a human-readable report to the given writer
func (e *Exporter) WriteReport(w io.Writer) error {
	stats := e.collector.GetStats()

	fmt.Fprintf(w, "Callsite Traversal Metrics\n")
	fmt.Fprintf(w, "Generated: %s\n\n", time.Now().Format(time.RFC3339))

	fmt.Fprintf(w, "=== Summary ===\n")
	fmt.Fprintf(w, "Files:            %d\n", stats.TotalFiles)
	fmt.Fprintf(w, "Aborted:          %d (%.1f%%)\n",
		stats.AbortedFiles,
		safePercent(float64(stats.AbortedFiles), float64(stats.TotalFiles)))
	fmt.Fprintf(w, "Diagnostics:      %d\n", stats.TotalDiagnostics)
	fmt.Fprintf(w, "Callback failures: %d\n", stats.TotalFailures)
	fmt.Fprintf(w, "Invocations:      %d\n", stats.TotalInvocations)
	fmt.Fprintf(w, "Candidates/call:  %.3f\n\n", stats.CandidateRate)

	fmt.Fprintf(w, "=== Latency ===\n")
	fmt.Fprintf(w, "Average:  %.2fms\n", stats.AvgDurationMs)
	fmt.Fprintf(w, "P50:      %.2fms\n", stats.P50DurationMs)
	fmt.Fprintf(w, "P95:      %.2fms\n", stats.P95DurationMs)
	fmt.Fprintf(w, "P99:      %.2fms\n", stats.P99DurationMs)
	fmt.Fprintf(w, "Max:      %.2fms\n\n", stats.MaxDurationMs)

	fmt.Fprintf(w, "=== Cache ===\n")
	fmt.Fprintf(w, "Hits:     %d\n", stats.CacheHits)
	fmt.Fprintf(w, "Misses:   %d\n", stats.CacheMisses)
	fmt.Fprintf(w, "Hit Rate: %.1f%%\n", stats.CacheHitRate*100)

	if len(stats.ByRule) > 0 {
		fmt.Fprintf(w, "\n=== By Rule ===\n")
		rules := make([]string, 0, len(stats.ByRule))
		for r := range stats.ByRule {
			rules = append(rules, r)
		}
		sort.Strings(rules)
		for _, r := range rules {
			fmt.Fprintf(w, "%-10s %d\n", r, stats.ByRule[r])
		}
	}

	return nil
}

// WriteCSV writes events in CSV format for external analysis
func (e *Exporter) WriteCSV(w io.Writer) error {
	events := e.collector.GetRecentEvents(e.collector.maxEvents)

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"id", "timestamp", "file_path", "state", "nodes", "invocations", "candidates",
		"duration_ms", "diagnostic_count", "failure_count", "cache_result", "error",
	}); err != nil {
		return err
	}
	for _, ev := range events {
		if err := cw.Write([]string{
			ev.ID,
			ev.Timestamp.Format(time.RFC3339),
			ev.FilePath,
			ev.State,
			strconv.Itoa(ev.Nodes),
			strconv.Itoa(ev.Invocations),
			strconv.Itoa(ev.Candidates),
			strconv.FormatInt(ev.Duration.Milliseconds(), 10),
			strconv.Itoa(ev.DiagnosticCount),
			strconv.Itoa(ev.FailureCount),
			string(ev.CacheResult),
			ev.Error,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func safePercent(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return (numerator / denominator) * 100
}
