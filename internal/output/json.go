package output

import (
	"encoding/json"
	"fmt"

	"github.com/chris-regnier/callsite/internal/metrics"
	"github.com/chris-regnier/callsite/internal/store"
)

// JSONFormatter renders analysis output as indented JSON of the verdict.
type JSONFormatter struct{}

type verdictWithStats struct {
	*store.Verdict
	Stats *metrics.AggregateStats `json:"stats,omitempty"`
}

// Format serializes the verdict as pretty-printed JSON, with traversal
// statistics alongside when they were collected.
func (f *JSONFormatter) Format(result *AnalysisOutput) ([]byte, error) {
	if result == nil || result.Verdict == nil {
		return nil, fmt.Errorf("json formatter: verdict is required")
	}
	data, err := json.MarshalIndent(verdictWithStats{Verdict: result.Verdict, Stats: result.Stats}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json formatter: %w", err)
	}
	return append(data, '\n'), nil
}
