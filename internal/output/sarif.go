package output

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chris-regnier/callsite/internal/sarif"
)

// SARIFFormatter renders analysis output as a SARIF 2.1.0 JSON document
// enriched with GitHub Code Scanning properties (security-severity,
// precision, partial fingerprints and the working directory).
type SARIFFormatter struct{}

// Format enriches the SARIF log in-place and serializes it as indented JSON
// with a trailing newline.
func (f *SARIFFormatter) Format(result *AnalysisOutput) ([]byte, error) {
	if result == nil || result.SARIFLog == nil {
		return nil, fmt.Errorf("sarif formatter: SARIF log is required")
	}

	log := result.SARIFLog
	for i := range log.Runs {
		enrichRun(&log.Runs[i])
	}

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("sarif formatter: %w", err)
	}
	return append(data, '\n'), nil
}

func enrichRun(run *sarif.Run) {
	run.Tool.Driver.InformationURI = "https://github.com/chris-regnier/callsite"

	// The assembler records execution status and notifications; only the
	// working directory is added here.
	wd, _ := os.Getwd()
	if len(run.Invocations) == 0 {
		run.Invocations = []sarif.Invocation{{ExecutionSuccessful: true}}
	}
	for i := range run.Invocations {
		if run.Invocations[i].WorkingDirectory == nil && wd != "" {
			run.Invocations[i].WorkingDirectory = &sarif.ArtifactLocation{URI: wd}
		}
	}

	category := make(map[string]string, len(run.Tool.Driver.Rules))
	for _, d := range run.Tool.Driver.Rules {
		if c, ok := d.Properties["category"].(string); ok {
			category[d.ID] = c
		}
	}

	for j := range run.Results {
		enrichResult(&run.Results[j], category[run.Results[j].RuleID])
	}
}

// enrichResult adds partial fingerprints, security-severity, and precision
// to a single SARIF result.
func enrichResult(r *sarif.Result, category string) {
	if r.PartialFingerprints == nil {
		r.PartialFingerprints = make(map[string]string)
	}
	if r.Properties == nil {
		r.Properties = make(map[string]any)
	}

	uri := ""
	var region sarif.Region
	if len(r.Locations) > 0 {
		loc := r.Locations[0]
		uri = loc.PhysicalLocation.ArtifactLocation.URI
		region = loc.PhysicalLocation.Region
	}

	fingerprintInput := fmt.Sprintf("%s|%s|%d:%d|%s", r.RuleID, uri, region.StartLine, region.StartColumn, r.Message.Text)
	hash := sha256.Sum256([]byte(fingerprintInput))
	r.PartialFingerprints["primaryLocationLineHash"] = fmt.Sprintf("%x", hash[:16])

	if category == "security" {
		r.Properties["security-severity"] = securitySeverity(r.Level)
	}
	r.Properties["precision"] = categoryPrecision(category)
}

// securitySeverity maps SARIF levels to GitHub Code Scanning security-severity scores.
func securitySeverity(level string) float64 {
	switch level {
	case "error":
		return 8.0
	case "warning":
		return 5.0
	default:
		return 2.0
	}
}

// categoryPrecision maps rule categories to GitHub Code Scanning precision.
// Security hotspots need a human look; the other categories are exact matches.
func categoryPrecision(category string) string {
	switch category {
	case "security", "":
		return "medium"
	default:
		return "high"
	}
}
