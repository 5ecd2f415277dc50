// Package output provides formatters for rendering callsite analysis results
// in different output formats (JSON, SARIF, Markdown, pretty terminal).
package output

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/chris-regnier/callsite/internal/metrics"
	"github.com/chris-regnier/callsite/internal/sarif"
	"github.com/chris-regnier/callsite/internal/store"
)

// Formatter renders an AnalysisOutput into a byte slice in a specific format.
type Formatter interface {
	Format(result *AnalysisOutput) ([]byte, error)
}

// AnalysisOutput holds the complete results of an analysis run,
// combining the verdict, SARIF log, and optional traversal statistics.
type AnalysisOutput struct {
	Verdict  *store.Verdict
	SARIFLog *sarif.Log
	Stats    *metrics.AggregateStats // optional, nil if not collected
}

// ResolveFormat determines the output format to use. An explicit format is
// returned directly. "" and "auto" pick "pretty" for TTY output and "json"
// for non-TTY (piped) output.
func ResolveFormat(flagValue string, stdoutIsTTY bool) string {
	if flagValue != "" && flagValue != "auto" {
		return flagValue
	}
	if stdoutIsTTY {
		return "pretty"
	}
	return "json"
}

// StdoutIsTTY reports whether stdout is an interactive terminal.
func StdoutIsTTY() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// NewFormatter returns a Formatter for the given format name.
// Supported formats: "json", "sarif", "markdown", "pretty".
// Returns an error for unknown format names.
func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "json":
		return &JSONFormatter{}, nil
	case "sarif":
		return &SARIFFormatter{}, nil
	case "markdown":
		return &MarkdownFormatter{}, nil
	case "pretty":
		return &PrettyFormatter{Highlight: os.Getenv("NO_COLOR") == ""}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %q (supported: json, sarif, markdown, pretty)", format)
	}
}
