package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chris-regnier/callsite/internal/sarif"
)

// MarkdownFormatter renders analysis output as GitHub-Flavored Markdown
// suitable for PR comments. Uses collapsible <details> sections for findings
// and severity emojis for quick visual scanning.
type MarkdownFormatter struct{}

// severityPriority returns a sort priority for SARIF severity levels.
// Lower values sort first: error (0) > warning (1) > note (2).
func severityPriority(level string) int {
	switch level {
	case "error":
		return 0
	case "warning":
		return 1
	case "note":
		return 2
	default:
		return 3
	}
}

// severityEmoji returns the GitHub emoji shortcode for a SARIF severity level.
func severityEmoji(level string) string {
	switch level {
	case "error":
		return ":red_circle:"
	case "warning":
		return ":warning:"
	case "note":
		return ":information_source:"
	default:
		return ":grey_question:"
	}
}

// decisionBanner returns the emoji + text for a verdict decision.
func decisionBanner(decision string) string {
	switch decision {
	case "pass":
		return ":white_check_mark: Pass"
	case "fail":
		return ":x: Fail"
	case "review":
		return ":warning: Review Required"
	default:
		return decision
	}
}

// resultFilePath extracts the file URI from the first location of a SARIF result.
func resultFilePath(r sarif.Result) string {
	if len(r.Locations) > 0 {
		return r.Locations[0].PhysicalLocation.ArtifactLocation.URI
	}
	return ""
}

// resultLine returns the start line of the first location, 0 if unknown.
func resultLine(r sarif.Result) int {
	if len(r.Locations) == 0 {
		return 0
	}
	return r.Locations[0].PhysicalLocation.Region.StartLine
}

// resultPosition returns "line:col" for the first location, or "" if unknown.
func resultPosition(r sarif.Result) string {
	if len(r.Locations) == 0 {
		return ""
	}
	region := r.Locations[0].PhysicalLocation.Region
	if region.StartLine == 0 {
		return ""
	}
	if region.StartColumn == 0 {
		return fmt.Sprintf("%d", region.StartLine)
	}
	return fmt.Sprintf("%d:%d", region.StartLine, region.StartColumn)
}

// sortResults orders by severity, then file, then line.
func sortResults(results []sarif.Result) []sarif.Result {
	sorted := make([]sarif.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := severityPriority(sorted[i].Level), severityPriority(sorted[j].Level)
		if pi != pj {
			return pi < pj
		}
		fi, fj := resultFilePath(sorted[i]), resultFilePath(sorted[j])
		if fi != fj {
			return fi < fj
		}
		return resultLine(sorted[i]) < resultLine(sorted[j])
	})
	return sorted
}

func descriptorsByID(run sarif.Run) map[string]sarif.ReportingDescriptor {
	out := make(map[string]sarif.ReportingDescriptor, len(run.Tool.Driver.Rules))
	for _, d := range run.Tool.Driver.Rules {
		out[d.ID] = d
	}
	return out
}

func runNotifications(run sarif.Run) []sarif.Notification {
	var out []sarif.Notification
	for _, inv := range run.Invocations {
		out = append(out, inv.ToolExecutionNotifications...)
	}
	return out
}

// Format produces GFM Markdown output from the analysis results.
func (f *MarkdownFormatter) Format(result *AnalysisOutput) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("markdown formatter: result is required")
	}
	if result.Verdict == nil {
		return nil, fmt.Errorf("markdown formatter: verdict is required")
	}

	var b strings.Builder

	var results []sarif.Result
	var notifications []sarif.Notification
	descriptors := map[string]sarif.ReportingDescriptor{}
	if result.SARIFLog != nil && len(result.SARIFLog.Runs) > 0 {
		run := result.SARIFLog.Runs[0]
		results = run.Results
		notifications = runNotifications(run)
		descriptors = descriptorsByID(run)
	}

	fileSet := make(map[string]struct{})
	severityCounts := make(map[string]int)
	for _, r := range results {
		if fp := resultFilePath(r); fp != "" {
			fileSet[fp] = struct{}{}
		}
		severityCounts[r.Level]++
	}

	b.WriteString("## Callsite Analysis Summary\n\n")

	b.WriteString(fmt.Sprintf("**Decision:** %s | **Findings:** %d | **Files:** %d\n",
		decisionBanner(result.Verdict.Decision),
		len(results),
		len(fileSet)))

	if result.Verdict.Reason != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", result.Verdict.Reason))
	}

	if len(results) == 0 {
		b.WriteString("\nNo findings detected.\n")
	} else {
		b.WriteString("\n### Findings by Severity\n")
		b.WriteString("| Severity | Count |\n")
		b.WriteString("|----------|-------|\n")
		for _, level := range []string{"error", "warning", "note"} {
			if count, ok := severityCounts[level]; ok && count > 0 {
				b.WriteString(fmt.Sprintf("| %s    | %d     |\n", level, count))
			}
		}

		b.WriteString("\n### Findings\n\n")

		for _, r := range sortResults(results) {
			fp := resultFilePath(r)
			pos := resultPosition(r)

			locationStr := ""
			if fp != "" && pos != "" {
				locationStr = fmt.Sprintf(" in <code>%s:%s</code>", fp, pos)
			} else if fp != "" {
				locationStr = fmt.Sprintf(" in <code>%s</code>", fp)
			}

			b.WriteString("<details>\n")
			b.WriteString(fmt.Sprintf("<summary>%s <strong>%s</strong> %s: %s%s</summary>\n\n",
				severityEmoji(r.Level), r.Level, r.RuleID, truncate(r.Message.Text, 80), locationStr))

			d, known := descriptors[r.RuleID]
			if known && d.Name != "" {
				b.WriteString(fmt.Sprintf("**Rule:** %s (%s)\n", r.RuleID, d.Name))
			} else {
				b.WriteString(fmt.Sprintf("**Rule:** %s\n", r.RuleID))
			}
			if fp != "" {
				b.WriteString(fmt.Sprintf("**File:** `%s` line %s\n", fp, pos))
			}

			b.WriteString(fmt.Sprintf("\n> %s\n", r.Message.Text))

			if known && d.Help != nil && d.Help.Text != "" {
				b.WriteString(fmt.Sprintf("\n**Remediation:** %s\n", d.Help.Text))
			}
			if known && d.HelpURI != "" {
				b.WriteString(fmt.Sprintf("\n[Reference](%s)\n", d.HelpURI))
			}

			b.WriteString("\n</details>\n\n")
		}
	}

	if len(notifications) > 0 {
		b.WriteString("\n### Tool Notifications\n\n")
		for _, n := range notifications {
			loc := ""
			if len(n.Locations) > 0 {
				loc = fmt.Sprintf(" (`%s`)", n.Locations[0].PhysicalLocation.ArtifactLocation.URI)
			}
			rule := ""
			if n.Descriptor != nil {
				rule = n.Descriptor.ID + ": "
			}
			b.WriteString(fmt.Sprintf("- %s %s%s%s\n", severityEmoji(n.Level), rule, n.Message.Text, loc))
		}
		b.WriteString("\n")
	}

	if s := result.Stats; s != nil && s.TotalFiles > 0 {
		b.WriteString(fmt.Sprintf("*%d files traversed, %d invocations, %.0f%% cache hits, p95 %.1fms per file*\n\n",
			s.TotalFiles, s.TotalInvocations, s.CacheHitRate*100, s.P95DurationMs))
	}

	b.WriteString("---\n")
	b.WriteString("*Generated by [callsite](https://github.com/chris-regnier/callsite)*\n")

	return []byte(b.String()), nil
}

// truncate shortens a string to maxLen characters, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
