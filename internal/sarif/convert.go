package sarif

import (
	"fmt"
	"path/filepath"

	"github.com/chris-regnier/callsite/internal/engine"
	"github.com/chris-regnier/callsite/internal/javaast"
	"github.com/chris-regnier/callsite/internal/rules"
)

func location(path string, span javaast.Span) Location {
	return Location{PhysicalLocation: PhysicalLocation{
		ArtifactLocation: ArtifactLocation{URI: filepath.ToSlash(path)},
		Region: Region{
			StartLine:   span.StartLine,
			StartColumn: span.StartColumn,
			EndLine:     span.EndLine,
			EndColumn:   span.EndColumn,
		},
	}}
}

// FromDiagnostics converts engine diagnostics to results, keeping their order.
func FromDiagnostics(diags []engine.Diagnostic) []Result {
	out := make([]Result, 0, len(diags))
	for _, d := range diags {
		out = append(out, Result{
			RuleID:    d.RuleID,
			Level:     string(d.Level),
			Message:   Message{Text: d.Message},
			Locations: []Location{location(d.Path, d.Span)},
		})
	}
	return out
}

// Notifications reports callback failures and aborted files. Failures are
// warnings; an aborted file is an error because its findings are missing.
func Notifications(results []*engine.FileResult) []Notification {
	var out []Notification
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.State == engine.Aborted {
			msg := "traversal aborted"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			out = append(out, Notification{
				Level:     "error",
				Message:   Message{Text: msg},
				Locations: []Location{location(res.Path, javaast.Span{})},
			})
			continue
		}
		for _, f := range res.Failures {
			out = append(out, Notification{
				Level:      "warning",
				Message:    Message{Text: fmt.Sprintf("rule callback failed: %v", f.Err)},
				Descriptor: &DescriptorReference{ID: f.RuleID},
				Locations:  []Location{location(f.Path, f.Span)},
			})
		}
	}
	return out
}

// Descriptors describes each rule for the driver's rules table.
func Descriptors(rs []rules.Rule) []ReportingDescriptor {
	out := make([]ReportingDescriptor, 0, len(rs))
	for _, r := range rs {
		d := ReportingDescriptor{
			ID:               r.ID,
			Name:             r.Name,
			ShortDescription: Message{Text: r.Message},
			DefaultConfig:    &ReportingConfiguration{Level: r.Level},
		}
		if r.Explanation != "" {
			d.FullDescription = &Message{Text: r.Explanation}
		}
		if r.Remediation != "" {
			d.Help = &Message{Text: r.Remediation}
		}
		if len(r.References) > 0 {
			d.HelpURI = r.References[0]
		}
		props := map[string]interface{}{}
		if r.Category != "" {
			props["category"] = string(r.Category)
		}
		var tags []string
		tags = append(tags, r.CWE...)
		tags = append(tags, r.OWASP...)
		if len(tags) > 0 {
			props["tags"] = tags
		}
		if len(props) > 0 {
			d.Properties = props
		}
		out = append(out, d)
	}
	return out
}
