package sarif

// ToolName is the SARIF driver name.
const ToolName = "callsite"

// ToolVersion is stamped into every log; the CLI overrides it at build time.
var ToolVersion = "0.1.0"

// Assemble creates a SARIF log from analysis results, dropping exact
// duplicates while keeping the first occurrence in place.
func Assemble(results []Result, rules []ReportingDescriptor, inputScope string) *Log {
	return NewAssembler().
		AddResults(results).
		AddRules(rules).
		WithInputScope(inputScope).
		Build()
}

func dedup(results []Result) []Result {
	type key struct {
		ruleID  string
		uri     string
		region  Region
		message string
	}

	seen := make(map[key]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		k := key{ruleID: r.RuleID, message: r.Message.Text}
		if len(r.Locations) > 0 {
			k.uri = r.Locations[0].PhysicalLocation.ArtifactLocation.URI
			k.region = r.Locations[0].PhysicalLocation.Region
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func regionsOverlap(a, b Region) bool {
	return a.StartLine <= b.EndLine && b.StartLine <= a.EndLine
}

// FilterLines keeps results whose first location overlaps one of the given
// line ranges for its file. Results for files absent from ranges are dropped.
func FilterLines(results []Result, ranges map[string][]Region) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if len(r.Locations) == 0 {
			continue
		}
		loc := r.Locations[0].PhysicalLocation
		for _, rg := range ranges[loc.ArtifactLocation.URI] {
			if regionsOverlap(loc.Region, rg) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
