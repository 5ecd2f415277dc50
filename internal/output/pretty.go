package output

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/chris-regnier/callsite/internal/sarif"
)

var (
	fileHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			Foreground(lipgloss.Color("170"))

	positionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(8).
			Align(lipgloss.Right)

	levelErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Width(8)

	levelWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Bold(true).
				Width(8)

	levelNoteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Width(8)

	ruleIDStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("63"))

	snippetLineStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241")).
				Width(6).
				Align(lipgloss.Right)

	decisionPassStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("46")).
				Bold(true)

	decisionReviewStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Bold(true)

	decisionFailStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")).
				Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// PrettyFormatter renders analysis output as colored, human-readable
// terminal output grouped by file. When the flagged source file can be read
// from SourceRoot (or the working directory), the offending line is shown
// under each finding, syntax highlighted if Highlight is set.
type PrettyFormatter struct {
	SourceRoot string
	Highlight  bool
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case "error":
		return levelErrorStyle
	case "warning":
		return levelWarningStyle
	default:
		return levelNoteStyle
	}
}

func decisionStyle(decision string) lipgloss.Style {
	switch decision {
	case "pass":
		return decisionPassStyle
	case "fail":
		return decisionFailStyle
	default:
		return decisionReviewStyle
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// Format produces pretty terminal output.
func (f *PrettyFormatter) Format(result *AnalysisOutput) ([]byte, error) {
	if result == nil || result.Verdict == nil {
		return nil, errors.New("pretty formatter: verdict is required")
	}

	var results []sarif.Result
	var notifications []sarif.Notification
	if result.SARIFLog != nil && len(result.SARIFLog.Runs) > 0 {
		run := result.SARIFLog.Runs[0]
		results = run.Results
		notifications = runNotifications(run)
	}

	byFile := make(map[string][]sarif.Result)
	for _, r := range results {
		fp := resultFilePath(r)
		byFile[fp] = append(byFile[fp], r)
	}
	files := make([]string, 0, len(byFile))
	for fp := range byFile {
		files = append(files, fp)
	}
	sort.Strings(files)

	var b strings.Builder
	src := newSourceCache(f.SourceRoot)

	for _, fp := range files {
		rs := byFile[fp]
		sort.SliceStable(rs, func(i, j int) bool {
			return resultLine(rs[i]) < resultLine(rs[j])
		})

		b.WriteString(fileHeaderStyle.Render(fp))
		b.WriteString("\n")
		for _, r := range rs {
			b.WriteString(positionStyle.Render(resultPosition(r)))
			b.WriteString("  ")
			b.WriteString(levelStyle(r.Level).Render(r.Level))
			b.WriteString(ruleIDStyle.Render(r.RuleID))
			b.WriteString("  ")
			b.WriteString(r.Message.Text)
			b.WriteString("\n")

			line := resultLine(r)
			if text, ok := src.line(fp, line); ok {
				if f.Highlight {
					text = highlightJava(text)
				}
				b.WriteString(snippetLineStyle.Render(fmt.Sprintf("%d", line)))
				b.WriteString(" │ ")
				b.WriteString(text)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	for _, n := range notifications {
		where := ""
		if len(n.Locations) > 0 {
			where = n.Locations[0].PhysicalLocation.ArtifactLocation.URI + ": "
		}
		b.WriteString(levelStyle(n.Level).Render(n.Level))
		b.WriteString(dimStyle.Render(where + n.Message.Text))
		b.WriteString("\n")
	}
	if len(notifications) > 0 {
		b.WriteString("\n")
	}

	if len(results) == 0 {
		b.WriteString("No findings.\n")
	} else {
		counts := map[string]int{}
		for _, r := range results {
			counts[r.Level]++
		}
		var parts []string
		for _, level := range []string{"error", "warning", "note"} {
			if counts[level] > 0 {
				parts = append(parts, plural(counts[level], level))
			}
		}
		b.WriteString(fmt.Sprintf("%s in %s\n", strings.Join(parts, ", "), plural(len(files), "file")))
	}

	if s := result.Stats; s != nil && s.TotalFiles > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("%s traversed, %d cache hits, p95 %.1fms",
			plural(int(s.TotalFiles), "file"), s.CacheHits, s.P95DurationMs)))
		b.WriteString("\n")
	}

	b.WriteString("Decision: ")
	b.WriteString(decisionStyle(result.Verdict.Decision).Render(result.Verdict.Decision))
	if result.Verdict.Reason != "" {
		b.WriteString(dimStyle.Render(" (" + result.Verdict.Reason + ")"))
	}
	b.WriteString("\n")

	return []byte(b.String()), nil
}

// sourceCache reads each flagged file at most once.
type sourceCache struct {
	root  string
	files map[string][]string
}

func newSourceCache(root string) *sourceCache {
	return &sourceCache{root: root, files: make(map[string][]string)}
}

func (c *sourceCache) line(uri string, n int) (string, bool) {
	if uri == "" || n < 1 {
		return "", false
	}
	lines, ok := c.files[uri]
	if !ok {
		lines = readLines(filepath.Join(c.root, filepath.FromSlash(uri)))
		c.files[uri] = lines
	}
	if n > len(lines) {
		return "", false
	}
	return strings.TrimRight(lines[n-1], " \t"), true
}

func readLines(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

var javaLexer = func() chroma.Lexer {
	l := lexers.Get("java")
	if l == nil {
		l = lexers.Fallback
	}
	return chroma.Coalesce(l)
}()

// highlightJava applies terminal syntax highlighting to a single line.
func highlightJava(line string) string {
	iterator, err := javaLexer.Tokenise(nil, line)
	if err != nil {
		return line
	}

	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}

	var b strings.Builder
	if err := formatters.TTY256.Format(&b, style, iterator); err != nil {
		return line
	}
	return strings.TrimSuffix(b.String(), "\n")
}
