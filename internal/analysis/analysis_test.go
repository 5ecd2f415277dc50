package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/callsite/internal/config"
	"github.com/chris-regnier/callsite/internal/input"
	"github.com/chris-regnier/callsite/internal/sarif"
	"github.com/chris-regnier/callsite/internal/store"
)

const loginSrc = `package com.acme;

import javax.servlet.http.HttpServletRequest;

class Login {
    String session(HttpServletRequest req) {
        return req.getRequestedSessionId();
    }

    void trace(Exception e) {
        e.printStackTrace();
    }
}
`

const wrapperSrc = `package com.acme;

import javax.servlet.http.HttpServletRequestWrapper;

class AuditedRequest extends HttpServletRequestWrapper {
    AuditedRequest(javax.servlet.http.HttpServletRequest req) {
        super(req);
    }
}
`

const userSrc = `package com.acme;

class Audit {
    String id(AuditedRequest req) {
        return req.getRequestedSessionId();
    }
}
`

func writeProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	files := map[string]string{
		"src/main/java/com/acme/Login.java":          loginSrc,
		"src/main/java/com/acme/AuditedRequest.java": wrapperSrc,
		"src/main/java/com/acme/Audit.java":          userSrc,
	}
	for rel, src := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	}
	return root
}

func readDir(t *testing.T, root string) []input.Artifact {
	t.Helper()
	artifacts, err := input.NewHandler().ReadDirectory(root)
	require.NoError(t, err)
	return artifacts
}

func ruleLines(log *sarif.Log) map[string][]int {
	out := map[string][]int{}
	for _, r := range log.Runs[0].Results {
		loc := r.Locations[0].PhysicalLocation
		out[r.RuleID] = append(out[r.RuleID], loc.Region.StartLine)
	}
	return out
}

func TestAnalyzer_Directory(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()

	a, err := New(ctx, root, config.SystemDefaults())
	require.NoError(t, err)
	defer a.Close()

	out, err := a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)

	results := out.SARIFLog.Runs[0].Results
	require.NotEmpty(t, results)
	uris := map[string]bool{}
	for _, r := range results {
		uris[r.Locations[0].PhysicalLocation.ArtifactLocation.URI] = true
	}
	assert.True(t, uris["src/main/java/com/acme/Login.java"], "URIs are relative to the root")
	assert.True(t, uris["src/main/java/com/acme/Audit.java"], "project subtype of the wrapper is matched")

	lines := ruleLines(out.SARIFLog)
	assert.Contains(t, lines["S2254"], 7)
	assert.Contains(t, lines["S1148"], 11)

	assert.Equal(t, "review", out.Verdict.Decision)
	require.NotNil(t, out.Stats)
	assert.Equal(t, int64(3), out.Stats.TotalFiles)

	id, ok := out.Verdict.Metadata["result_id"].(string)
	require.True(t, ok)
	s := store.NewFileStore(filepath.Join(root, ".callsite", "results"))
	stored, err := s.ReadVerdict(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "review", stored.Decision)
}

func TestAnalyzer_SecondRunHitsCache(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()

	a, err := New(ctx, root, config.SystemDefaults(), WithoutStore())
	require.NoError(t, err)

	first, err := a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Stats.CacheHits)

	second, err := a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)
	assert.Equal(t, int64(3), second.Stats.CacheHits)
	assert.Equal(t, ruleLines(first.SARIFLog), ruleLines(second.SARIFLog))
}

func TestAnalyzer_RuleOverrides(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()

	cfg := config.SystemDefaults()
	disabled := false
	cfg.Rules["S2254"] = config.RuleOverride{Enabled: &disabled}
	cfg.Rules["S1148"] = config.RuleOverride{Level: "error"}

	a, err := New(ctx, root, cfg, WithoutStore())
	require.NoError(t, err)
	for _, r := range a.Rules() {
		assert.NotEqual(t, "S2254", r.ID)
	}

	out, err := a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)

	lines := ruleLines(out.SARIFLog)
	assert.NotContains(t, lines, "S2254")
	require.Contains(t, lines, "S1148")
	for _, r := range out.SARIFLog.Runs[0].Results {
		if r.RuleID == "S1148" {
			assert.Equal(t, "error", r.Level)
		}
	}
	assert.Equal(t, "fail", out.Verdict.Decision)
}

func TestAnalyzer_DiffScopeAndContext(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()

	a, err := New(ctx, root, config.SystemDefaults(), WithoutStore())
	require.NoError(t, err)

	audit := filepath.Join(root, "src", "main", "java", "com", "acme", "Audit.java")
	targets, err := input.NewHandler().ReadFiles([]string{audit})
	require.NoError(t, err)

	out, err := a.Run(ctx, Request{
		Artifacts: targets,
		Context:   readDir(t, root),
		Scope:     ScopeDiff,
		Added: map[string][]sarif.Region{
			"src/main/java/com/acme/Audit.java": {{StartLine: 4, EndLine: 6}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string][]int{"S2254": {5}}, ruleLines(out.SARIFLog),
		"wrapper subtype resolved from context, only the target reported")
	assert.Equal(t, int64(1), out.Stats.TotalFiles)

	out, err = a.Run(ctx, Request{
		Artifacts: targets,
		Context:   readDir(t, root),
		Scope:     ScopeDiff,
		Added: map[string][]sarif.Region{
			"src/main/java/com/acme/Audit.java": {{StartLine: 1, EndLine: 2}},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, out.SARIFLog.Runs[0].Results)
	assert.Equal(t, "pass", out.Verdict.Decision)
}

func TestAnalyzer_SkipsNonJava(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()

	a, err := New(ctx, root, config.SystemDefaults(), WithoutStore())
	require.NoError(t, err)

	out, err := a.Run(ctx, Request{
		Artifacts: []input.Artifact{{Path: filepath.Join(root, "README.md"), Content: []byte("# hi")}},
		Scope:     ScopeFiles,
	})
	require.NoError(t, err)
	assert.Empty(t, out.SARIFLog.Runs[0].Results)
	assert.Equal(t, "pass", out.Verdict.Decision)
}

func TestAnalyzer_WritesMetricsFile(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()
	metricsFile := filepath.Join(t.TempDir(), "callsite.prom")

	a, err := New(ctx, root, config.SystemDefaults(), WithoutStore(), WithMetricsFile(metricsFile))
	require.NoError(t, err)
	_, err = a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "callsite_engine_files_total")
}

func TestAnalyzer_MetricsFormats(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{"metrics.json", "events.csv"} {
		path := filepath.Join(dir, name)
		a, err := New(ctx, root, config.SystemDefaults(), WithoutStore(), WithMetricsFile(path))
		require.NoError(t, err)
		_, err = a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		switch filepath.Ext(name) {
		case ".json":
			assert.Contains(t, string(data), `"total_files": 3`)
		case ".csv":
			assert.Equal(t, 4, strings.Count(string(data), "\n"), "header plus one row per file")
		}

		var report strings.Builder
		require.NoError(t, a.WriteReport(&report))
		assert.Contains(t, report.String(), "Files:            3")
	}
}

func TestEffectiveRules_ProjectRulesAndLevels(t *testing.T) {
	root := writeProject(t)
	dir := filepath.Join(root, ".callsite", "rules")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(`rules:
  - id: "ACME1"
    name: "no-exit"
    category: "reliability"
    level: "warning"
    message: "Do not call System.exit"
    methods:
      - owners: ["java.lang.System"]
        names: ["exit"]
        params: any
`), 0644))

	cfg := config.SystemDefaults()
	cfg.Rules["ACME1"] = config.RuleOverride{Level: "error"}
	all, err := EffectiveRules(root, cfg)
	require.NoError(t, err)

	var found bool
	for _, r := range all {
		if r.ID == "ACME1" {
			found = true
			assert.Equal(t, "error", r.Level)
		}
	}
	assert.True(t, found)
}

func TestAnalyzer_CacheFollowsRuleMessage(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()
	dir := filepath.Join(root, ".callsite", "rules")
	require.NoError(t, os.MkdirAll(dir, 0755))
	writeRule := func(message string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(`rules:
  - id: "ACME2"
    name: "no-trace"
    category: "reliability"
    level: "warning"
    message: "`+message+`"
    methods:
      - owners: ["java.lang.Throwable"]
        subtypes: true
        names: ["printStackTrace"]
        params: none
`), 0644))
	}
	messages := func(log *sarif.Log) []string {
		var out []string
		for _, r := range log.Runs[0].Results {
			if r.RuleID == "ACME2" {
				out = append(out, r.Message.Text)
			}
		}
		return out
	}

	writeRule("old message")
	a, err := New(ctx, root, config.SystemDefaults(), WithoutStore())
	require.NoError(t, err)
	first, err := a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)
	assert.Equal(t, []string{"old message"}, messages(first.SARIFLog))

	writeRule("new message")
	b, err := New(ctx, root, config.SystemDefaults(), WithoutStore())
	require.NoError(t, err)
	second, err := b.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Stats.CacheHits)
	assert.Equal(t, []string{"new message"}, messages(second.SARIFLog))
}

func TestAnalyzer_CacheFollowsReturnTypes(t *testing.T) {
	root := writeProject(t)
	ctx := context.Background()
	pkg := filepath.Join(root, "src", "main", "java", "com", "acme")
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "Chain.java"), []byte(`package com.acme;

class Chain {
    String id(Factory f) {
        return f.req().getRequestedSessionId();
    }
}
`), 0644))
	writeFactory := func(ret string) {
		require.NoError(t, os.WriteFile(filepath.Join(pkg, "Factory.java"), []byte(`package com.acme;

class Factory {
    `+ret+` req() { return null; }
}
`), 0644))
	}
	chainLines := func(log *sarif.Log) []int {
		var out []int
		for _, r := range log.Runs[0].Results {
			loc := r.Locations[0].PhysicalLocation
			if loc.ArtifactLocation.URI == "src/main/java/com/acme/Chain.java" {
				out = append(out, loc.Region.StartLine)
			}
		}
		return out
	}

	a, err := New(ctx, root, config.SystemDefaults(), WithoutStore())
	require.NoError(t, err)

	writeFactory("javax.servlet.http.HttpServletRequest")
	first, err := a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, chainLines(first.SARIFLog))

	writeFactory("Object")
	second, err := a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)
	assert.Empty(t, chainLines(second.SARIFLog))

	writeFactory("javax.servlet.http.HttpServletRequest")
	third, err := a.Run(ctx, Request{Artifacts: readDir(t, root), Scope: ScopeDirectory})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, chainLines(third.SARIFLog))
}
