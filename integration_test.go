package callsite_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chris-regnier/callsite/internal/analysis"
	"github.com/chris-regnier/callsite/internal/config"
	"github.com/chris-regnier/callsite/internal/evaluator"
	"github.com/chris-regnier/callsite/internal/input"
	"github.com/chris-regnier/callsite/internal/output"
	"github.com/chris-regnier/callsite/internal/sarif"
	"github.com/chris-regnier/callsite/internal/store"
)

const sessionSrc = `package com.acme.web;

import javax.servlet.http.HttpServletRequest;

public class SessionFilter {
    public String sessionOf(HttpServletRequest request) {
        String id = request.getRequestedSessionId();
        return id;
    }
}
`

const jakartaSrc = `package com.acme.web;

import jakarta.servlet.http.HttpServletRequest;

public class JakartaFilter {
    public String sessionOf(HttpServletRequest request) {
        return request.getSession().getId();
    }
}
`

func TestFullPipeline(t *testing.T) {
	ctx := context.Background()
	t.Setenv("HOME", t.TempDir())

	// 1. Project on disk
	root := t.TempDir()
	dir := filepath.Join(root, "src", "main", "java", "com", "acme", "web")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "SessionFilter.java"), []byte(sessionSrc), 0644)
	os.WriteFile(filepath.Join(dir, "JakartaFilter.java"), []byte(jakartaSrc), 0644)

	// 2. Config from the project tier
	cfgDir := filepath.Join(root, ".callsite")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("rules:\n  S2254:\n    level: error\n"), 0644)
	cfg, err := config.LoadTiered("", config.ProjectConfigPath(root))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	// 3. Input
	artifacts, err := input.NewHandler(cfg.Engine.Exclude...).ReadDirectory(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(artifacts))
	}

	// 4. Analyze
	a, err := analysis.New(ctx, root, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	out, err := a.Run(ctx, analysis.Request{Artifacts: artifacts, Scope: analysis.ScopeDirectory})
	if err != nil {
		t.Fatal(err)
	}

	results := out.SARIFLog.Runs[0].Results
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d: %+v", len(results), results)
	}
	r := results[0]
	if r.RuleID != "S2254" || r.Level != "error" {
		t.Errorf("expected S2254 at error level, got %s/%s", r.RuleID, r.Level)
	}
	loc := r.Locations[0].PhysicalLocation
	if loc.ArtifactLocation.URI != "src/main/java/com/acme/web/SessionFilter.java" {
		t.Errorf("unexpected URI %q", loc.ArtifactLocation.URI)
	}
	if loc.Region.StartLine != 7 {
		t.Errorf("expected line 7, got %d", loc.Region.StartLine)
	}
	if !strings.Contains(r.Message.Text, "getRequestedSessionId()") {
		t.Errorf("unexpected message %q", r.Message.Text)
	}

	// 5. Gate
	if out.Verdict.Decision != evaluator.DecisionFail {
		t.Errorf("expected 'fail' for error-level finding, got %q", out.Verdict.Decision)
	}

	// 6. Store
	s := store.NewFileStore(filepath.Join(root, ".callsite", "results"))
	ids, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 stored run, got %d", len(ids))
	}
	stored, err := s.ReadSARIF(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Runs[0].Results) != 1 {
		t.Errorf("stored log should hold the result")
	}

	// 7. Report
	f, err := output.NewFormatter("sarif")
	if err != nil {
		t.Fatal(err)
	}
	data, err := f.Format(out)
	if err != nil {
		t.Fatal(err)
	}
	var doc sarif.Log
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("sarif output is not valid JSON: %v", err)
	}
	if doc.Runs[0].Tool.Driver.Name != sarif.ToolName {
		t.Errorf("unexpected driver %q", doc.Runs[0].Tool.Driver.Name)
	}
}
