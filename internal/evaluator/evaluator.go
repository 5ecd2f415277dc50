package evaluator

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/chris-regnier/callsite/internal/sarif"
	"github.com/chris-regnier/callsite/internal/store"
)

//go:embed default.rego
var defaultPolicy string

const decisionQuery = "data.callsite.gate.decision"

// Decisions produced by the default policy.
const (
	DecisionPass   = "pass"
	DecisionReview = "review"
	DecisionFail   = "fail"
)

type Evaluator struct {
	query rego.PreparedEvalQuery
}

// NewEvaluator creates an evaluator. If policyDir is empty, uses the default policy.
// If policyDir holds .rego files, they replace the default together.
func NewEvaluator(ctx context.Context, policyDir string) (*Evaluator, error) {
	modules, err := loadModules(policyDir)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		modules = []func(*rego.Rego){rego.Module("default.rego", defaultPolicy)}
	}

	opts := append([]func(*rego.Rego){rego.Query(decisionQuery)}, modules...)
	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing rego query: %w", err)
	}

	return &Evaluator{query: query}, nil
}

func loadModules(policyDir string) ([]func(*rego.Rego), error) {
	if policyDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(policyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading policy dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".rego") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var modules []func(*rego.Rego)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(policyDir, name))
		if err != nil {
			return nil, err
		}
		modules = append(modules, rego.Module(name, string(data)))
	}
	return modules, nil
}

func (e *Evaluator) Evaluate(ctx context.Context, log *sarif.Log) (*store.Verdict, error) {
	data, err := json.Marshal(log)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating rego: %w", err)
	}

	decision := DecisionReview
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if d, ok := results[0].Expressions[0].Value.(string); ok {
			decision = d
		}
	}

	var relevant []sarif.Result
	resultCount := 0
	if len(log.Runs) > 0 {
		resultCount = len(log.Runs[0].Results)
		for _, r := range log.Runs[0].Results {
			if decision == DecisionFail && r.Level == "error" {
				relevant = append(relevant, r)
			} else if decision == DecisionReview && (r.Level == "warning" || r.Level == "error") {
				relevant = append(relevant, r)
			}
		}
	}

	return &store.Verdict{
		Decision:         decision,
		Reason:           fmt.Sprintf("Decision: %s based on %d findings", decision, resultCount),
		RelevantFindings: relevant,
	}, nil
}
