package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chris-regnier/callsite/internal/analysis"
	"github.com/chris-regnier/callsite/internal/evaluator"
	"github.com/chris-regnier/callsite/internal/output"
)

var judgeTracer = otel.Tracer("github.com/chris-regnier/callsite/cmd/callsite/judge")

var flagJudgeResult string

func init() {
	judgeCmd := &cobra.Command{
		Use:   "judge",
		Short: "Re-evaluate a stored run with the current gate policy",
		Long:  `Evaluate a previously stored SARIF log with Rego policies. By default evaluates the most recent run.`,
		Args:  cobra.NoArgs,
		RunE:  runJudge,
	}

	judgeCmd.Flags().StringVar(&flagJudgeResult, "result", "", "Run ID to evaluate (default: most recent)")
	judgeCmd.Flags().StringVar(&flagPolicyDir, "policy-dir", "", "Directory of Rego policies replacing the default gate")
	judgeCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "Output format: auto, json, sarif, markdown, pretty")

	rootCmd.AddCommand(judgeCmd)
}

func runJudge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	shutdown, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	s, err := analysis.OpenStore(flagRoot, cfg)
	if err != nil {
		return err
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}

	resultID := flagJudgeResult
	if resultID == "" {
		ids, err := s.List(ctx)
		if err != nil {
			return fmt.Errorf("listing results: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("no stored runs found")
		}
		resultID = ids[0] // List returns newest first
	}

	ctx, span := judgeTracer.Start(ctx, "judge",
		trace.WithAttributes(attribute.String("callsite.result_id", resultID)))
	defer span.End()

	log, err := s.ReadSARIF(ctx, resultID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("reading SARIF for %s: %w", resultID, err)
	}

	policyDir := flagPolicyDir
	if policyDir == "" {
		policyDir = rooted(cfg.Gate.PolicyDir)
	}
	eval, err := evaluator.NewEvaluator(ctx, policyDir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating evaluator: %w", err)
	}
	verdict, err := eval.Evaluate(ctx, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("evaluating: %w", err)
	}
	if verdict.Metadata == nil {
		verdict.Metadata = map[string]interface{}{}
	}
	verdict.Metadata["result_id"] = resultID

	if err := s.WriteVerdict(ctx, resultID, verdict); err != nil {
		return fmt.Errorf("storing verdict: %w", err)
	}
	span.SetAttributes(attribute.String("callsite.decision", verdict.Decision))

	if err := printReport(cmd.OutOrStdout(), cfg, &output.AnalysisOutput{Verdict: verdict, SARIFLog: log}); err != nil {
		return err
	}
	if verdict.Decision == evaluator.DecisionFail {
		return errGateFailed
	}
	return nil
}

func rooted(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(flagRoot, p)
}
