package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/callsite/internal/analysis"
	"github.com/chris-regnier/callsite/internal/config"
	"github.com/chris-regnier/callsite/internal/evaluator"
	"github.com/chris-regnier/callsite/internal/input"
	"github.com/chris-regnier/callsite/internal/output"
	"github.com/chris-regnier/callsite/internal/telemetry"
)

var errGateFailed = errors.New("gate decision: fail")

var (
	flagFiles       []string
	flagDiff        string
	flagDir         string
	flagFormat      string
	flagPolicyDir   string
	flagMetricsFile string
	flagNoStore     bool
)

func init() {
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze Java sources against the active rules",
		Long: `Analyze Java sources and print a report. Exactly one of --files, --diff or --dir
selects the input. With --diff only findings on added lines are reported.
The command exits non-zero when the gate policy decides "fail".`,
		RunE: runAnalyze,
	}

	analyzeCmd.Flags().StringSliceVar(&flagFiles, "files", nil, "Files to analyze")
	analyzeCmd.Flags().StringVar(&flagDiff, "diff", "", "Path to unified diff file (or - for stdin)")
	analyzeCmd.Flags().StringVar(&flagDir, "dir", "", "Directory to analyze")
	analyzeCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "Output format: auto, json, sarif, markdown, pretty")
	analyzeCmd.Flags().StringVar(&flagPolicyDir, "policy-dir", "", "Directory of Rego policies replacing the default gate")
	analyzeCmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "Write metrics here: .json, .csv, or a Prometheus textfile")
	analyzeCmd.Flags().BoolVar(&flagNoStore, "no-store", false, "Do not persist the run")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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

	req, err := readRequest(cmd.InOrStdin(), cfg)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	a, err := analysis.New(ctx, flagRoot, cfg, analyzerOptions()...)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.Run(ctx, *req)
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}

	if err := printReport(cmd.OutOrStdout(), cfg, out); err != nil {
		return err
	}
	if flagVerbose || flagDebug {
		if err := a.WriteReport(cmd.ErrOrStderr()); err != nil {
			return err
		}
	}
	if out.Verdict.Decision == evaluator.DecisionFail {
		return errGateFailed
	}
	return nil
}

func analyzerOptions() []analysis.Option {
	opts := []analysis.Option{
		analysis.WithPolicyDir(flagPolicyDir),
		analysis.WithMetricsFile(flagMetricsFile),
	}
	if flagNoStore {
		opts = append(opts, analysis.WithoutStore())
	}
	return opts
}

func readRequest(stdin io.Reader, cfg *config.Config) (*analysis.Request, error) {
	h := input.NewHandler(cfg.Engine.Exclude...)

	switch {
	case len(flagFiles) > 0:
		artifacts, err := h.ReadFiles(flagFiles)
		if err != nil {
			return nil, err
		}
		project, err := h.ReadDirectory(flagRoot)
		if err != nil {
			return nil, err
		}
		return &analysis.Request{Artifacts: artifacts, Context: project, Scope: analysis.ScopeFiles}, nil

	case flagDiff != "":
		var patch []byte
		var err error
		if flagDiff == "-" {
			patch, err = io.ReadAll(stdin)
		} else {
			patch, err = os.ReadFile(flagDiff)
		}
		if err != nil {
			return nil, err
		}
		scope, err := h.ReadDiff(patch)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(scope.Files))
		for _, f := range scope.Files {
			paths = append(paths, filepath.Join(flagRoot, filepath.FromSlash(f)))
		}
		artifacts, err := h.ReadFiles(paths)
		if err != nil {
			return nil, err
		}
		project, err := h.ReadDirectory(flagRoot)
		if err != nil {
			return nil, err
		}
		return &analysis.Request{
			Artifacts: artifacts,
			Context:   project,
			Scope:     analysis.ScopeDiff,
			Added:     scope.Added,
		}, nil

	case flagDir != "":
		artifacts, err := h.ReadDirectory(flagDir)
		if err != nil {
			return nil, err
		}
		return &analysis.Request{Artifacts: artifacts, Scope: analysis.ScopeDirectory}, nil
	}
	return nil, fmt.Errorf("specify --files, --diff, or --dir")
}

// startTelemetry returns a shutdown func that flushes exporters with a
// bounded timeout.
func startTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry shutdown error: %v\n", err)
		}
	}, nil
}

func printReport(w io.Writer, cfg *config.Config, out *output.AnalysisOutput) error {
	format := flagFormat
	if format == "" {
		format = cfg.Output.Format
	}
	f, err := output.NewFormatter(output.ResolveFormat(format, output.StdoutIsTTY()))
	if err != nil {
		return err
	}
	if p, ok := f.(*output.PrettyFormatter); ok {
		p.SourceRoot = flagRoot
	}
	data, err := f.Format(out)
	if err != nil {
		return fmt.Errorf("formatting report: %w", err)
	}
	_, err = w.Write(data)
	return err
}
