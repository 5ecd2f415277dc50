package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/callsite/internal/analysis"
	"github.com/chris-regnier/callsite/internal/input"
	"github.com/chris-regnier/callsite/internal/watch"
)

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-analyze Java files under --root as they change",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "Output format: auto, json, sarif, markdown, pretty")
	watchCmd.Flags().StringVar(&flagPolicyDir, "policy-dir", "", "Directory of Rego policies replacing the default gate")
	watchCmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "Write a Prometheus textfile snapshot after every run")
	watchCmd.Flags().BoolVar(&flagNoStore, "no-store", false, "Do not persist runs")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	a, err := analysis.New(ctx, flagRoot, cfg, analyzerOptions()...)
	if err != nil {
		return err
	}
	defer a.Close()

	h := input.NewHandler(cfg.Engine.Exclude...)
	w := cmd.OutOrStdout()
	logger := slog.Default()

	analyze := func(files []string) {
		project, err := h.ReadDirectory(flagRoot)
		if err != nil {
			logger.Error("reading project", "err", err)
			return
		}
		req := analysis.Request{Artifacts: project, Scope: analysis.ScopeDirectory}
		if files != nil {
			changed, err := h.ReadFiles(files)
			if err != nil {
				logger.Warn("reading changed files", "err", err)
				return
			}
			req = analysis.Request{Artifacts: changed, Context: project, Scope: analysis.ScopeFiles}
		}
		out, err := a.Run(ctx, req)
		if err != nil {
			logger.Error("analysis failed", "err", err)
			return
		}
		if err := printReport(w, cfg, out); err != nil {
			logger.Error("printing report", "err", err)
		}
	}

	analyze(nil)

	watcher, err := watch.New(flagRoot, watch.FromConfig(cfg.Watch), analyze, logger)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	logger.Info("watching for changes", "root", flagRoot)
	return watcher.Run(ctx)
}
