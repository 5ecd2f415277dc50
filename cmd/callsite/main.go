package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/callsite/internal/config"
	"github.com/chris-regnier/callsite/internal/output"
	"github.com/chris-regnier/callsite/internal/sarif"
)

var (
	// Version information injected by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagRoot    string
	flagQuiet   bool
	flagVerbose bool
	flagDebug   bool
	flagLogJSON bool
)

var rootCmd = &cobra.Command{
	Use:     "callsite",
	Short:   "Find calls to flagged Java methods",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(output.SetupLogger(output.LogOptions{
			Quiet:   flagQuiet,
			Verbose: flagVerbose,
			Debug:   flagDebug,
			JSON:    flagLogJSON,
		}, os.Stderr))
		sarif.ToolVersion = version
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("callsite %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built at: %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "Project root holding .callsite/")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all log output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log progress")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Log debug detail")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig merges system, machine and project config and validates it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadTiered(config.MachineConfigPath(), config.ProjectConfigPath(flagRoot))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = version
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
