package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/callsite/internal/analysis"
	"github.com/chris-regnier/callsite/internal/config"
	"github.com/chris-regnier/callsite/internal/rules"
)

var (
	flagRulesCategory string
	flagRulesCWE      string
)

func init() {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rules callsite runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in, user and project rules with their effective level",
		Args:  cobra.NoArgs,
		RunE:  runRulesList,
	}
	listCmd.Flags().StringVar(&flagRulesCategory, "category", "", "Only rules in this category (security, reliability, maintainability)")
	listCmd.Flags().StringVar(&flagRulesCWE, "cwe", "", "Only rules tagged with this CWE, e.g. CWE-89")

	showCmd := &cobra.Command{
		Use:   "show RULE_ID",
		Short: "Print one rule as YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runRulesShow,
	}

	rulesCmd.AddCommand(listCmd, showCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	cfg, all, err := loadRules()
	if err != nil {
		return err
	}
	if flagRulesCategory != "" {
		all = rules.ByCategory(all, rules.RuleCategory(flagRulesCategory))
	}
	if flagRulesCWE != "" {
		all = rules.ByCWE(all, flagRulesCWE)
	}
	return writeRuleTable(cmd.OutOrStdout(), cfg, all)
}

func writeRuleTable(w io.Writer, cfg *config.Config, rs []rules.Rule) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLEVEL\tCATEGORY\tKIND\tENABLED\tNAME")
	for _, r := range rs {
		kind := "yaml"
		if r.Builtin() {
			kind = "go"
		}
		enabled := "yes"
		if !cfg.RuleEnabled(r.ID) {
			enabled = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Level, r.Category, kind, enabled, r.Name)
	}
	return tw.Flush()
}

func runRulesShow(cmd *cobra.Command, args []string) error {
	_, all, err := loadRules()
	if err != nil {
		return err
	}
	r, ok := rules.Find(all, strings.ToUpper(args[0]))
	if !ok {
		return fmt.Errorf("no rule with id %s", args[0])
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func loadRules() (*config.Config, []rules.Rule, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	all, err := analysis.EffectiveRules(flagRoot, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, all, nil
}
