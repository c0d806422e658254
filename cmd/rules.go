package cmd

import (
	"context"
	"fmt"

	"logsentry/core"
	"logsentry/detect"
	"logsentry/ingest"

	"github.com/spf13/cobra"
)

// newRulesCmd creates the 'rules' command group
func newRulesCmd(opts *rootOptions) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with alert rule packs",
	}
	rulesCmd.AddCommand(newRulesValidateCmd(opts))
	rulesCmd.AddCommand(newRulesDryRunCmd(opts))
	return rulesCmd
}

// validationReport is the JSON shape of 'rules validate'
type validationReport struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// newRulesValidateCmd creates the 'rules validate' subcommand
func newRulesValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a rule pack without loading it",
		Long:  "Check a YAML or JSON rule pack against the rule schema and the rule engine's validation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problems, err := detect.ValidateRulePack(detect.NewRuleEngine(nil), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				if err := outputAsJSON(out, validationReport{File: args[0], Valid: len(problems) == 0, Problems: problems}); err != nil {
					return err
				}
			} else if len(problems) == 0 {
				successColor.Fprintf(out, "✓ %s is valid\n", args[0])
			} else {
				errorColor.Fprintf(out, "✗ %s has %d problem(s)\n", args[0], len(problems))
				for _, p := range problems {
					fmt.Fprintf(out, "  - %s\n", p)
				}
			}

			if len(problems) > 0 {
				return fmt.Errorf("rule pack %s is invalid", args[0])
			}
			return nil
		},
	}
}

// newRulesDryRunCmd creates the 'rules dry-run' subcommand
func newRulesDryRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run <rules-file> <events-file>",
		Short: "Evaluate a rule pack against sample events",
		Long: `Load a rule pack into a scratch engine and evaluate each rule over the events of a
JSON-lines file. Nothing is stored or forwarded.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			engine := detect.NewRuleEngine(nil)
			rules, err := detect.LoadRulePack(engine, args[0], true, nil)
			if err != nil {
				return err
			}

			input, closeInput, err := openInput(cmd, args[1])
			if err != nil {
				return err
			}
			defer closeInput()

			var events []*core.Event
			normalizer := ingest.NewNormalizer(nil)
			if _, _, err := normalizer.ReadJSONLines(ctx, input, func(event *core.Event) error {
				events = append(events, event)
				return nil
			}); err != nil {
				return err
			}

			results := make([]*detect.DryRunResult, len(rules))
			for i, rule := range rules {
				if results[i], err = engine.DryRunRule(rule.ID, events); err != nil {
					return fmt.Errorf("rule %s: %w", rule.Name, err)
				}
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				report := make(map[string]*detect.DryRunResult, len(rules))
				for i, rule := range rules {
					report[rule.Name] = results[i]
				}
				return outputAsJSON(out, report)
			}
			infoColor.Fprintf(out, "Evaluated %d rule(s) over %d event(s)\n", len(rules), len(events))
			renderDryRuns(out, rules, results)
			return nil
		},
	}
}
