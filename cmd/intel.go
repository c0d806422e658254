package cmd

import (
	"context"
	"fmt"

	"logsentry/bootstrap"
	"logsentry/core"

	"github.com/spf13/cobra"
)

// newIntelCmd creates the 'intel' command group
func newIntelCmd(opts *rootOptions) *cobra.Command {
	intelCmd := &cobra.Command{
		Use:   "intel",
		Short: "Query indicator intelligence",
	}
	intelCmd.AddCommand(newIntelCheckCmd(opts))
	intelCmd.AddCommand(newIntelFeedsCmd(opts))
	return intelCmd
}

// newIntelCheckCmd creates the 'intel check' subcommand
func newIntelCheckCmd(opts *rootOptions) *cobra.Command {
	var iocType string

	cmd := &cobra.Command{
		Use:   "check <value>",
		Short: "Show reputation and context for an indicator",
		Long: `Look up an IP, domain, URL, email, hash or path against the configured feeds and
print its reputation, geo context and attribution. The type is detected when --type is omitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := core.IOCType(iocType)
			if t != "" && !t.IsValid() {
				return fmt.Errorf("unknown indicator type %q", iocType)
			}

			cfg, sugar, err := opts.loadConfig()
			if err != nil {
				return err
			}
			svc, err := bootstrap.InitThreat(cfg, sugar)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()
			result := svc.Enrich(ctx, args[0], t)

			if opts.outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), result)
			}
			renderEnrichment(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&iocType, "type", "", "Indicator type (ip, domain, url, email, md5, sha1, sha256, filepath, user_agent)")

	return cmd
}

// newIntelFeedsCmd creates the 'intel feeds' subcommand
func newIntelFeedsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List the configured threat feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sugar, err := opts.loadConfig()
			if err != nil {
				return err
			}
			svc, err := bootstrap.InitThreat(cfg, sugar)
			if err != nil {
				return err
			}

			feeds := svc.ListFeeds()
			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, feeds)
			}
			headerColor.Fprintln(out, "FEEDS")
			for _, f := range feeds {
				state := successColor.Sprint("enabled")
				if !f.Enabled {
					state = warningColor.Sprint("disabled")
				}
				fmt.Fprintf(out, "%-24s %-10s %6d  %s\n", f.Name, state, f.Indicators, f.Description)
			}
			return nil
		},
	}
}
