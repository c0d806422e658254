package cmd

import (
	"logsentry/bootstrap"

	"github.com/spf13/cobra"
)

// newSignaturesCmd creates the 'signatures' command group
func newSignaturesCmd(opts *rootOptions) *cobra.Command {
	signaturesCmd := &cobra.Command{
		Use:   "signatures",
		Short: "Inspect attack signatures",
	}
	signaturesCmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the active signatures",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sugar, err := opts.loadConfig()
			if err != nil {
				return err
			}
			matcher, err := bootstrap.InitSignatures(cfg, sugar)
			if err != nil {
				return err
			}

			signatures := matcher.Signatures()
			if opts.outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), signatures)
			}
			renderSignatures(cmd.OutOrStdout(), signatures)
			return nil
		},
	})
	return signaturesCmd
}
