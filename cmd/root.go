// Package cmd provides the logsentry command-line interface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"logsentry/bootstrap"
	"logsentry/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const defaultTimeout = 5 * time.Minute

// rootOptions carries the persistent flags shared by every subcommand
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	outputJSON bool
	noColor    bool
	quiet      bool
}

// NewRootCmd creates the logsentry command with all subcommands
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "logsentry",
		Short: "Log threat detection engine",
		Long: `logsentry runs normalized log events through signature matching, alert rules,
indicator intelligence and behavior analytics, and reports what it found.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./config.yaml if present)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override the configured log format (console, json)")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Suppress non-essential output")

	root.AddCommand(newProcessCmd(opts))
	root.AddCommand(newRulesCmd(opts))
	root.AddCommand(newIntelCmd(opts))
	root.AddCommand(newSignaturesCmd(opts))

	return root
}

// Execute runs the root command against os.Args
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads configuration and builds the logger it asks for. Flags
// override the configured level and format.
func (o *rootOptions) loadConfig() (*config.Config, *zap.SugaredLogger, error) {
	return bootstrap.InitConfig(o.configFile, o.logLevel, o.logFormat)
}

// initApp builds the full engine set. The returned cleanup stops background
// work and closes connections.
func (o *rootOptions) initApp(ctx context.Context) (*bootstrap.App, func(), error) {
	cfg, sugar, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	app, err := bootstrap.NewApp(ctx, cfg, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize engines: %w", err)
	}
	app.Start(ctx)
	return app, app.Shutdown, nil
}

// outputAsJSON writes v as indented JSON
func outputAsJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
