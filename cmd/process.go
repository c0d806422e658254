package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"logsentry/core"
	"logsentry/ingest"
	"logsentry/pipeline"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// processSummary is the outcome of one process run
type processSummary struct {
	Lines      int                   `json:"lines"`
	Malformed  int                   `json:"malformed"`
	Processed  int                   `json:"processed"`
	Failed     int                   `json:"failed"`
	Skipped    int                   `json:"skipped"`
	Detections int                   `json:"detections"`
	Findings   int                   `json:"findings"`
	Rules      int                   `json:"rules_triggered"`
	Anomalies  int                   `json:"anomalies"`
	Degraded   int                   `json:"degraded"`
	BySeverity map[core.Severity]int `json:"by_severity"`
	Duration   string                `json:"duration"`
	Results    []*core.ProcessResult `json:"results,omitempty"`
}

func summarize(batch pipeline.BatchResult, lines, malformed int, elapsed time.Duration, withResults bool) *processSummary {
	summary := &processSummary{
		Lines:      lines,
		Malformed:  malformed,
		Processed:  batch.Processed,
		Failed:     batch.Failed,
		Skipped:    batch.Skipped,
		BySeverity: make(map[core.Severity]int),
		Duration:   elapsed.Round(time.Millisecond).String(),
	}
	for _, r := range batch.Results {
		summary.Findings += len(r.Findings)
		summary.Rules += len(r.TriggeredRules)
		summary.Anomalies += len(r.Anomalies)
		if len(r.Degraded) > 0 {
			summary.Degraded++
		}
		if !r.HasDetections() {
			continue
		}
		summary.Detections++
		summary.BySeverity[r.MaxSeverity()]++
		if withResults {
			summary.Results = append(summary.Results, r)
		}
	}
	return summary
}

// newProcessCmd creates the 'process' subcommand
func newProcessCmd(opts *rootOptions) *cobra.Command {
	var (
		withResults bool
		format      string
	)

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Process a log file",
		Long: `Normalize every line of a log file, run the events through all detection
engines and print a summary. JSON lines may hold agent batches or single log
payloads; --format selects syslog (RFC 3164/5424) or CEF input instead.
Use "-" to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputFormat, err := ingest.ParseFormat(format)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			input, closeInput, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeInput()

			app, cleanup, err := opts.initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			var s *spinner.Spinner
			if !opts.outputJSON && !opts.quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Processing events..."
				s.Start()
			}

			start := time.Now()
			var events []*core.Event
			lines, malformed, err := app.Normalizer.ReadLines(ctx, input, inputFormat, func(event *core.Event) error {
				events = append(events, event)
				return nil
			})
			var batch pipeline.BatchResult
			if err == nil {
				batch = app.Orchestrator.ProcessBatch(ctx, events)
			}

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			summary := summarize(batch, lines, malformed, time.Since(start), withResults || opts.outputJSON)
			if opts.outputJSON {
				return outputAsJSON(out, summary)
			}
			renderSummary(out, summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&withResults, "results", false, "Print every result with detections")
	cmd.Flags().StringVar(&format, "format", "json", "Input format (json, syslog, cef)")

	return cmd
}

func openInput(cmd *cobra.Command, name string) (io.Reader, func(), error) {
	if name == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
