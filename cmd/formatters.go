package cmd

import (
	"fmt"
	"io"
	"strings"

	"logsentry/core"
	"logsentry/detect"

	"github.com/fatih/color"
)

var severityOrder = []core.Severity{
	core.SeverityCritical, core.SeverityHigh, core.SeverityMedium, core.SeverityLow, core.SeverityInfo,
}

func severityColor(s core.Severity) *color.Color {
	switch s {
	case core.SeverityCritical, core.SeverityHigh:
		return errorColor
	case core.SeverityMedium:
		return warningColor
	default:
		return infoColor
	}
}

// renderSummary displays the outcome of a process run
func renderSummary(w io.Writer, s *processSummary) {
	headerColor.Fprintln(w, "PROCESSING SUMMARY")
	headerColor.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "%-22s %d\n", "Lines read:", s.Lines)
	if s.Malformed > 0 {
		warningColor.Fprintf(w, "%-22s %d\n", "Malformed lines:", s.Malformed)
	}
	fmt.Fprintf(w, "%-22s %d\n", "Events processed:", s.Processed)
	if s.Failed > 0 {
		errorColor.Fprintf(w, "%-22s %d\n", "Events failed:", s.Failed)
	}
	if s.Skipped > 0 {
		warningColor.Fprintf(w, "%-22s %d\n", "Events skipped:", s.Skipped)
	}
	if s.Degraded > 0 {
		warningColor.Fprintf(w, "%-22s %d\n", "Degraded results:", s.Degraded)
	}
	fmt.Fprintf(w, "%-22s %s\n", "Duration:", s.Duration)
	fmt.Fprintln(w, strings.Repeat("-", 60))

	if s.Detections == 0 {
		successColor.Fprintln(w, "✓ No detections")
		return
	}

	fmt.Fprintf(w, "%-22s %d\n", "Events with detections:", s.Detections)
	fmt.Fprintf(w, "%-22s %d\n", "Signature findings:", s.Findings)
	fmt.Fprintf(w, "%-22s %d\n", "Rules triggered:", s.Rules)
	fmt.Fprintf(w, "%-22s %d\n", "Behavior anomalies:", s.Anomalies)
	for _, sev := range severityOrder {
		if n := s.BySeverity[sev]; n > 0 {
			severityColor(sev).Fprintf(w, "  %-20s %d\n", strings.ToUpper(string(sev)), n)
		}
	}

	for _, r := range s.Results {
		fmt.Fprintln(w)
		severityColor(r.MaxSeverity()).Fprintf(w, "[%s] event %s\n", strings.ToUpper(string(r.MaxSeverity())), r.EventID)
		for _, f := range r.Findings {
			fmt.Fprintf(w, "  finding   %-16s %-8s %s\n", f.SignatureType, f.Severity, f.MatchedText)
		}
		for _, t := range r.TriggeredRules {
			fmt.Fprintf(w, "  rule      %-16s %-8s %s\n", t.RuleName, t.Severity, t.GroupKey)
		}
		for _, a := range r.Anomalies {
			fmt.Fprintf(w, "  anomaly   %-16s %-8s %s\n", a.Category, a.Severity, a.Description)
		}
	}
}

// renderSignatures displays the active signature table
func renderSignatures(w io.Writer, signatures []core.Signature) {
	if len(signatures) == 0 {
		warningColor.Fprintln(w, "No signatures configured")
		return
	}
	headerColor.Fprintln(w, "SIGNATURES")
	headerColor.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%-22s %-10s %s\n", "Type", "Severity", "Description")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, sig := range signatures {
		fmt.Fprintf(w, "%-22s ", sig.Type)
		severityColor(sig.Severity).Fprintf(w, "%-10s", sig.Severity)
		fmt.Fprintf(w, " %s\n", sig.Description)
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Total: %d signatures\n", len(signatures))
}

// renderEnrichment displays the intelligence gathered for one value
func renderEnrichment(w io.Writer, result core.EnrichmentResult) {
	rep := result.Reputation
	headerColor.Fprintf(w, "%s (%s)\n", result.Indicator.Value, result.Indicator.Type)
	headerColor.Fprintln(w, strings.Repeat("=", 60))

	verdict := successColor
	switch rep.Category {
	case core.CategoryMalicious:
		verdict = errorColor
	case core.CategoryUnknown:
		verdict = warningColor
	}
	verdict.Fprintf(w, "%-14s %s (score %d)\n", "Verdict:", rep.Category, rep.Score)
	if len(rep.Sources) > 0 {
		fmt.Fprintf(w, "%-14s %s\n", "Sources:", strings.Join(rep.Sources, ", "))
	}
	if len(rep.Tags) > 0 {
		fmt.Fprintf(w, "%-14s %s\n", "Tags:", strings.Join(rep.Tags, ", "))
	}
	if result.Geo != nil {
		fmt.Fprintf(w, "%-14s %s\n", "Location:", result.Geo.Location())
	}
	if len(result.ThreatActors) > 0 {
		fmt.Fprintf(w, "%-14s %s\n", "Actors:", strings.Join(result.ThreatActors, ", "))
	}
	if len(result.Campaigns) > 0 {
		fmt.Fprintf(w, "%-14s %s\n", "Campaigns:", strings.Join(result.Campaigns, ", "))
	}
	if len(result.MalwareFamilies) > 0 {
		fmt.Fprintf(w, "%-14s %s\n", "Malware:", strings.Join(result.MalwareFamilies, ", "))
	}
	if len(result.RelatedIOCs) > 0 {
		fmt.Fprintf(w, "%-14s\n", "Related:")
		for _, ioc := range result.RelatedIOCs {
			fmt.Fprintf(w, "  %-8s %s\n", ioc.Type, ioc.Value)
		}
	}
}

// renderDryRuns displays per-rule dry-run outcomes
func renderDryRuns(w io.Writer, rules []core.AlertRule, results []*detect.DryRunResult) {
	headerColor.Fprintln(w, "DRY RUN")
	headerColor.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%-32s %-10s %-8s %-8s\n", "Rule", "Severity", "Hits", "Fired")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for i, rule := range rules {
		res := results[i]
		name := rule.Name
		if len(name) > 31 {
			name = name[:28] + "..."
		}
		fmt.Fprintf(w, "%-32s %-10s %-8d ", name, rule.Severity, res.ConditionHits)
		if len(res.Triggers) > 0 {
			severityColor(rule.Severity).Fprintf(w, "%-8d\n", len(res.Triggers))
		} else {
			fmt.Fprintf(w, "%-8d\n", 0)
		}
		if res.WindowFallback {
			warningColor.Fprintf(w, "  window %q could not be parsed, default used\n", rule.Aggregation.Window)
		}
	}
}
