package core

import "strings"

// Severity is the shared severity scale for findings, rules, IOCs and anomalies
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AllSeverities lists severities from least to most severe
var AllSeverities = []Severity{
	SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical,
}

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	return s.Rank() >= 0
}

// Rank orders severities: info=0 ... critical=4. Unknown values return -1.
func (s Severity) Rank() int {
	for i, known := range AllSeverities {
		if s == known {
			return i
		}
	}
	return -1
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity maps a free-form level string onto the severity scale.
// Syslog-style aliases (error, warning, emergency) are accepted.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit", "emergency", "emerg", "alert", "fatal":
		return SeverityCritical, true
	case "high", "error", "err":
		return SeverityHigh, true
	case "medium", "warning", "warn":
		return SeverityMedium, true
	case "low", "notice":
		return SeverityLow, true
	case "info", "informational", "debug":
		return SeverityInfo, true
	}
	return "", false
}
