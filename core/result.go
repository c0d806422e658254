package core

// ProcessResult is the merged outcome of running every engine over one event
type ProcessResult struct {
	EventID          string            `json:"event_id" msgpack:"event_id"`
	Findings         []Finding         `json:"findings" msgpack:"findings"`
	TriggeredRules   []TriggeredRule   `json:"triggered_rules" msgpack:"triggered_rules"`
	Anomalies        []BehaviorAnomaly `json:"anomalies" msgpack:"anomalies"`
	Indicators       []IndicatorReport `json:"indicators,omitempty" msgpack:"indicators,omitempty"`
	Degraded         []string          `json:"degraded,omitempty" msgpack:"degraded,omitempty"`
	ProcessingTimeMs float64           `json:"processing_time_ms" msgpack:"processing_time_ms"`
}

// HasDetections reports whether any engine produced output worth forwarding
func (r *ProcessResult) HasDetections() bool {
	return r != nil && (len(r.Findings) > 0 || len(r.TriggeredRules) > 0 || len(r.Anomalies) > 0)
}

// MaxSeverity returns the most severe level across all detections
func (r *ProcessResult) MaxSeverity() Severity {
	best := Severity("")
	consider := func(s Severity) {
		if s.Rank() > best.Rank() {
			best = s
		}
	}
	for _, f := range r.Findings {
		consider(f.Severity)
	}
	for _, t := range r.TriggeredRules {
		consider(t.Severity)
	}
	for _, a := range r.Anomalies {
		consider(a.Severity)
	}
	return best
}
