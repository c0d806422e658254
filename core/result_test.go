package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessResultDetections(t *testing.T) {
	var missing *ProcessResult
	assert.False(t, missing.HasDetections())

	r := &ProcessResult{EventID: "e1"}
	assert.False(t, r.HasDetections())
	assert.Equal(t, Severity(""), r.MaxSeverity())

	r.Indicators = []IndicatorReport{{Indicator: Indicator{Type: IOCTypeIP, Value: "10.0.0.1"}}}
	assert.False(t, r.HasDetections(), "indicators alone are not detections")

	r.Findings = []Finding{{Severity: SeverityMedium}}
	r.Anomalies = []BehaviorAnomaly{{Severity: SeverityLow}}
	assert.True(t, r.HasDetections())
	assert.Equal(t, SeverityMedium, r.MaxSeverity())

	r.TriggeredRules = []TriggeredRule{{Severity: SeverityCritical}}
	assert.Equal(t, SeverityCritical, r.MaxSeverity())
}

func TestProcessResult_MaxSeverity(t *testing.T) {
	r := &ProcessResult{
		Findings:  []Finding{{Severity: SeverityMedium}},
		Anomalies: []BehaviorAnomaly{{Severity: SeverityCritical}},
	}
	assert.True(t, r.HasDetections())
	assert.Equal(t, SeverityCritical, r.MaxSeverity())
	assert.False(t, (&ProcessResult{}).HasDetections())
}

func TestAlertRuleClone(t *testing.T) {
	last := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rule := &AlertRule{
		ID:         "r1",
		Name:       "Brute force",
		Severity:   SeverityHigh,
		Conditions: []Condition{{Field: "message", Operator: OpContains, Value: "Failed"}},
		Aggregation: &Aggregation{
			Function: AggCount, GroupBy: []string{"src_ip"}, Threshold: 5, Window: "5m",
		},
		LastTriggered: &last,
	}

	clone := rule.Clone()
	require.True(t, clone.IsAggregation())
	clone.Conditions[0].Field = "entity_id"
	clone.Aggregation.GroupBy[0] = "user"
	clone.Aggregation.Threshold = 10
	*clone.LastTriggered = last.Add(time.Hour)

	assert.Equal(t, "message", rule.Conditions[0].Field)
	assert.Equal(t, "src_ip", rule.Aggregation.GroupBy[0])
	assert.Equal(t, float64(5), rule.Aggregation.Threshold)
	assert.Equal(t, last, *rule.LastTriggered)
}

func TestValidationError(t *testing.T) {
	ve := NewValidationError("rule")
	assert.NoError(t, ve.OrNil())

	ve.Add("unknown operator %q", "like")
	ve.Add("threshold must be positive")
	err := ve.OrNil()
	require.Error(t, err)
	assert.Equal(t, `invalid rule: unknown operator "like"; threshold must be positive`, err.Error())

	assert.True(t, IsValidationError(fmt.Errorf("load: %w", err)))
	assert.False(t, IsValidationError(errors.New("boom")))
	assert.False(t, IsValidationError(fmt.Errorf("rule r1: %w", ErrNotFound)))
}
