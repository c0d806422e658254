package core

import (
	"time"
)

// Operator is a rule condition comparison
type Operator string

const (
	OpEquals      Operator = "eq"
	OpNotEquals   Operator = "neq"
	OpGreater     Operator = "gt"
	OpLess        Operator = "lt"
	OpGreaterOrEq Operator = "gte"
	OpLessOrEq    Operator = "lte"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// AllOperators returns all supported operators
var AllOperators = []Operator{
	OpEquals, OpNotEquals, OpGreater, OpLess, OpGreaterOrEq, OpLessOrEq,
	OpContains, OpRegex, OpIn, OpNotIn,
}

// IsValid checks if the operator is supported
func (o Operator) IsValid() bool {
	for _, valid := range AllOperators {
		if o == valid {
			return true
		}
	}
	return false
}

// ConditionLogic combines condition results
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// AggregationFunction selects how a rule window is reduced
type AggregationFunction string

const (
	AggCount         AggregationFunction = "count"
	AggCountDistinct AggregationFunction = "count_distinct"
	AggSum           AggregationFunction = "sum"
)

// IsValid checks if the aggregation function is supported
func (f AggregationFunction) IsValid() bool {
	return f == AggCount || f == AggCountDistinct || f == AggSum
}

// Condition compares one event field against an expected value
type Condition struct {
	Field    string      `json:"field" yaml:"field" validate:"required,max=256"`
	Operator Operator    `json:"operator" yaml:"operator" validate:"required"`
	Value    interface{} `json:"value" yaml:"value"`
}

// Aggregation turns a pattern rule into a threshold rule over a time window
type Aggregation struct {
	Function  AggregationFunction `json:"function" yaml:"function"`
	Field     string              `json:"field,omitempty" yaml:"field,omitempty"`
	GroupBy   []string            `json:"group_by,omitempty" yaml:"group_by,omitempty"`
	Threshold float64             `json:"threshold" yaml:"threshold" validate:"gt=0"`
	Window    string              `json:"window" yaml:"window"`
}

// AlertRule is a user-defined detection rule
type AlertRule struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name" validate:"required,max=200"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty" validate:"max=2000"`
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	Severity       Severity       `json:"severity" yaml:"severity" validate:"required"`
	Conditions     []Condition    `json:"conditions" yaml:"conditions" validate:"dive"`
	ConditionLogic ConditionLogic `json:"condition_logic" yaml:"condition_logic"`
	Aggregation    *Aggregation   `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
	TriggerCount   int64          `json:"trigger_count" yaml:"-"`
	LastTriggered  *time.Time     `json:"last_triggered,omitempty" yaml:"-"`
	CreatedAt      time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time      `json:"updated_at" yaml:"-"`
}

// IsAggregation reports whether the rule is threshold-based
func (r *AlertRule) IsAggregation() bool {
	return r.Aggregation != nil
}

// Clone returns a deep copy that callers may keep
func (r *AlertRule) Clone() AlertRule {
	out := *r
	out.Conditions = append([]Condition(nil), r.Conditions...)
	if r.Aggregation != nil {
		agg := *r.Aggregation
		agg.GroupBy = append([]string(nil), r.Aggregation.GroupBy...)
		out.Aggregation = &agg
	}
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		out.LastTriggered = &t
	}
	return out
}

// RuleMatchRecord is one entry of a per-(rule, group) sliding window
type RuleMatchRecord struct {
	RuleID    string    `json:"rule_id"`
	GroupKey  string    `json:"group_key"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id"`
	Value     Value     `json:"-"`
}

// TriggeredRule is emitted whenever a rule fires
type TriggeredRule struct {
	RuleID    string    `json:"rule_id" msgpack:"rule_id"`
	RuleName  string    `json:"rule_name" msgpack:"rule_name"`
	Severity  Severity  `json:"severity" msgpack:"severity"`
	EventID   string    `json:"event_id" msgpack:"event_id"`
	GroupKey  string    `json:"group_key,omitempty" msgpack:"group_key,omitempty"`
	Count     float64   `json:"count,omitempty" msgpack:"count,omitempty"`
	MatchedAt time.Time `json:"matched_at" msgpack:"matched_at"`
	Rule      AlertRule `json:"rule" msgpack:"-"`
}
