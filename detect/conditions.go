package detect

import (
	"strings"
	"time"

	"logsentry/core"
)

// compiledCondition is a validated condition with its operand pre-converted
type compiledCondition struct {
	field    string
	operator core.Operator
	expected core.Value
	regex    *SafeRegex
}

// compileCondition validates a condition and prepares it for evaluation.
// Problems are reported through ve so a rule lists every bad condition at once.
func compileCondition(idx int, cond core.Condition, regexTimeout time.Duration, ve *core.ValidationError) compiledCondition {
	cc := compiledCondition{
		field:    cond.Field,
		operator: core.Operator(strings.ToLower(string(cond.Operator))),
		expected: core.ValueOf(cond.Value),
	}

	if !cc.operator.IsValid() {
		ve.Add("condition %d: unsupported operator %q", idx, cond.Operator)
		return cc
	}

	switch cc.operator {
	case core.OpIn, core.OpNotIn:
		if cc.expected.Kind() != core.KindList {
			ve.Add("condition %d: operator %s requires a list value", idx, cc.operator)
		}
	case core.OpGreater, core.OpLess, core.OpGreaterOrEq, core.OpLessOrEq:
		if cc.expected.Kind() != core.KindNumber {
			ve.Add("condition %d: operator %s requires a numeric value", idx, cc.operator)
		}
	case core.OpContains:
		if cc.expected.Kind() != core.KindString {
			ve.Add("condition %d: operator contains requires a string value", idx)
		}
	case core.OpRegex:
		pattern, ok := cc.expected.AsString()
		if !ok {
			ve.Add("condition %d: operator regex requires a string pattern", idx)
			return cc
		}
		re, err := CompileSafeRegex(pattern, regexTimeout, "rule")
		if err != nil {
			ve.Add("condition %d: %v", idx, err)
			return cc
		}
		cc.regex = re
	}
	return cc
}

// evaluate applies the operator to the event field. Undefined fields fail
// every operator except neq and not_in; wrong-kind comparisons are false.
func (c compiledCondition) evaluate(event *core.Event) bool {
	actual := event.Field(c.field)

	if actual.IsUndefined() {
		return c.operator == core.OpNotEquals || c.operator == core.OpNotIn
	}

	switch c.operator {
	case core.OpEquals:
		return actual.Equal(c.expected)
	case core.OpNotEquals:
		return !actual.Equal(c.expected)
	case core.OpGreater, core.OpLess, core.OpGreaterOrEq, core.OpLessOrEq:
		return compareNumbers(c.operator, actual, c.expected)
	case core.OpContains:
		haystack, ok1 := actual.AsString()
		needle, ok2 := c.expected.AsString()
		if !ok1 || !ok2 {
			return false
		}
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	case core.OpRegex:
		s, ok := actual.AsString()
		if !ok || c.regex == nil {
			return false
		}
		matched, err := c.regex.MatchString(s)
		return err == nil && matched
	case core.OpIn:
		return c.expected.Kind() == core.KindList && c.expected.Contains(actual)
	case core.OpNotIn:
		return c.expected.Kind() == core.KindList && !c.expected.Contains(actual)
	default:
		return false
	}
}

func compareNumbers(op core.Operator, actual, expected core.Value) bool {
	a, ok1 := actual.AsNumber()
	b, ok2 := expected.AsNumber()
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case core.OpGreater:
		return a > b
	case core.OpLess:
		return a < b
	case core.OpGreaterOrEq:
		return a >= b
	case core.OpLessOrEq:
		return a <= b
	}
	return false
}

// matchConditions combines condition results with the rule's logic.
// An empty condition list never matches.
func matchConditions(conds []compiledCondition, logic core.ConditionLogic, event *core.Event) bool {
	if len(conds) == 0 {
		return false
	}
	if logic == core.LogicOr {
		for _, c := range conds {
			if c.evaluate(event) {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		if !c.evaluate(event) {
			return false
		}
	}
	return true
}

// groupKey joins the event's group-by values; "default" when there is no group-by
func groupKey(event *core.Event, groupBy []string) string {
	if len(groupBy) == 0 {
		return defaultGroupKey
	}
	parts := make([]string, len(groupBy))
	for i, field := range groupBy {
		v := event.Field(field)
		if v.IsUndefined() {
			parts[i] = "<undefined>"
			continue
		}
		parts[i] = v.String()
	}
	return strings.Join(parts, "|")
}

const defaultGroupKey = "default"
