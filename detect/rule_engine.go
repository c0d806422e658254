package detect

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"logsentry/core"
	"logsentry/metrics"
	"logsentry/util/goroutine"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRecordsPerGroup bounds one (rule, group) window
	DefaultMaxRecordsPerGroup = 10000
)

// RuleEngineConfig holds configuration for the rule engine
type RuleEngineConfig struct {
	MaxRecordsPerGroup int
	RegexTimeout       time.Duration
	Logger             *zap.SugaredLogger
}

// ruleEntry is the live state of one stored rule. The compiled definition is
// immutable; an update replaces the whole entry but keeps its triggers.
type ruleEntry struct {
	mu       sync.Mutex // guards rule.Enabled, UpdatedAt
	rule     core.AlertRule
	conds    []compiledCondition
	window   time.Duration
	triggers *triggerStats

	groupsMu sync.Mutex
	groups   map[string]*matchWindow
}

func (e *ruleEntry) windowFor(key string) *matchWindow {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	w, ok := e.groups[key]
	if !ok {
		w = &matchWindow{}
		e.groups[key] = w
	}
	return w
}

func (e *ruleEntry) snapshot() core.AlertRule {
	e.mu.Lock()
	out := e.rule.Clone()
	e.mu.Unlock()
	out.TriggerCount, out.LastTriggered = e.triggers.read()
	return out
}

// triggerStats counts a rule's triggers. It is shared by every entry the
// rule has had, so triggers recorded on a replaced entry are not lost.
type triggerStats struct {
	mu    sync.Mutex
	count int64
	last  time.Time
}

func (t *triggerStats) record(at time.Time) {
	t.mu.Lock()
	t.count++
	t.last = at
	t.mu.Unlock()
}

func (t *triggerStats) read() (int64, *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.IsZero() {
		return t.count, nil
	}
	last := t.last
	return t.count, &last
}

func (e *ruleEntry) enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rule.Enabled
}

// RuleEngine evaluates user-defined alert rules, holding the sliding
// windows of aggregation rules per (rule, group key).
type RuleEngine struct {
	mu    sync.RWMutex
	rules map[string]*ruleEntry
	order []string

	maxRecords   int
	regexTimeout time.Duration
	validate     *validator.Validate
	logger       *zap.SugaredLogger
	now          func() time.Time
}

// DryRunResult reports what a rule would have done over sample events
type DryRunResult struct {
	EventsEvaluated int                  `json:"events_evaluated"`
	ConditionHits   int                  `json:"condition_hits"`
	Triggers        []core.TriggeredRule `json:"triggers"`
	WindowFallback  bool                 `json:"window_fallback"`
}

// RuleEngineStats summarizes engine state
type RuleEngineStats struct {
	Rules        int `json:"rules"`
	EnabledRules int `json:"enabled_rules"`
	Groups       int `json:"groups"`
	Records      int `json:"records"`
}

// NewRuleEngine creates an empty rule engine
func NewRuleEngine(config *RuleEngineConfig) *RuleEngine {
	if config == nil {
		config = &RuleEngineConfig{}
	}
	if config.MaxRecordsPerGroup <= 0 {
		config.MaxRecordsPerGroup = DefaultMaxRecordsPerGroup
	}
	if config.RegexTimeout <= 0 {
		config.RegexTimeout = DefaultRegexTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	return &RuleEngine{
		rules:        make(map[string]*ruleEntry),
		maxRecords:   config.MaxRecordsPerGroup,
		regexTimeout: config.RegexTimeout,
		validate:     validator.New(),
		logger:       config.Logger,
		now:          time.Now,
	}
}

// Evaluate runs every enabled rule against the event, in creation order.
// A rule that panics is logged and skipped; the others still run.
func (e *RuleEngine) Evaluate(event *core.Event) []core.TriggeredRule {
	if event == nil {
		return nil
	}

	var triggered []core.TriggeredRule
	for _, entry := range e.entries() {
		var fired *core.TriggeredRule
		err := goroutine.SafeCall("rule:"+entry.rule.ID, e.logger, func() error {
			fired = e.evaluateRule(entry, event, e.maxRecords)
			return nil
		})
		if err != nil {
			e.logger.Warnw("Rule evaluation failed", "rule_id", entry.rule.ID, "event_id", event.ID, "error", err)
			continue
		}
		if fired != nil {
			metrics.RulesTriggered.WithLabelValues(string(fired.Severity)).Inc()
			triggered = append(triggered, *fired)
		}
	}
	return triggered
}

func (e *RuleEngine) entries() []*ruleEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*ruleEntry, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id])
	}
	return out
}

// evaluateRule applies one rule to one event and records the trigger on the entry
func (e *RuleEngine) evaluateRule(entry *ruleEntry, event *core.Event, maxRecords int) *core.TriggeredRule {
	if !entry.enabled() {
		return nil
	}
	rule := &entry.rule
	if !matchConditions(entry.conds, rule.ConditionLogic, event) {
		return nil
	}

	key := ""
	count := 1.0
	if rule.IsAggregation() {
		agg := rule.Aggregation
		key = groupKey(event, agg.GroupBy)
		rec := core.RuleMatchRecord{
			RuleID:    rule.ID,
			GroupKey:  key,
			Timestamp: event.Timestamp,
			EventID:   event.ID,
		}
		if agg.Field != "" {
			rec.Value = event.Field(agg.Field)
		}

		w := entry.windowFor(key)
		w.mu.Lock()
		count = w.add(rec, entry.window, maxRecords, agg)
		fired := count >= agg.Threshold
		if fired {
			w.reset()
		}
		w.mu.Unlock()

		if !fired {
			return nil
		}
	}

	matchedAt := e.now().UTC()
	entry.triggers.record(matchedAt)
	snapshot := entry.snapshot()

	e.logger.Debugw("Rule triggered", "rule_id", snapshot.ID, "rule", snapshot.Name, "group", key, "count", count)

	return &core.TriggeredRule{
		RuleID:    snapshot.ID,
		RuleName:  snapshot.Name,
		Severity:  snapshot.Severity,
		EventID:   event.ID,
		GroupKey:  key,
		Count:     count,
		MatchedAt: matchedAt,
		Rule:      snapshot,
	}
}

// compileRule validates and compiles a rule definition
func (e *RuleEngine) compileRule(rule core.AlertRule) (*ruleEntry, bool, error) {
	normalizeRule(&rule)

	ve := core.NewValidationError("rule")
	if err := e.validate.Struct(rule); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				ve.Add("%s failed %s validation", fe.Namespace(), fe.Tag())
			}
		} else {
			ve.Add("%v", err)
		}
	}
	if !rule.Severity.IsValid() {
		ve.Add("severity %q is not one of info, low, medium, high, critical", rule.Severity)
	}
	if rule.ConditionLogic != core.LogicAnd && rule.ConditionLogic != core.LogicOr {
		ve.Add("condition_logic %q must be AND or OR", rule.ConditionLogic)
	}

	conds := make([]compiledCondition, 0, len(rule.Conditions))
	for i, c := range rule.Conditions {
		conds = append(conds, compileCondition(i, c, e.regexTimeout, ve))
	}

	window := time.Duration(0)
	fallback := false
	if agg := rule.Aggregation; agg != nil {
		if !agg.Function.IsValid() {
			ve.Add("aggregation function %q is not supported", agg.Function)
		}
		if (agg.Function == core.AggCountDistinct || agg.Function == core.AggSum) && agg.Field == "" {
			ve.Add("aggregation function %s requires a field", agg.Function)
		}
		window, fallback = ParseTimeWindow(agg.Window)
	}

	if err := ve.OrNil(); err != nil {
		return nil, false, err
	}

	triggers := &triggerStats{count: rule.TriggerCount}
	if rule.LastTriggered != nil {
		triggers.last = *rule.LastTriggered
	}
	return &ruleEntry{
		rule:     rule,
		conds:    conds,
		window:   window,
		triggers: triggers,
		groups:   make(map[string]*matchWindow),
	}, fallback, nil
}

func normalizeRule(rule *core.AlertRule) {
	rule.Severity = core.Severity(strings.ToLower(string(rule.Severity)))
	rule.ConditionLogic = core.ConditionLogic(strings.ToUpper(string(rule.ConditionLogic)))
	if rule.ConditionLogic == "" {
		rule.ConditionLogic = core.LogicAnd
	}
	if rule.Aggregation != nil && rule.Aggregation.Function == "" {
		rule.Aggregation.Function = core.AggCount
	}
}

// CreateRule validates a rule, assigns it an ID and stores it
func (e *RuleEngine) CreateRule(rule core.AlertRule) (core.AlertRule, error) {
	rule = rule.Clone()
	now := e.now().UTC()
	rule.ID = uuid.New().String()
	rule.TriggerCount = 0
	rule.LastTriggered = nil
	rule.CreatedAt = now
	rule.UpdatedAt = now

	entry, fallback, err := e.compileRule(rule)
	if err != nil {
		return core.AlertRule{}, err
	}
	if fallback {
		e.logger.Warnw("Rule window could not be parsed, using default",
			"rule", rule.Name, "window", rule.Aggregation.Window, "default", DefaultTimeWindow)
	}

	e.mu.Lock()
	e.rules[entry.rule.ID] = entry
	e.order = append(e.order, entry.rule.ID)
	e.mu.Unlock()

	e.logger.Infow("Rule created", "rule_id", entry.rule.ID, "name", entry.rule.Name)
	return entry.snapshot(), nil
}

// UpdateRule replaces a rule's definition. Trigger statistics survive the
// update, including triggers recorded concurrently on the replaced entry;
// the rule's match windows start empty.
func (e *RuleEngine) UpdateRule(id string, rule core.AlertRule) (core.AlertRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old, ok := e.rules[id]
	if !ok {
		return core.AlertRule{}, fmt.Errorf("rule %s: %w", id, core.ErrNotFound)
	}
	prev := old.snapshot()

	rule = rule.Clone()
	rule.ID = id
	rule.CreatedAt = prev.CreatedAt
	rule.UpdatedAt = e.now().UTC()

	entry, fallback, err := e.compileRule(rule)
	if err != nil {
		return core.AlertRule{}, err
	}
	entry.triggers = old.triggers
	if fallback {
		e.logger.Warnw("Rule window could not be parsed, using default",
			"rule", rule.Name, "window", rule.Aggregation.Window, "default", DefaultTimeWindow)
	}
	e.rules[id] = entry

	e.logger.Infow("Rule updated", "rule_id", id, "name", entry.rule.Name)
	return entry.snapshot(), nil
}

// DeleteRule removes a rule and its match windows
func (e *RuleEngine) DeleteRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, core.ErrNotFound)
	}
	delete(e.rules, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}

	e.logger.Infow("Rule deleted", "rule_id", id)
	return nil
}

// ToggleRule enables or disables a rule
func (e *RuleEngine) ToggleRule(id string, enabled bool) (core.AlertRule, error) {
	e.mu.RLock()
	entry, ok := e.rules[id]
	e.mu.RUnlock()
	if !ok {
		return core.AlertRule{}, fmt.Errorf("rule %s: %w", id, core.ErrNotFound)
	}

	entry.mu.Lock()
	entry.rule.Enabled = enabled
	entry.rule.UpdatedAt = e.now().UTC()
	entry.mu.Unlock()

	e.logger.Infow("Rule toggled", "rule_id", id, "enabled", enabled)
	return entry.snapshot(), nil
}

// GetRule returns a copy of a stored rule
func (e *RuleEngine) GetRule(id string) (core.AlertRule, error) {
	e.mu.RLock()
	entry, ok := e.rules[id]
	e.mu.RUnlock()
	if !ok {
		return core.AlertRule{}, fmt.Errorf("rule %s: %w", id, core.ErrNotFound)
	}
	return entry.snapshot(), nil
}

// ListRules returns copies of all rules in creation order
func (e *RuleEngine) ListRules() []core.AlertRule {
	entries := e.entries()
	out := make([]core.AlertRule, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.snapshot())
	}
	return out
}

// DryRun evaluates a candidate rule over sample events in scratch state.
// Nothing stored in the engine is read or changed.
func (e *RuleEngine) DryRun(rule core.AlertRule, events []*core.Event) (*DryRunResult, error) {
	rule = rule.Clone()
	if rule.ID == "" {
		rule.ID = "dry-run"
	}
	rule.Enabled = true

	entry, fallback, err := e.compileRule(rule)
	if err != nil {
		return nil, err
	}

	result := &DryRunResult{WindowFallback: fallback}
	for _, event := range events {
		if event == nil {
			continue
		}
		result.EventsEvaluated++
		if matchConditions(entry.conds, entry.rule.ConditionLogic, event) {
			result.ConditionHits++
		}
		if fired := e.evaluateRule(entry, event, e.maxRecords); fired != nil {
			result.Triggers = append(result.Triggers, *fired)
		}
	}
	return result, nil
}

// DryRunRule dry-runs the current definition of a stored rule
func (e *RuleEngine) DryRunRule(id string, events []*core.Event) (*DryRunResult, error) {
	rule, err := e.GetRule(id)
	if err != nil {
		return nil, err
	}
	return e.DryRun(rule, events)
}

// Stats returns counts of rules, live groups and buffered records
func (e *RuleEngine) Stats() RuleEngineStats {
	var stats RuleEngineStats
	for _, entry := range e.entries() {
		stats.Rules++
		if entry.enabled() {
			stats.EnabledRules++
		}
		entry.groupsMu.Lock()
		for _, w := range entry.groups {
			stats.Groups++
			w.mu.Lock()
			stats.Records += w.len()
			w.mu.Unlock()
		}
		entry.groupsMu.Unlock()
	}
	return stats
}
