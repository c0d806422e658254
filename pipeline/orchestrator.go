package pipeline

import (
	"context"
	"runtime"
	"time"

	"logsentry/core"
	"logsentry/metrics"
	"logsentry/threat"
	"logsentry/util/goroutine"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Stage names as they appear in ProcessResult.Degraded and metric labels
const (
	StageSignatures = "signatures"
	StageRules      = "rules"
	StageThreat     = "threat"
	StageBehavior   = "behavior"
)

// SignatureStage classifies an event against static signatures
type SignatureStage interface {
	Match(event *core.Event) []core.Finding
}

// RuleStage evaluates alert rules against an event
type RuleStage interface {
	Evaluate(event *core.Event) []core.TriggeredRule
}

// ThreatStage extracts and scores indicators carried by an event
type ThreatStage interface {
	ScanEvent(ctx context.Context, event *core.Event) threat.ScanResult
}

// BehaviorStage compares an event with its entity's baseline
type BehaviorStage interface {
	AnalyzeActivity(ctx context.Context, event *core.Event) []core.BehaviorAnomaly
}

// Config wires the engines and collaborators of an Orchestrator.
// A nil stage is skipped.
type Config struct {
	Signatures SignatureStage
	Rules      RuleStage
	Threat     ThreatStage
	Behavior   BehaviorStage

	Sinks    []ResultSink
	Notifier Notifier
	// NotifyMinSeverity gates the notifier, default high
	NotifyMinSeverity core.Severity

	// WorkerCount bounds ProcessBatch concurrency, default GOMAXPROCS
	WorkerCount int
	// RateLimit caps ProcessBatch submissions per second; zero disables it
	RateLimit float64
	RateBurst int

	Tracer trace.Tracer
	Logger *zap.SugaredLogger
}

// Orchestrator runs every engine over each event and merges their output
type Orchestrator struct {
	signatures SignatureStage
	rules      RuleStage
	threat     ThreatStage
	behavior   BehaviorStage

	sinks       []ResultSink
	notifier    Notifier
	notifyFloor core.Severity

	workers int
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.SugaredLogger
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(config *Config) *Orchestrator {
	if config == nil {
		config = &Config{}
	}
	o := &Orchestrator{
		signatures:  config.Signatures,
		rules:       config.Rules,
		threat:      config.Threat,
		behavior:    config.Behavior,
		sinks:       config.Sinks,
		notifier:    config.Notifier,
		notifyFloor: config.NotifyMinSeverity,
		workers:     config.WorkerCount,
		tracer:      config.Tracer,
		logger:      config.Logger,
	}
	if o.logger == nil {
		o.logger = zap.NewNop().Sugar()
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("logsentry/pipeline")
	}
	if !o.notifyFloor.IsValid() {
		o.notifyFloor = core.SeverityHigh
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return o
}

// ProcessEvent runs all engines over one event. A failing engine is recovered,
// logged and named in Degraded; the remaining engines still run. Results with
// detections are forwarded to the sinks and, above the notify floor, to the
// notifier. An invalid event yields nil.
func (o *Orchestrator) ProcessEvent(ctx context.Context, event *core.Event) *core.ProcessResult {
	if err := event.Validate(); err != nil {
		o.logger.Warnw("Rejecting invalid event", "error", err)
		metrics.EventsProcessed.WithLabelValues("invalid").Inc()
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.ProcessEvent",
		trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.String("event.service", event.Service),
		))
	defer span.End()

	start := time.Now()
	result := &core.ProcessResult{
		EventID:        event.ID,
		Findings:       []core.Finding{},
		TriggeredRules: []core.TriggeredRule{},
		Anomalies:      []core.BehaviorAnomaly{},
	}

	if o.signatures != nil {
		o.runStage(result, StageSignatures, event, func() error {
			result.Findings = append(result.Findings, o.signatures.Match(event)...)
			return nil
		})
	}
	if o.rules != nil {
		o.runStage(result, StageRules, event, func() error {
			result.TriggeredRules = append(result.TriggeredRules, o.rules.Evaluate(event)...)
			return nil
		})
	}
	if o.threat != nil {
		o.runStage(result, StageThreat, event, func() error {
			scan := o.threat.ScanEvent(ctx, event)
			result.Indicators = scan.Reports
			result.Findings = append(result.Findings, scan.Findings...)
			return nil
		})
	}
	if o.behavior != nil {
		o.runStage(result, StageBehavior, event, func() error {
			result.Anomalies = append(result.Anomalies, o.behavior.AnalyzeActivity(ctx, event)...)
			return nil
		})
	}

	elapsed := time.Since(start)
	result.ProcessingTimeMs = float64(elapsed.Microseconds()) / 1000
	metrics.EventProcessingDuration.Observe(elapsed.Seconds())
	o.recordMetrics(result)

	span.SetAttributes(
		attribute.Int("result.findings", len(result.Findings)),
		attribute.Int("result.triggered_rules", len(result.TriggeredRules)),
		attribute.Int("result.anomalies", len(result.Anomalies)),
	)
	if len(result.Degraded) > 0 {
		span.SetStatus(codes.Error, "degraded")
		span.SetAttributes(attribute.StringSlice("result.degraded", result.Degraded))
	}

	if result.HasDetections() {
		o.logger.Debugw("Event produced detections",
			"event_id", event.ID,
			"findings", len(result.Findings),
			"triggered_rules", len(result.TriggeredRules),
			"anomalies", len(result.Anomalies),
			"max_severity", result.MaxSeverity())
		o.forward(ctx, result)
	}
	return result
}

func (o *Orchestrator) runStage(result *core.ProcessResult, name string, event *core.Event, fn func() error) {
	if err := goroutine.SafeCall(name, o.logger, fn); err != nil {
		o.logger.Errorw("Engine failed while processing event",
			"engine", name,
			"event_id", event.ID,
			"error", err)
		metrics.EngineFailures.WithLabelValues(name).Inc()
		result.Degraded = append(result.Degraded, name)
	}
}

func (o *Orchestrator) recordMetrics(result *core.ProcessResult) {
	outcome := "ok"
	if len(result.Degraded) > 0 {
		outcome = "degraded"
	}
	metrics.EventsProcessed.WithLabelValues(outcome).Inc()
	for _, f := range result.Findings {
		metrics.FindingsGenerated.WithLabelValues(f.SignatureType, string(f.Severity)).Inc()
	}
}

// forward hands a result to every sink and, when severe enough, the notifier.
// Collaborator errors are logged and counted, never returned.
func (o *Orchestrator) forward(ctx context.Context, result *core.ProcessResult) {
	for _, sink := range o.sinks {
		if err := sink.Store(ctx, result); err != nil {
			o.logger.Warnw("Result sink rejected result", "sink", sink.Name(), "event_id", result.EventID, "error", err)
			metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
		}
	}
	if o.notifier == nil || !result.MaxSeverity().AtLeast(o.notifyFloor) {
		return
	}
	if err := o.notifier.Notify(ctx, result); err != nil {
		o.logger.Warnw("Notifier rejected result", "notifier", o.notifier.Name(), "event_id", result.EventID, "error", err)
		metrics.SinkFailures.WithLabelValues(o.notifier.Name()).Inc()
	}
}
