package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_events_processed_total",
			Help: "Total number of events run through the detection pipeline",
		},
		[]string{"outcome"},
	)

	FindingsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_findings_total",
			Help: "Total number of signature and threat-intel findings",
		},
		[]string{"signature_type", "severity"},
	)

	RulesTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_rules_triggered_total",
			Help: "Total number of alert rule triggers",
		},
		[]string{"severity"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_anomalies_total",
			Help: "Total number of behavioral anomalies",
		},
		[]string{"category", "severity"},
	)

	EngineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_engine_failures_total",
			Help: "Total number of recovered engine failures while processing an event",
		},
		[]string{"engine"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logsentry_event_processing_duration_seconds",
			Help:    "Time taken to run all engines over one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ReputationLookups counts reputation cache hits and misses.
	// Labels:
	//   - result: "hit" or "miss"
	ReputationLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsentry",
			Subsystem: "threat",
			Name:      "reputation_lookups_total",
			Help:      "Total number of reputation lookups",
		},
		[]string{"result"},
	)

	GeoLookupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "logsentry",
			Subsystem: "threat",
			Name:      "geo_lookup_failures_total",
			Help:      "Total number of geo lookups that timed out, failed or were short-circuited",
		},
	)

	// RegexTimeouts counts regex evaluations aborted by the match timeout.
	// Labels:
	//   - component: "signature" or "rule"
	RegexTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logsentry",
			Subsystem: "detect",
			Name:      "regex_timeouts_total",
			Help:      "Total number of regex evaluations that hit the match timeout",
		},
		[]string{"component"},
	)

	RuleWindowEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "logsentry",
			Subsystem: "detect",
			Name:      "rule_window_evictions_total",
			Help:      "Match records dropped because a rule window reached its size bound",
		},
	)

	ProfilesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logsentry",
			Subsystem: "ueba",
			Name:      "profiles_tracked",
			Help:      "Number of entity profiles held in memory",
		},
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsentry_sink_failures_total",
			Help: "Total number of results that a sink or notifier failed to accept",
		},
		[]string{"sink"},
	)
)
