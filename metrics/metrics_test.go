package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, EventsProcessed)
	assert.NotNil(t, FindingsGenerated)
	assert.NotNil(t, RulesTriggered)
	assert.NotNil(t, AnomaliesDetected)
	assert.NotNil(t, EngineFailures)
	assert.NotNil(t, EventProcessingDuration)
	assert.NotNil(t, ReputationLookups)
	assert.NotNil(t, GeoLookupFailures)
	assert.NotNil(t, RegexTimeouts)
	assert.NotNil(t, RuleWindowEvictions)
	assert.NotNil(t, ProfilesTracked)
	assert.NotNil(t, SinkFailures)
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(EngineFailures.WithLabelValues("metrics_test"))
	EngineFailures.WithLabelValues("metrics_test").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(EngineFailures.WithLabelValues("metrics_test")))
}
