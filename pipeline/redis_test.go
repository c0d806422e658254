package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"logsentry/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleResult(id string) *core.ProcessResult {
	return &core.ProcessResult{
		EventID: id,
		Findings: []core.Finding{{
			ID:            "f-1",
			SignatureType: "sql_injection",
			Severity:      core.SeverityHigh,
			EventID:       id,
			MatchedText:   "' OR 1=1",
			Timestamp:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		}},
		TriggeredRules: []core.TriggeredRule{{RuleID: "r-1", RuleName: "Web attacks", Severity: core.SeverityMedium, EventID: id}},
		Anomalies: []core.BehaviorAnomaly{{
			ID:          "a-1",
			EntityID:    "alice",
			EntityType:  core.EntityTypeUser,
			Category:    core.AnomalyGeolocation,
			Severity:    core.SeverityCritical,
			ActualValue: "Tokyo, Japan",
		}},
		ProcessingTimeMs: 1.5,
	}
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestRedisSinkStoreAndRead(t *testing.T) {
	mr, client := newTestRedis(t)
	sink := NewRedisSink(client, "", 0, zaptest.NewLogger(t).Sugar())

	require.NoError(t, sink.Store(context.Background(), sampleResult("evt-1")))
	require.NoError(t, sink.Store(context.Background(), sampleResult("evt-2")))

	entries, err := mr.Stream(DefaultResultStream)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Values, "event_id")
	assert.Contains(t, entries[0].Values, "critical")

	results, err := sink.ReadResults(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "evt-1", results[0].EventID)
	assert.Equal(t, "evt-2", results[1].EventID)
	require.Len(t, results[0].Findings, 1)
	assert.Equal(t, "' OR 1=1", results[0].Findings[0].MatchedText)
	assert.True(t, results[0].Findings[0].Timestamp.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Web attacks", results[0].TriggeredRules[0].RuleName)
	assert.Equal(t, "Tokyo, Japan", results[0].Anomalies[0].ActualValue)
	assert.Equal(t, 1.5, results[0].ProcessingTimeMs)
}

func TestRedisSinkTrimsStream(t *testing.T) {
	mr, client := newTestRedis(t)
	sink := NewRedisSink(client, "results", 3, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Store(context.Background(), sampleResult("evt")))
	}
	entries, err := mr.Stream("results")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRedisSinkUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	sink := NewRedisSink(client, "", 0, nil)
	mr.Close()
	assert.Error(t, sink.Store(context.Background(), sampleResult("evt-1")))
}

func TestRedisNotifierPublishes(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultAlertChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	notifier := NewRedisNotifier(client, "")
	notifier.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	require.NoError(t, notifier.Notify(ctx, sampleResult("evt-9")))

	select {
	case msg := <-sub.Channel():
		var summary AlertSummary
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &summary))
		assert.Equal(t, "evt-9", summary.EventID)
		assert.Equal(t, core.SeverityCritical, summary.Severity)
		assert.Equal(t, []string{"sql_injection (high)"}, summary.Findings)
		assert.Equal(t, []string{"Web attacks (medium)"}, summary.TriggeredRules)
		assert.Equal(t, []string{"geolocation user/alice (critical)"}, summary.Anomalies)
		assert.Equal(t, 2026, summary.PublishedAt.Year())
	case <-time.After(2 * time.Second):
		t.Fatal("no alert published")
	}
}

func TestOrchestratorWithRedisCollaborators(t *testing.T) {
	mr, client := newTestRedis(t)
	sigs, _, _, _ := newEngines(t)
	o := NewOrchestrator(&Config{
		Signatures: sigs,
		Sinks:      []ResultSink{NewRedisSink(client, "", 0, nil)},
		Notifier:   NewRedisNotifier(client, ""),
	})

	o.ProcessEvent(context.Background(), core.NewEvent("web", "error", "id=1 UNION SELECT password FROM users"))
	o.ProcessEvent(context.Background(), core.NewEvent("web", "info", "GET /index.html 200"))

	entries, err := mr.Stream(DefaultResultStream)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only results with detections are stored")
}
