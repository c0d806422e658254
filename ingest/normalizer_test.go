package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"logsentry/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestNormalizer(t *testing.T) *Normalizer {
	return NewNormalizer(&NormalizerConfig{
		Logger: zaptest.NewLogger(t).Sugar(),
		Clock:  func() time.Time { return fixedNow },
	})
}

func TestNormalizeAgentBatch(t *testing.T) {
	n := newTestNormalizer(t)
	payload := `{
		"agent": {"hostname": "web-01", "environment": "prod", "version": "1.2.0", "tags": {"team": "platform"}},
		"logs": [
			{"timestamp": "2026-03-02T09:15:00Z", "level": "ERROR", "message": "Failed password for admin",
			 "service": "sshd", "source": "/var/log/auth.log",
			 "metadata": {"src_ip": "185.220.101.1", "username": "admin", "status_code": 401}},
			{"timestamp": "2026-03-02T09:16:00Z", "level": "info", "message": "", "service": "sshd"},
			{"timestamp": "2026-03-02T09:17:00Z", "level": "info", "message": "GET /admin",
			 "service": "nginx", "hostname": "edge-02", "tags": {"team": "edge"},
			 "metadata": {"path": "/admin", "status": "403"}}
		]
	}`

	events, err := n.Normalize([]byte(payload))
	require.NoError(t, err)
	require.Len(t, events, 2, "entry without a message is skipped")

	first := events[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, "error", first.Level)
	assert.Equal(t, "sshd", first.Service)
	assert.Equal(t, "185.220.101.1", first.SourceIP)
	assert.Equal(t, "admin", first.EntityID)
	assert.Equal(t, 401, first.Status)
	assert.Equal(t, "web-01", first.Meta["hostname"])
	assert.Equal(t, "prod", first.Meta["environment"])
	assert.Equal(t, "/var/log/auth.log", first.Meta["source"])
	assert.Equal(t, map[string]interface{}{"team": "platform"}, first.Meta["tags"])

	second := events[1]
	assert.Equal(t, "edge-02", second.Meta["hostname"], "entry hostname wins over agent")
	assert.Equal(t, "/admin", second.Resource)
	assert.Equal(t, 403, second.Status)
	assert.Equal(t, map[string]interface{}{"team": "edge"}, second.Meta["tags"])
	assert.NotEqual(t, first.ID, second.ID)
}

func TestNormalizeSimulatorPayload(t *testing.T) {
	n := newTestNormalizer(t)
	payload := `{"service": "auth-service", "level": "warn", "message": "Brute force attempt detected",
		"meta": {"attacker_ip": "45.155.205.233", "user": "root", "event_id": 4625},
		"timestamp": "2026-03-02T10:00:00.123456Z"}`

	events, err := n.Normalize([]byte(payload))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "auth-service", ev.Service)
	assert.Equal(t, "warn", ev.Level)
	assert.Equal(t, "45.155.205.233", ev.SourceIP)
	assert.Equal(t, "root", ev.EntityID)
	assert.Equal(t, float64(4625), ev.Meta["event_id"])
	assert.Equal(t, 2026, ev.Timestamp.Year())
	assert.Equal(t, 123456000, ev.Timestamp.Nanosecond())
	_, hasHost := ev.Meta["hostname"]
	assert.False(t, hasHost)
}

func TestNormalizeDefaults(t *testing.T) {
	n := newTestNormalizer(t)
	events, err := n.Normalize([]byte(`{"message": "hello"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "unknown", events[0].Service)
	assert.Equal(t, "info", events[0].Level)
	assert.Equal(t, fixedNow, events[0].Timestamp)
	assert.NoError(t, events[0].Validate())
}

func TestNormalizeErrors(t *testing.T) {
	n := newTestNormalizer(t)

	_, err := n.Normalize([]byte("   "))
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = n.Normalize([]byte(`{"message": `))
	assert.Error(t, err)

	_, err = n.Normalize([]byte(`{"service": "api"}`))
	assert.ErrorIs(t, err, core.ErrInvalidEvent)

	_, err = n.Normalize([]byte(`{"agent": {"hostname": "h"}, "logs": []}`))
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestParseTimestamp(t *testing.T) {
	n := newTestNormalizer(t)
	want := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		want time.Time
	}{
		{"rfc3339", "2026-03-02T09:15:00Z", want},
		{"offset", "2026-03-02T10:15:00+01:00", want},
		{"naive iso", "2026-03-02T09:15:00", want},
		{"space separated", "2026-03-02 09:15:00", want},
		{"unix seconds", float64(want.Unix()), want},
		{"unix millis", float64(want.UnixMilli()), want},
		{"numeric string", "1772442900", want},
		{"time value", want.In(time.FixedZone("X", 3600)), want},
		{"garbage", "yesterday", fixedNow},
		{"missing", nil, fixedNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(n.parseTimestamp(tt.in)), "got %v", n.parseTimestamp(tt.in))
		})
	}
}

func TestSanitizeFields(t *testing.T) {
	long := strings.Repeat("a", maxFieldLength+10)
	nested := map[string]interface{}{}
	cur := nested
	for i := 0; i < maxSanitizeDepth+2; i++ {
		next := map[string]interface{}{}
		cur["n"] = next
		cur = next
	}
	fields := map[string]interface{}{
		"long":   long,
		"list":   []interface{}{long, 1},
		"nested": nested,
		"html":   "<script>",
	}

	sanitizeFields(fields, 0)

	assert.Len(t, fields["long"], maxFieldLength+3)
	assert.Len(t, fields["list"].([]interface{})[0], maxFieldLength+3)
	assert.Equal(t, "<script>", fields["html"], "values are not escaped")

	depth := 0
	var node interface{} = fields["nested"]
	for {
		m, ok := node.(map[string]interface{})
		if !ok {
			break
		}
		depth++
		node = m["n"]
	}
	assert.LessOrEqual(t, depth, maxSanitizeDepth+1)
}

func TestNormalizeMsgpack(t *testing.T) {
	n := newTestNormalizer(t)
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	require.NoError(t, enc.Encode(LogEntry{
		Timestamp: "2026-03-02T09:15:00Z",
		Level:     "error",
		Message:   "Connection from 185.220.101.45",
		Service:   "firewall",
		Metadata:  map[string]interface{}{"source_ip": "185.220.101.45"},
	}))
	require.NoError(t, enc.Encode(LogEntry{Service: "firewall"}))
	require.NoError(t, enc.Encode(LogEntry{
		Timestamp: time.Date(2026, 3, 2, 9, 16, 0, 0, time.UTC).Unix(),
		Message:   "second",
	}))

	events, err := n.NormalizeMsgpack(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "185.220.101.45", events[0].SourceIP)
	assert.Equal(t, 16, events[1].Timestamp.Minute())

	_, err = n.NormalizeMsgpack(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = n.NormalizeMsgpack([]byte{0xc1})
	assert.Error(t, err)
}

func TestReadJSONLines(t *testing.T) {
	n := newTestNormalizer(t)
	input := strings.Join([]string{
		`{"service": "api", "message": "one"}`,
		``,
		`not json`,
		`{"agent": {"hostname": "h"}, "logs": [{"message": "two"}, {"message": "three"}]}`,
	}, "\n")

	var got []string
	lines, failed, err := n.ReadJSONLines(context.Background(), strings.NewReader(input), func(ev *core.Event) error {
		got = append(got, ev.Message)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, lines)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestReadJSONLinesStops(t *testing.T) {
	n := newTestNormalizer(t)
	input := "{\"message\": \"a\"}\n{\"message\": \"b\"}\n"

	stop := errors.New("stop")
	calls := 0
	_, _, err := n.ReadJSONLines(context.Background(), strings.NewReader(input), func(*core.Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = n.ReadJSONLines(ctx, strings.NewReader(input), func(*core.Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
