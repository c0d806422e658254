package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"logsentry/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, " syslog ": FormatSyslog, "cef": FormatCEF} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("leef")
	assert.Error(t, err)
}

func TestParseSyslog_RFC3164(t *testing.T) {
	n := newTestNormalizer(t)

	event, err := n.ParseSyslog("<38>Mar  2 09:15:00 bastion sshd[4121]: Failed password for root from 185.220.101.1 port 52144 ssh2")
	require.NoError(t, err)

	assert.Equal(t, "sshd", event.Service)
	assert.Equal(t, "info", event.Level, "severity 6")
	assert.Equal(t, "Failed password for root from 185.220.101.1 port 52144 ssh2", event.Message)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC), event.Timestamp)
	assert.Equal(t, "bastion", event.Meta["hostname"])
	assert.Equal(t, "4121", event.Meta["pid"])
	assert.Equal(t, 4, event.Meta["facility"])
	assert.Equal(t, 38, event.Meta["priority"])
	assert.Equal(t, "syslog", event.Meta["source"])
}

func TestParseSyslog_YearRollover(t *testing.T) {
	n := newTestNormalizer(t)

	// December lines read in March belong to the previous year
	event, err := n.ParseSyslog("<11>Dec 31 23:59:59 db01 postgres: could not write block")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC), event.Timestamp)
	assert.Equal(t, "error", event.Level)
	assert.Equal(t, "postgres", event.Service)
	_, hasPID := event.Meta["pid"]
	assert.False(t, hasPID)
}

func TestParseSyslog_RFC5424(t *testing.T) {
	n := newTestNormalizer(t)

	event, err := n.ParseSyslog(`<86>1 2026-03-02T10:00:00.123Z web-01 nginx 812 ACCESS [meta sequenceId="7"] GET /index.php?id=1' OR '1'='1`)
	require.NoError(t, err)
	assert.Equal(t, "nginx", event.Service)
	assert.Equal(t, "info", event.Level)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 123e6, time.UTC), event.Timestamp)
	assert.Equal(t, "web-01", event.Meta["hostname"])
	assert.Equal(t, "ACCESS", event.Meta["msgid"])
	assert.Equal(t, `[meta sequenceId="7"]`, event.Meta["structured_data"])
	assert.Equal(t, 10, event.Meta["facility"])
	assert.True(t, strings.HasPrefix(event.Message, "GET /index.php"))

	event, err = n.ParseSyslog("<14>1 - - - - - - \ufeffplain message")
	require.NoError(t, err)
	assert.Equal(t, "unknown", event.Service)
	assert.Equal(t, fixedNow, event.Timestamp)
	assert.Equal(t, "plain message", event.Message)
	_, hasHost := event.Meta["hostname"]
	assert.False(t, hasHost)
}

func TestParseSyslog_Invalid(t *testing.T) {
	n := newTestNormalizer(t)
	for _, line := range []string{
		"just some text",
		"<999>Mar  2 09:15:00 host app: msg",
		"<13>Mar  2 09:15:00 host",
		"",
	} {
		_, err := n.ParseSyslog(line)
		assert.True(t, errors.Is(err, core.ErrInvalidEvent), "%q: %v", line, err)
	}
}

func TestParseCEF(t *testing.T) {
	n := newTestNormalizer(t)

	line := `<134>Mar  2 09:20:00 fw01 CEF:0|Acme|Firewall\|Pro|5.1|4625|Logon failure|7|src=185.220.101.1 suser=admin request=/login msg=Failed login for admin rt=1772443200000 dvchost=fw01.corp cs1=a\=b`
	event, err := n.ParseCEF(line)
	require.NoError(t, err)

	assert.Equal(t, "Firewall|Pro", event.Service)
	assert.Equal(t, "error", event.Level)
	assert.Equal(t, "Logon failure: Failed login for admin", event.Message)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 20, 0, 0, time.UTC), event.Timestamp)
	assert.Equal(t, "185.220.101.1", event.SourceIP)
	assert.Equal(t, "admin", event.EntityID)
	assert.Equal(t, "/login", event.Resource)
	assert.Equal(t, "fw01.corp", event.Meta["hostname"])
	assert.Equal(t, "Acme", event.Meta["device_vendor"])
	assert.Equal(t, "4625", event.Meta["signature_id"])
	assert.Equal(t, "a=b", event.Meta["cs1"])
	assert.Equal(t, "cef", event.Meta["source"])
}

func TestParseCEF_Edges(t *testing.T) {
	n := newTestNormalizer(t)

	event, err := n.ParseCEF("CEF:0|Vendor|IDS|1.0|100|Port scan detected|High|")
	require.NoError(t, err)
	assert.Equal(t, "Port scan detected", event.Message)
	assert.Equal(t, "error", event.Level)
	assert.Equal(t, fixedNow, event.Timestamp)

	event, err = n.ParseCEF("CEF:0|Vendor|IDS|1.0|100||2|msg=heartbeat")
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", event.Message)
	assert.Equal(t, "info", event.Level)

	_, err = n.ParseCEF("CEF:0|Vendor|IDS|1.0")
	assert.True(t, errors.Is(err, core.ErrInvalidEvent))
	_, err = n.ParseCEF("LEEF:1.0|Vendor|IDS")
	assert.True(t, errors.Is(err, core.ErrInvalidEvent))
}

func TestCEFLevel(t *testing.T) {
	tests := map[string]string{
		"0": "info", "3": "info", "4": "warning", "6": "warning",
		"7": "error", "8": "error", "9": "critical", "10": "critical",
		"Low": "info", "Medium": "warning", "High": "error", "Very-High": "critical", "Unknown": "info",
	}
	for in, want := range tests {
		assert.Equal(t, want, cefLevel(in), in)
	}
}

func TestReadLines_Syslog(t *testing.T) {
	n := newTestNormalizer(t)
	input := strings.Join([]string{
		"<38>Mar  2 09:15:00 bastion sshd[1]: Accepted publickey for deploy",
		"garbage",
		"",
		"<37>Mar  2 09:16:00 bastion sudo: deploy : TTY=pts/0 ; COMMAND=/bin/bash",
	}, "\n")

	var events []*core.Event
	lines, failed, err := n.ReadLines(context.Background(), strings.NewReader(input), FormatSyslog, func(e *core.Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, lines)
	assert.Equal(t, 1, failed)
	require.Len(t, events, 2)
	assert.Equal(t, "sudo", events[1].Service)
	assert.Equal(t, "info", events[1].Level)
}
