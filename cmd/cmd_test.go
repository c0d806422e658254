package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"logsentry/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulePack = `
rules:
  - name: Root logins
    enabled: true
    severity: high
    conditions:
      - field: entity_id
        operator: eq
        value: root
`

const eventLines = `{"service": "sshd", "level": "error", "message": "Failed password for root from 185.220.101.1", "meta": {"src_ip": "185.220.101.1", "user": "root"}}

{"service": "api", "level": "info", "message": "GET /health 200"}
not json at all
`

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// run executes the root command with args and returns stdout
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := writeTemp(t, "config.yaml", "logging:\n  level: error\n")
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", cfg, "--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandStructure(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "logsentry", cmd.Use)

	commands := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		commands[sub.Name()] = true
	}
	for _, expected := range []string{"process", "rules", "intel", "signatures"} {
		assert.True(t, commands[expected], "Missing command: %s", expected)
	}

	for _, flag := range []string{"config", "log-level", "log-format", "json", "no-color", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestProcessJSON(t *testing.T) {
	input := writeTemp(t, "events.jsonl", eventLines)

	out, err := run(t, "process", input, "--json")
	require.NoError(t, err)

	var summary processSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.Lines)
	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 2, summary.Processed)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, summary.Detections)
	assert.Equal(t, 1, summary.BySeverity[core.SeverityHigh])
	require.Len(t, summary.Results, 1)
	assert.NotEmpty(t, summary.Results[0].Findings)
}

func TestProcessTextSummary(t *testing.T) {
	input := writeTemp(t, "events.jsonl", eventLines)

	out, err := run(t, "process", input, "--quiet", "--results")
	require.NoError(t, err)
	assert.Contains(t, out, "PROCESSING SUMMARY")
	assert.Contains(t, out, "Malformed lines:")
	assert.Contains(t, out, "Events with detections:")
	assert.Contains(t, out, "brute_force")

	quiet := writeTemp(t, "quiet.jsonl", `{"service": "api", "level": "info", "message": "GET /health 200"}`+"\n")
	out, err = run(t, "process", quiet, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "No detections")
}

func TestProcessSyslog(t *testing.T) {
	input := writeTemp(t, "auth.log", "<38>Mar  2 09:15:00 bastion sshd[4121]: Failed password for root from 185.220.101.1 port 52144 ssh2\nnot syslog\n")

	out, err := run(t, "process", input, "--format", "syslog", "--json")
	require.NoError(t, err)

	var summary processSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Lines)
	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 1, summary.Processed)

	_, err = run(t, "process", input, "--format", "leef")
	assert.Error(t, err)
}

func TestProcessMissingFile(t *testing.T) {
	_, err := run(t, "process", filepath.Join(t.TempDir(), "missing.jsonl"), "--quiet")
	assert.Error(t, err)

	_, err = run(t, "process")
	assert.Error(t, err, "file argument is required")
}

func TestRulesValidate(t *testing.T) {
	valid := writeTemp(t, "rules.yaml", rulePack)
	out, err := run(t, "rules", "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	invalid := writeTemp(t, "bad.yaml", `
rules:
  - name: Bad regex
    severity: low
    conditions:
      - field: message
        operator: regex
        value: "(unclosed"
`)
	out, err = run(t, "rules", "validate", invalid, "--json")
	assert.Error(t, err)
	var report validationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	assert.Len(t, report.Problems, 1)

	schemaBroken := writeTemp(t, "schema.yaml", "rules:\n  - name: No severity\n    conditions: []\n")
	out, err = run(t, "rules", "validate", schemaBroken)
	assert.Error(t, err)
	assert.Contains(t, out, "problem")
}

func TestRulesDryRun(t *testing.T) {
	rules := writeTemp(t, "rules.yaml", rulePack)
	events := writeTemp(t, "events.jsonl", eventLines)

	out, err := run(t, "rules", "dry-run", rules, events, "--json")
	require.NoError(t, err)

	var report map[string]struct {
		EventsEvaluated int               `json:"events_evaluated"`
		ConditionHits   int               `json:"condition_hits"`
		Triggers        []json.RawMessage `json:"triggers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Contains(t, report, "Root logins")
	assert.Equal(t, 2, report["Root logins"].EventsEvaluated)
	assert.Equal(t, 1, report["Root logins"].ConditionHits)
	assert.Len(t, report["Root logins"].Triggers, 1)

	out, err = run(t, "rules", "dry-run", rules, events)
	require.NoError(t, err)
	assert.Contains(t, out, "DRY RUN")
	assert.Contains(t, out, "Root logins")
}

func TestIntelCheck(t *testing.T) {
	out, err := run(t, "intel", "check", "185.220.101.1", "--json")
	require.NoError(t, err)

	var result core.EnrichmentResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, core.IOCTypeIP, result.Indicator.Type)
	assert.Equal(t, core.CategoryMalicious, result.Reputation.Category)

	out, err = run(t, "intel", "check", "example.org")
	require.NoError(t, err)
	assert.Contains(t, out, "Verdict:")

	_, err = run(t, "intel", "check", "x", "--type", "bogus")
	assert.Error(t, err)
}

func TestIntelFeeds(t *testing.T) {
	out, err := run(t, "intel", "feeds")
	require.NoError(t, err)
	assert.Contains(t, out, "FEEDS")
	assert.Contains(t, out, "enabled")
}

func TestSignaturesList(t *testing.T) {
	out, err := run(t, "signatures", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SIGNATURES")
	assert.Contains(t, out, "sql_injection")

	out, err = run(t, "signatures", "ls", "--json")
	require.NoError(t, err)
	var signatures []core.Signature
	require.NoError(t, json.Unmarshal([]byte(out), &signatures))
	assert.NotEmpty(t, signatures)
	for _, sig := range signatures {
		assert.True(t, sig.Severity.IsValid(), sig.Type)
		assert.False(t, strings.Contains(sig.Type, " "), sig.Type)
	}
}
