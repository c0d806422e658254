package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"logsentry/core"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	maxFieldLength   = 50000
	maxSanitizeDepth = 20
	// MaxLineSize bounds a single input line
	MaxLineSize = 1024 * 1024
)

// ErrEmptyPayload is returned for payloads that carry no log entries
var ErrEmptyPayload = errors.New("empty payload")

// Well-known metadata keys lifted into top-level event fields, in priority order
var (
	sourceIPKeys = []string{"src_ip", "source_ip", "sourceIp", "attacker_ip", "client_ip", "remote_addr"}
	entityKeys   = []string{"user", "username", "entity_id", "entityId", "user_name", "account"}
	resourceKeys = []string{"resource", "path", "url_path", "file", "object"}
	statusKeys   = []string{"status", "status_code", "http_status"}
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
}

// AgentInfo identifies the collector that shipped a batch
type AgentInfo struct {
	Hostname    string            `json:"hostname" msgpack:"hostname"`
	Environment string            `json:"environment,omitempty" msgpack:"environment,omitempty"`
	Version     string            `json:"version,omitempty" msgpack:"version,omitempty"`
	Tags        map[string]string `json:"tags,omitempty" msgpack:"tags,omitempty"`
}

// LogEntry is one log line as shipped by a collector agent
type LogEntry struct {
	Timestamp   interface{}            `json:"timestamp" msgpack:"timestamp"`
	Level       string                 `json:"level" msgpack:"level"`
	Message     string                 `json:"message" msgpack:"message"`
	Service     string                 `json:"service" msgpack:"service"`
	Source      string                 `json:"source,omitempty" msgpack:"source,omitempty"`
	Hostname    string                 `json:"hostname,omitempty" msgpack:"hostname,omitempty"`
	Environment string                 `json:"environment,omitempty" msgpack:"environment,omitempty"`
	Tags        map[string]string      `json:"tags,omitempty" msgpack:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	// Meta is the simulator spelling of Metadata
	Meta map[string]interface{} `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

// AgentBatch is the payload a collector agent posts
type AgentBatch struct {
	Agent AgentInfo  `json:"agent" msgpack:"agent"`
	Logs  []LogEntry `json:"logs" msgpack:"logs"`
}

// NormalizerConfig configures a Normalizer
type NormalizerConfig struct {
	// DefaultService is used when an entry names no service
	DefaultService string
	Logger         *zap.SugaredLogger
	Clock          func() time.Time
}

// Normalizer turns collector payloads into core events. It is stateless and
// safe for concurrent use.
type Normalizer struct {
	defaultService string
	logger         *zap.SugaredLogger
	now            func() time.Time
}

// NewNormalizer creates a Normalizer
func NewNormalizer(config *NormalizerConfig) *Normalizer {
	if config == nil {
		config = &NormalizerConfig{}
	}
	n := &Normalizer{
		defaultService: config.DefaultService,
		logger:         config.Logger,
		now:            config.Clock,
	}
	if n.defaultService == "" {
		n.defaultService = "unknown"
	}
	if n.logger == nil {
		n.logger = zap.NewNop().Sugar()
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n
}

// Normalize accepts either an agent batch ({"agent":..., "logs":[...]}) or a
// single entry ({"service","level","message","meta","timestamp"})
func (n *Normalizer) Normalize(data []byte) ([]*core.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, isBatch := probe["logs"]; isBatch {
		var batch AgentBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("invalid agent batch: %w", err)
		}
		return n.NormalizeBatch(&batch)
	}

	var entry LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("invalid log entry: %w", err)
	}
	event, err := n.NormalizeEntry(nil, &entry)
	if err != nil {
		return nil, err
	}
	return []*core.Event{event}, nil
}

// NormalizeBatch converts every entry of an agent batch. Entries without a
// message are skipped and logged.
func (n *Normalizer) NormalizeBatch(batch *AgentBatch) ([]*core.Event, error) {
	if batch == nil || len(batch.Logs) == 0 {
		return nil, ErrEmptyPayload
	}
	events := make([]*core.Event, 0, len(batch.Logs))
	for i := range batch.Logs {
		event, err := n.NormalizeEntry(&batch.Agent, &batch.Logs[i])
		if err != nil {
			n.logger.Warnw("Skipping log entry", "index", i, "agent", batch.Agent.Hostname, "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// NormalizeEntry converts one entry. agent may be nil.
func (n *Normalizer) NormalizeEntry(agent *AgentInfo, entry *LogEntry) (*core.Event, error) {
	if entry == nil || strings.TrimSpace(entry.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", core.ErrInvalidEvent)
	}

	meta := make(map[string]interface{}, len(entry.Metadata)+len(entry.Meta)+4)
	for k, v := range entry.Meta {
		meta[k] = v
	}
	for k, v := range entry.Metadata {
		meta[k] = v
	}
	sanitizeFields(meta, 0)

	hostname := entry.Hostname
	environment := entry.Environment
	tags := map[string]interface{}{}
	if agent != nil {
		if hostname == "" {
			hostname = agent.Hostname
		}
		if environment == "" {
			environment = agent.Environment
		}
		for k, v := range agent.Tags {
			tags[k] = v
		}
	}
	for k, v := range entry.Tags {
		tags[k] = v
	}
	setIfMissing(meta, "hostname", hostname)
	setIfMissing(meta, "environment", environment)
	setIfMissing(meta, "source", entry.Source)
	if len(tags) > 0 {
		if _, exists := meta["tags"]; !exists {
			meta["tags"] = tags
		}
	}

	service := entry.Service
	if service == "" {
		service = n.defaultService
	}
	level := strings.ToLower(strings.TrimSpace(entry.Level))
	if level == "" {
		level = "info"
	}

	event := &core.Event{
		ID:        uuid.New().String(),
		Timestamp: n.parseTimestamp(entry.Timestamp),
		Level:     level,
		Service:   service,
		Message:   truncate(entry.Message),
		Meta:      meta,
	}
	liftFields(event)
	return event, nil
}

// liftFields copies well-known metadata keys into the typed event fields
func liftFields(event *core.Event) {
	event.SourceIP = event.MetaString(sourceIPKeys...)
	event.EntityID = event.MetaString(entityKeys...)
	event.Resource = event.MetaString(resourceKeys...)
	if status, ok := event.MetaNumber(statusKeys...); ok {
		event.Status = int(status)
		return
	}
	if s := event.MetaString(statusKeys...); s != "" {
		if status, err := strconv.Atoi(s); err == nil {
			event.Status = status
		}
	}
}

// parseTimestamp accepts RFC3339 and ISO-8601 strings, unix seconds or
// milliseconds, and time values. Anything else yields the current time.
func (n *Normalizer) parseTimestamp(v interface{}) time.Time {
	switch ts := v.(type) {
	case time.Time:
		if !ts.IsZero() {
			return ts.UTC()
		}
	case string:
		ts = strings.TrimSpace(ts)
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, ts); err == nil {
				return parsed.UTC()
			}
		}
		if f, err := strconv.ParseFloat(ts, 64); err == nil {
			return unixTime(f)
		}
	default:
		if f, ok := core.ValueOf(ts).AsNumber(); ok {
			return unixTime(f)
		}
	}
	return n.now().UTC()
}

// unixTime treats values above 1e12 as milliseconds
func unixTime(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}

// NormalizeMsgpack decodes a stream of msgpack-encoded log entries
func (n *Normalizer) NormalizeMsgpack(data []byte) ([]*core.Event, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	var events []*core.Event
	for i := 0; ; i++ {
		var entry LogEntry
		if err := dec.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return events, fmt.Errorf("failed to decode msgpack entry %d: %w", i, err)
		}
		event, err := n.NormalizeEntry(nil, &entry)
		if err != nil {
			n.logger.Warnw("Skipping msgpack entry", "index", i, "error", err)
			continue
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return nil, ErrEmptyPayload
	}
	return events, nil
}

// ReadJSONLines normalizes one JSON payload per line; see ReadLines
func (n *Normalizer) ReadJSONLines(ctx context.Context, r io.Reader, fn func(*core.Event) error) (lines, failed int, err error) {
	return n.ReadLines(ctx, r, FormatJSON, fn)
}

// ReadLines normalizes one record per line in the given format and hands
// every event to fn. Blank lines are ignored; malformed lines are logged and
// counted. It stops at the first error from fn or when ctx is done.
func (n *Normalizer) ReadLines(ctx context.Context, r io.Reader, format Format, fn func(*core.Event) error) (lines, failed int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return lines, failed, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++
		events, nerr := n.NormalizeLine(format, line)
		if nerr != nil {
			failed++
			n.logger.Warnw("Skipping malformed line", "line", lines, "format", format, "error", nerr)
			continue
		}
		for _, event := range events {
			if err := fn(event); err != nil {
				return lines, failed, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return lines, failed, fmt.Errorf("failed to read input: %w", err)
	}
	return lines, failed, nil
}

// sanitizeFields truncates oversized strings and drops nesting deeper than
// maxSanitizeDepth
func sanitizeFields(fields map[string]interface{}, depth int) {
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			fields[k] = truncate(val)
		case map[string]interface{}:
			if depth >= maxSanitizeDepth {
				delete(fields, k)
				continue
			}
			sanitizeFields(val, depth+1)
		case []interface{}:
			for i, elem := range val {
				switch e := elem.(type) {
				case string:
					val[i] = truncate(e)
				case map[string]interface{}:
					if depth >= maxSanitizeDepth {
						val[i] = nil
						continue
					}
					sanitizeFields(e, depth+1)
				}
			}
		}
	}
}

func truncate(s string) string {
	if len(s) > maxFieldLength {
		return s[:maxFieldLength] + "..."
	}
	return s
}

func setIfMissing(meta map[string]interface{}, key, value string) {
	if value == "" {
		return
	}
	if _, exists := meta[key]; !exists {
		meta[key] = value
	}
}
