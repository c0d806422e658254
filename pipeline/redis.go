package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"logsentry/core"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	DefaultResultStream  = "logsentry:results"
	DefaultAlertChannel  = "logsentry:alerts"
	DefaultStreamMaxLen  = 100000
	defaultRedisPoolSize = 10
	// maxPayloadSize rejects results that would bloat the stream
	maxPayloadSize = 10 * 1024 * 1024
)

// RedisOptions describes the Redis connection used by the sinks
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient creates a client and verifies the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultRedisPoolSize
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisSink appends msgpack-encoded results to a Redis stream
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.SugaredLogger
}

// NewRedisSink creates a sink writing to stream, trimmed to maxLen entries
func NewRedisSink(client *redis.Client, stream string, maxLen int64, logger *zap.SugaredLogger) *RedisSink {
	if stream == "" {
		stream = DefaultResultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

// Name implements ResultSink
func (s *RedisSink) Name() string { return "redis" }

// Store implements ResultSink
func (s *RedisSink) Store(ctx context.Context, result *core.ProcessResult) error {
	data, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result %s: %w", result.EventID, err)
	}
	if len(data) > maxPayloadSize {
		return fmt.Errorf("result %s is %d bytes, limit is %d", result.EventID, len(data), maxPayloadSize)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: map[string]interface{}{
			"event_id": result.EventID,
			"severity": string(result.MaxSeverity()),
			"payload":  data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append result %s to %s: %w", result.EventID, s.stream, err)
	}
	return nil
}

// ReadResults decodes up to count results from the stream, oldest first
func (s *RedisSink) ReadResults(ctx context.Context, count int64) ([]*core.ProcessResult, error) {
	entries, err := s.client.XRangeN(ctx, s.stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.stream, err)
	}
	results := make([]*core.ProcessResult, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["payload"].(string)
		if !ok {
			s.logger.Warnw("Stream entry without payload", "stream", s.stream, "id", entry.ID)
			continue
		}
		var result core.ProcessResult
		if err := msgpack.Unmarshal([]byte(raw), &result); err != nil {
			s.logger.Warnw("Undecodable stream entry", "stream", s.stream, "id", entry.ID, "error", err)
			continue
		}
		results = append(results, &result)
	}
	return results, nil
}

// AlertSummary is the message RedisNotifier publishes
type AlertSummary struct {
	EventID        string        `json:"event_id"`
	Severity       core.Severity `json:"severity"`
	Findings       []string      `json:"findings,omitempty"`
	TriggeredRules []string      `json:"triggered_rules,omitempty"`
	Anomalies      []string      `json:"anomalies,omitempty"`
	PublishedAt    time.Time     `json:"published_at"`
}

// Summarize condenses a result into an AlertSummary
func Summarize(result *core.ProcessResult, now time.Time) AlertSummary {
	summary := AlertSummary{
		EventID:     result.EventID,
		Severity:    result.MaxSeverity(),
		PublishedAt: now.UTC(),
	}
	for _, f := range result.Findings {
		summary.Findings = append(summary.Findings, fmt.Sprintf("%s (%s)", f.SignatureType, f.Severity))
	}
	for _, t := range result.TriggeredRules {
		summary.TriggeredRules = append(summary.TriggeredRules, fmt.Sprintf("%s (%s)", t.RuleName, t.Severity))
	}
	for _, a := range result.Anomalies {
		summary.Anomalies = append(summary.Anomalies, fmt.Sprintf("%s %s/%s (%s)", a.Category, a.EntityType, a.EntityID, a.Severity))
	}
	return summary
}

// RedisNotifier publishes alert summaries on a pub/sub channel
type RedisNotifier struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

// NewRedisNotifier creates a notifier publishing on channel
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultAlertChannel
	}
	return &RedisNotifier{client: client, channel: channel, now: time.Now}
}

// Name implements Notifier
func (n *RedisNotifier) Name() string { return "redis_pubsub" }

// Notify implements Notifier
func (n *RedisNotifier) Notify(ctx context.Context, result *core.ProcessResult) error {
	data, err := json.Marshal(Summarize(result, n.now()))
	if err != nil {
		return fmt.Errorf("failed to encode alert summary: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", n.channel, err)
	}
	return nil
}
