package pipeline

import (
	"context"
	"sync"

	"logsentry/core"
)

// ResultSink persists results that carry detections
type ResultSink interface {
	Name() string
	Store(ctx context.Context, result *core.ProcessResult) error
}

// Notifier announces results at or above the orchestrator's notify floor
type Notifier interface {
	Name() string
	Notify(ctx context.Context, result *core.ProcessResult) error
}

// DefaultMemorySinkCapacity bounds a MemorySink created with a non-positive capacity
const DefaultMemorySinkCapacity = 1000

// MemorySink keeps the most recent results in memory
type MemorySink struct {
	mu       sync.RWMutex
	capacity int
	results  []*core.ProcessResult
}

// NewMemorySink creates a MemorySink holding at most capacity results
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultMemorySinkCapacity
	}
	return &MemorySink{capacity: capacity}
}

// Name implements ResultSink
func (s *MemorySink) Name() string { return "memory" }

// Store implements ResultSink and Notifier
func (s *MemorySink) Store(_ context.Context, result *core.ProcessResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) >= s.capacity {
		copy(s.results, s.results[1:])
		s.results = s.results[:len(s.results)-1]
	}
	s.results = append(s.results, result)
	return nil
}

// Notify records the result like Store
func (s *MemorySink) Notify(ctx context.Context, result *core.ProcessResult) error {
	return s.Store(ctx, result)
}

// Results returns the stored results, oldest first
func (s *MemorySink) Results() []*core.ProcessResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*core.ProcessResult(nil), s.results...)
}

// Len returns the number of stored results
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
