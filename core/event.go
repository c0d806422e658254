package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a normalized log event. Engines treat it as immutable.
type Event struct {
	ID        string                 `json:"id" msgpack:"id"`
	Timestamp time.Time              `json:"timestamp" msgpack:"timestamp"`
	Level     string                 `json:"level" msgpack:"level"`
	Service   string                 `json:"service" msgpack:"service"`
	Message   string                 `json:"message" msgpack:"message"`
	SourceIP  string                 `json:"source_ip,omitempty" msgpack:"source_ip,omitempty"`
	EntityID  string                 `json:"entity_id,omitempty" msgpack:"entity_id,omitempty"`
	Resource  string                 `json:"resource,omitempty" msgpack:"resource,omitempty"`
	Status    int                    `json:"status,omitempty" msgpack:"status,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

// NewEvent creates an event with a generated ID and the current time
func NewEvent(service, level, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Service:   service,
		Message:   message,
		Meta:      make(map[string]interface{}),
	}
}

// Validate checks the minimum an engine needs to process the event
func (e *Event) Validate() error {
	if e == nil {
		return NewValidationError("event", "event is nil")
	}
	ve := NewValidationError("event")
	if e.ID == "" {
		ve.Add("id is required")
	}
	if e.Timestamp.IsZero() {
		ve.Add("timestamp is required")
	}
	return ve.OrNil()
}

// Field resolves a condition field path against the event.
// Top-level names map onto the typed fields; "meta.a.b" walks nested metadata,
// and any other name falls back to a metadata lookup. Missing fields are undefined.
func (e *Event) Field(path string) Value {
	if e == nil || path == "" {
		return UndefinedValue()
	}
	switch path {
	case "id":
		return StringValue(e.ID)
	case "timestamp":
		if e.Timestamp.IsZero() {
			return UndefinedValue()
		}
		return NumberValue(float64(e.Timestamp.UnixMilli()))
	case "level":
		return StringValue(e.Level)
	case "service":
		return StringValue(e.Service)
	case "message":
		return StringValue(e.Message)
	case "sourceIp", "source_ip":
		return optionalString(e.SourceIP)
	case "entityId", "entity_id":
		return optionalString(e.EntityID)
	case "resource":
		return optionalString(e.Resource)
	case "status":
		if e.Status == 0 {
			return UndefinedValue()
		}
		return NumberValue(float64(e.Status))
	}

	path = strings.TrimPrefix(path, "meta.")
	raw, ok := LookupPath(e.Meta, path)
	if !ok {
		return UndefinedValue()
	}
	return ValueOf(raw)
}

// MetaString returns the first non-empty string stored under one of keys
func (e *Event) MetaString(keys ...string) string {
	if e == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := LookupPath(e.Meta, k); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// MetaNumber returns the first numeric value stored under one of keys
func (e *Event) MetaNumber(keys ...string) (float64, bool) {
	if e == nil {
		return 0, false
	}
	for _, k := range keys {
		if v, ok := LookupPath(e.Meta, k); ok {
			if n, ok := ValueOf(v).AsNumber(); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func optionalString(s string) Value {
	if s == "" {
		return UndefinedValue()
	}
	return StringValue(s)
}

// LookupPath walks a dotted path through nested maps
func LookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil || path == "" {
		return nil, false
	}
	if v, ok := m[path]; ok {
		return v, true
	}

	var current interface{} = m
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	return current, true
}
