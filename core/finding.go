package core

import "time"

// Signature is a static, named regex classifier
type Signature struct {
	Type        string   `json:"type" yaml:"type"`
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description" yaml:"description"`
}

// Finding is emitted when a signature or a malicious indicator matches an event
type Finding struct {
	ID            string    `json:"id" msgpack:"id"`
	SignatureType string    `json:"signature_type" msgpack:"signature_type"`
	Severity      Severity  `json:"severity" msgpack:"severity"`
	EventID       string    `json:"event_id" msgpack:"event_id"`
	MatchedText   string    `json:"matched_text" msgpack:"matched_text"`
	Description   string    `json:"description,omitempty" msgpack:"description,omitempty"`
	Timestamp     time.Time `json:"timestamp" msgpack:"timestamp"`
}

// SignatureTypeThreatIntel marks findings raised from a known-malicious indicator
const SignatureTypeThreatIntel = "threat_intel"
