package core

import (
	"net"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// IOC Types and Constants
// =============================================================================

// IOCType represents the type of indicator of compromise
type IOCType string

const (
	IOCTypeIP        IOCType = "ip"
	IOCTypeDomain    IOCType = "domain"
	IOCTypeURL       IOCType = "url"
	IOCTypeEmail     IOCType = "email"
	IOCTypeMD5       IOCType = "md5"
	IOCTypeSHA1      IOCType = "sha1"
	IOCTypeSHA256    IOCType = "sha256"
	IOCTypeFilePath  IOCType = "filepath"
	IOCTypeUserAgent IOCType = "user_agent"
)

// AllIOCTypes returns all valid IOC types for validation
var AllIOCTypes = []IOCType{
	IOCTypeIP, IOCTypeDomain, IOCTypeURL, IOCTypeEmail,
	IOCTypeMD5, IOCTypeSHA1, IOCTypeSHA256, IOCTypeFilePath, IOCTypeUserAgent,
}

// IsValid checks if the IOC type is valid
func (t IOCType) IsValid() bool {
	for _, valid := range AllIOCTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// IsHash reports whether the type is one of the file hash types
func (t IOCType) IsHash() bool {
	return t == IOCTypeMD5 || t == IOCTypeSHA1 || t == IOCTypeSHA256
}

// ReputationCategory classifies a reputation verdict
type ReputationCategory string

const (
	CategoryMalicious ReputationCategory = "malicious"
	CategoryBenign    ReputationCategory = "benign"
	CategoryUnknown   ReputationCategory = "unknown"
)

// UnknownReputationScore is the neutral score given to indicators nobody knows about
const UnknownReputationScore = 50

// =============================================================================
// Type detection
// =============================================================================

var (
	ipv4Pattern   = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)
	hexPattern    = regexp.MustCompile(`^[a-fA-F0-9]+$`)
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

// DetectIOCType classifies a bare indicator value. The checks run in order:
// IPv4, URL scheme, hex hash by length (64/40/32), email, and finally domain.
func DetectIOCType(value string) IOCType {
	value = strings.TrimSpace(value)

	if ipv4Pattern.MatchString(value) && net.ParseIP(value) != nil {
		return IOCTypeIP
	}
	if schemePattern.MatchString(value) {
		return IOCTypeURL
	}
	if hexPattern.MatchString(value) {
		switch len(value) {
		case 64:
			return IOCTypeSHA256
		case 40:
			return IOCTypeSHA1
		case 32:
			return IOCTypeMD5
		}
	}
	if strings.Contains(value, "@") && strings.Contains(value, ".") {
		return IOCTypeEmail
	}
	return IOCTypeDomain
}

// NormalizeIOCValue gives values a canonical form for use as a natural key
func NormalizeIOCValue(iocType IOCType, value string) string {
	normalized := strings.TrimSpace(value)
	switch iocType {
	case IOCTypeDomain, IOCTypeEmail:
		return strings.TrimSuffix(strings.ToLower(normalized), ".")
	case IOCTypeMD5, IOCTypeSHA1, IOCTypeSHA256:
		return strings.ToLower(normalized)
	default:
		return normalized
	}
}

// =============================================================================
// IOC structs
// =============================================================================

// Indicator is an extracted (type, value) pair
type Indicator struct {
	Type  IOCType `json:"type" msgpack:"type"`
	Value string  `json:"value" msgpack:"value"`
}

// IOC is a known indicator of compromise. Value is the natural key.
type IOC struct {
	ID         string    `json:"id" yaml:"id"`
	Type       IOCType   `json:"type" yaml:"type"`
	Value      string    `json:"value" yaml:"value"`
	Severity   Severity  `json:"severity" yaml:"severity"`
	Source     string    `json:"source" yaml:"source"`
	FirstSeen  time.Time `json:"first_seen" yaml:"-"`
	LastSeen   time.Time `json:"last_seen" yaml:"-"`
	HitCount   int64     `json:"hit_count" yaml:"-"`
	Tags       []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Active     bool      `json:"active" yaml:"active"`
}

// ReputationScore is a cached reputation verdict for one value
type ReputationScore struct {
	Value    string             `json:"value"`
	Score    int                `json:"score"`
	Category ReputationCategory `json:"category"`
	Sources  []string           `json:"sources,omitempty"`
	Tags     []string           `json:"tags,omitempty"`
	Context  []string           `json:"context,omitempty"`
	Checked  time.Time          `json:"checked"`
}

// IsMalicious reports whether the verdict is malicious
func (r ReputationScore) IsMalicious() bool {
	return r.Category == CategoryMalicious
}

// GeoInfo is the geographic context of an IP address
type GeoInfo struct {
	Country   string  `json:"country"`
	City      string  `json:"city,omitempty"`
	ASN       string  `json:"asn,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location renders the geo info as a "City, Country" label
func (g *GeoInfo) Location() string {
	if g == nil {
		return ""
	}
	if g.City == "" {
		return g.Country
	}
	return g.City + ", " + g.Country
}

// EnrichmentResult is the full context gathered for an indicator
type EnrichmentResult struct {
	Indicator       Indicator       `json:"indicator"`
	Reputation      ReputationScore `json:"reputation"`
	RelatedIOCs     []IOC           `json:"related_iocs,omitempty"`
	Geo             *GeoInfo        `json:"geo,omitempty"`
	ThreatActors    []string        `json:"threat_actors,omitempty"`
	Campaigns       []string        `json:"campaigns,omitempty"`
	MalwareFamilies []string        `json:"malware_families,omitempty"`
}

// MaliciousVerdict answers the yes/no question for a single value
type MaliciousVerdict struct {
	Malicious bool   `json:"malicious"`
	Score     int    `json:"score"`
	Details   string `json:"details"`
}

// IndicatorReport pairs an extracted indicator with its reputation
type IndicatorReport struct {
	Indicator Indicator          `json:"indicator" msgpack:"indicator"`
	Score     int                `json:"score" msgpack:"score"`
	Category  ReputationCategory `json:"category" msgpack:"category"`
}
