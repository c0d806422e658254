package core

import (
	"math"
	"time"
)

// EntityType identifies what a behavioral profile describes
type EntityType string

const (
	EntityTypeUser EntityType = "user"
	EntityTypeIP   EntityType = "ip"
	EntityTypeHost EntityType = "host"
)

// RiskLevel buckets a risk score
type RiskLevel string

const (
	RiskLevelMinimal  RiskLevel = "minimal"
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskLevelFor maps a 0-100 score onto its level
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 40:
		return RiskLevelMedium
	case score >= 20:
		return RiskLevelLow
	default:
		return RiskLevelMinimal
	}
}

// AnomalyCategory names the behavioral check that raised an anomaly
type AnomalyCategory string

const (
	AnomalyTemporal       AnomalyCategory = "temporal"
	AnomalyGeolocation    AnomalyCategory = "geolocation"
	AnomalyVolume         AnomalyCategory = "volume"
	AnomalyResourceAccess AnomalyCategory = "resource_access"
	AnomalyAuthentication AnomalyCategory = "authentication"
)

// BehaviorPattern is an exponentially-weighted summary of one metric.
// A non-zero Period makes the metric circular, so that for hours of the day
// 23 and 1 are two apart.
type BehaviorPattern struct {
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	StdDev      float64   `json:"std_dev"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Samples     int64     `json:"samples"`
	Period      float64   `json:"period,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Update folds a sample into the pattern with smoothing factor alpha.
// A sample equal to the current mean leaves both mean and spread unchanged.
func (p *BehaviorPattern) Update(sample, alpha float64, at time.Time) {
	if p.Samples == 0 {
		p.Value = p.wrap(sample)
		p.StdDev = 0
		p.Min = sample
		p.Max = sample
		p.Samples = 1
		p.LastUpdated = at
		return
	}

	diff := p.diff(sample)
	p.Value = p.wrap(p.Value + alpha*diff)
	if diff != 0 {
		variance := (1-alpha)*p.StdDev*p.StdDev + alpha*diff*diff
		p.StdDev = math.Sqrt(math.Max(variance, 0))
	}
	p.Min = math.Min(p.Min, sample)
	p.Max = math.Max(p.Max, sample)
	p.Samples++
	p.LastUpdated = at
}

// Deviation returns |sample-mean| in standard deviations, with the spread
// floored at minSigma so a perfectly steady baseline does not divide by zero.
func (p *BehaviorPattern) Deviation(sample, minSigma float64) float64 {
	sigma := math.Max(p.StdDev, minSigma)
	if sigma == 0 {
		return 0
	}
	return math.Abs(p.diff(sample)) / sigma
}

// diff is sample minus the mean, taken the short way round a circular metric
func (p *BehaviorPattern) diff(sample float64) float64 {
	d := sample - p.Value
	if p.Period <= 0 {
		return d
	}
	d = math.Mod(d, p.Period)
	if d > p.Period/2 {
		d -= p.Period
	} else if d <= -p.Period/2 {
		d += p.Period
	}
	return d
}

// wrap maps v into [0, Period) for circular metrics
func (p *BehaviorPattern) wrap(v float64) float64 {
	if p.Period <= 0 {
		return v
	}
	v = math.Mod(v, p.Period)
	if v < 0 {
		v += p.Period
	}
	return v
}

// Baseline holds the learned behavior of one entity
type Baseline struct {
	LoginTimes        BehaviorPattern `json:"login_times"`
	SessionDuration   BehaviorPattern `json:"session_duration"`
	ActivityVolume    BehaviorPattern `json:"activity_volume"`
	DataAccess        BehaviorPattern `json:"data_access"`
	NetworkTraffic    BehaviorPattern `json:"network_traffic"`
	GeoLocations      []string        `json:"geo_locations"`
	UserAgents        []string        `json:"user_agents"`
	AccessedResources []string        `json:"accessed_resources"`
	PeerGroup         string          `json:"peer_group,omitempty"`
}

// EntityProfile is the behavioral profile of one (type, id) entity
type EntityProfile struct {
	EntityID     string     `json:"entity_id"`
	EntityType   EntityType `json:"entity_type"`
	Baseline     Baseline   `json:"baseline"`
	RiskScore    float64    `json:"risk_score"`
	RiskLevel    RiskLevel  `json:"risk_level"`
	RiskFactors  []string   `json:"risk_factors"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	LastActivity string     `json:"last_activity"`
	AlertCount   int64      `json:"alert_count"`
	EventCount   int64      `json:"event_count"`
}

// Clone returns a copy that shares no slices with the original
func (p *EntityProfile) Clone() EntityProfile {
	out := *p
	out.Baseline.GeoLocations = append([]string(nil), p.Baseline.GeoLocations...)
	out.Baseline.UserAgents = append([]string(nil), p.Baseline.UserAgents...)
	out.Baseline.AccessedResources = append([]string(nil), p.Baseline.AccessedResources...)
	out.RiskFactors = append([]string(nil), p.RiskFactors...)
	return out
}

// BehaviorAnomaly is a deviation from an entity's baseline
type BehaviorAnomaly struct {
	ID            string          `json:"id" msgpack:"id"`
	EntityID      string          `json:"entity_id" msgpack:"entity_id"`
	EntityType    EntityType      `json:"entity_type" msgpack:"entity_type"`
	Category      AnomalyCategory `json:"category" msgpack:"category"`
	Severity      Severity        `json:"severity" msgpack:"severity"`
	Metric        string          `json:"metric" msgpack:"metric"`
	ExpectedValue interface{}     `json:"expected_value,omitempty" msgpack:"expected_value,omitempty"`
	ActualValue   interface{}     `json:"actual_value,omitempty" msgpack:"actual_value,omitempty"`
	Deviation     float64         `json:"deviation" msgpack:"deviation"`
	Confidence    float64         `json:"confidence" msgpack:"confidence"`
	Description   string          `json:"description" msgpack:"description"`
	RelatedEvents []string        `json:"related_events,omitempty" msgpack:"related_events,omitempty"`
	Timestamp     time.Time       `json:"timestamp" msgpack:"timestamp"`
}

// WorkingHours is an inclusive hour-of-day range
type WorkingHours struct {
	Start int `json:"start" yaml:"start" validate:"min=0,max=23"`
	End   int `json:"end" yaml:"end" validate:"min=0,max=23"`
}

// Contains reports whether hour falls inside the range, wrapping past midnight
func (w WorkingHours) Contains(hour int) bool {
	if w.Start <= w.End {
		return hour >= w.Start && hour <= w.End
	}
	return hour >= w.Start || hour <= w.End
}

// PeerBaseline describes what is normal for members of a peer group. The
// averages are computed from member profiles whenever a group is read;
// values supplied on create or update are ignored.
type PeerBaseline struct {
	AvgRiskScore       float64      `json:"avg_risk_score" yaml:"avg_risk_score"`
	AvgActivityVolume  float64      `json:"avg_activity_volume" yaml:"avg_activity_volume"`
	AvgSessionDuration float64      `json:"avg_session_duration" yaml:"avg_session_duration"`
	CommonResources    []string     `json:"common_resources" yaml:"common_resources"`
	CommonLocations    []string     `json:"common_locations" yaml:"common_locations"`
	WorkingHours       WorkingHours `json:"working_hours" yaml:"working_hours"`
}

// PeerGroup is an administrator-defined cohort of entities
type PeerGroup struct {
	ID       string       `json:"id" yaml:"id"`
	Name     string       `json:"name" yaml:"name" validate:"required,max=200"`
	Members  []string     `json:"members" yaml:"members"`
	Baseline PeerBaseline `json:"baseline" yaml:"baseline"`
}

// Clone returns a copy that shares no slices with the original
func (g *PeerGroup) Clone() PeerGroup {
	out := *g
	out.Members = append([]string(nil), g.Members...)
	out.Baseline.CommonResources = append([]string(nil), g.Baseline.CommonResources...)
	out.Baseline.CommonLocations = append([]string(nil), g.Baseline.CommonLocations...)
	return out
}
