package ueba

import (
	"context"
	"math"
	"sync"
	"time"

	"logsentry/core"
	"logsentry/metrics"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Defaults for Config
const (
	DefaultRingCapacity           = 1000
	DefaultAnomalyLogCapacity     = 10000
	DefaultAlpha                  = 0.1
	DefaultSigmaThreshold         = 2.5
	DefaultMinSamples             = 10
	DefaultImpossibleTravelWindow = 4 * time.Hour
	DefaultLocationLearnThreshold = 5
	DefaultAuthWindow             = 15 * time.Minute
	DefaultAuthAlertThreshold     = 3
	DefaultAuthEscalateThreshold  = 5
	DefaultVolumeWindow           = time.Hour

	riskDecay          = 0.95
	maxRiskFactors     = 20
	maxKnownResources  = 500
	maxKnownUserAgents = 50
)

// severityWeights is the risk added per anomaly severity
var severityWeights = map[core.Severity]float64{
	core.SeverityCritical: 30,
	core.SeverityHigh:     20,
	core.SeverityMedium:   10,
	core.SeverityLow:      5,
	core.SeverityInfo:     2,
}

// LocationResolver supplies a location for an IP when the event carries none
type LocationResolver interface {
	Locate(ctx context.Context, ip string) (string, bool)
}

// Config configures the behavior engine. Zero values take the defaults above.
type Config struct {
	RingCapacity           int
	AnomalyLogCapacity     int
	Alpha                  float64
	SigmaThreshold         float64
	MinSamples             int64
	ImpossibleTravelWindow time.Duration
	LocationLearnThreshold int
	AuthWindow             time.Duration
	AuthAlertThreshold     int
	AuthEscalateThreshold  int
	VolumeWindow           time.Duration
	// IdleDecayInterval multiplies an idle entity's risk by 0.95 once per
	// interval without activity. Zero disables idle decay.
	IdleDecayInterval time.Duration
	Locator           LocationResolver
	Logger            *zap.SugaredLogger
}

func (c *Config) applyDefaults() {
	if c.RingCapacity <= 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	if c.AnomalyLogCapacity <= 0 {
		c.AnomalyLogCapacity = DefaultAnomalyLogCapacity
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	if c.SigmaThreshold <= 0 {
		c.SigmaThreshold = DefaultSigmaThreshold
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if c.ImpossibleTravelWindow <= 0 {
		c.ImpossibleTravelWindow = DefaultImpossibleTravelWindow
	}
	if c.LocationLearnThreshold <= 0 {
		c.LocationLearnThreshold = DefaultLocationLearnThreshold
	}
	if c.AuthWindow <= 0 {
		c.AuthWindow = DefaultAuthWindow
	}
	if c.AuthAlertThreshold <= 0 {
		c.AuthAlertThreshold = DefaultAuthAlertThreshold
	}
	if c.AuthEscalateThreshold < c.AuthAlertThreshold {
		c.AuthEscalateThreshold = DefaultAuthEscalateThreshold
	}
	if c.VolumeWindow <= 0 {
		c.VolumeWindow = DefaultVolumeWindow
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
}

type profileKey struct {
	entityType core.EntityType
	entityID   string
}

// profileState is the mutable state behind one EntityProfile
type profileState struct {
	mu      sync.Mutex
	profile core.EntityProfile
	recent  *ring[activity]

	// observation counts per location, learned into the baseline at the threshold
	locationSeen   map[string]int
	lastLocation   string
	lastLocationAt time.Time

	knownResources map[string]struct{}

	lastAuthAlert   core.Severity
	lastAuthAlertAt time.Time

	// decayedAt is the reference point for idle decay
	decayedAt time.Time
}

// Engine maintains per-entity baselines and scores activity against them.
// Profiles are guarded individually; the map lock is held only for lookup
// and creation.
type Engine struct {
	cfg       Config
	logger    *zap.SugaredLogger
	validate  *validator.Validate
	anomalies *anomalyLog

	mu       sync.RWMutex
	profiles map[profileKey]*profileState

	groupsMu   sync.RWMutex
	groups     map[string]*core.PeerGroup
	membership map[profileKey]string
}

// NewEngine creates a behavior engine
func NewEngine(config *Config) *Engine {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg.applyDefaults()

	return &Engine{
		cfg:        cfg,
		logger:     cfg.Logger,
		validate:   validator.New(),
		anomalies:  newAnomalyLog(cfg.AnomalyLogCapacity),
		profiles:   make(map[profileKey]*profileState),
		groups:     make(map[string]*core.PeerGroup),
		membership: make(map[profileKey]string),
	}
}

// AnalyzeActivity folds one event into its entity's profile and returns the
// anomalies it produced. Events with neither EntityID nor SourceIP are not
// analyzed.
func (e *Engine) AnalyzeActivity(ctx context.Context, event *core.Event) []core.BehaviorAnomaly {
	if event == nil {
		return nil
	}
	entityType, entityID, ok := resolveEntity(event)
	if !ok {
		return nil
	}
	key := profileKey{entityType: entityType, entityID: entityID}

	location := eventLocation(event)
	if location == "" && e.cfg.Locator != nil && event.SourceIP != "" {
		location, _ = e.cfg.Locator.Locate(ctx, event.SourceIP)
	}
	obs := observe(event, location)
	peer := e.peerContext(key)

	state := e.getOrCreateProfile(key, event.Timestamp)

	state.mu.Lock()
	anomalies := e.analyzeLocked(state, obs, peer)
	state.mu.Unlock()

	for i := range anomalies {
		metrics.AnomaliesDetected.WithLabelValues(string(anomalies[i].Category), string(anomalies[i].Severity)).Inc()
		e.logger.Infow("Behavior anomaly detected",
			"entity_type", entityType,
			"entity_id", entityID,
			"category", anomalies[i].Category,
			"severity", anomalies[i].Severity,
			"deviation", anomalies[i].Deviation)
	}
	e.anomalies.append(anomalies)
	return anomalies
}

// getOrCreateProfile returns the state for key, creating it on first use
func (e *Engine) getOrCreateProfile(key profileKey, firstSeen time.Time) *profileState {
	e.mu.RLock()
	state, ok := e.profiles[key]
	e.mu.RUnlock()
	if ok {
		return state
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok = e.profiles[key]; ok {
		return state
	}
	state = &profileState{
		profile: core.EntityProfile{
			EntityID:   key.entityID,
			EntityType: key.entityType,
			Baseline: core.Baseline{
				LoginTimes:      core.BehaviorPattern{Metric: "login_hour", Period: 24},
				SessionDuration: core.BehaviorPattern{Metric: "session_duration"},
				ActivityVolume:  core.BehaviorPattern{Metric: "hourly_event_count"},
				DataAccess:      core.BehaviorPattern{Metric: "data_access"},
				NetworkTraffic:  core.BehaviorPattern{Metric: "network_bytes"},
			},
			RiskLevel: core.RiskLevelMinimal,
			FirstSeen: firstSeen,
		},
		recent:         newRing[activity](e.cfg.RingCapacity),
		locationSeen:   make(map[string]int),
		knownResources: make(map[string]struct{}),
		decayedAt:      firstSeen,
	}
	e.profiles[key] = state
	metrics.ProfilesTracked.Set(float64(len(e.profiles)))
	return state
}

// analyzeLocked runs the checks against the baseline as it was before this
// event, then updates the baseline and risk. Caller holds state.mu.
func (e *Engine) analyzeLocked(state *profileState, obs observation, peer *core.PeerGroup) []core.BehaviorAnomaly {
	p := &state.profile

	e.applyIdleDecayLocked(state, obs.Timestamp)
	state.recent.push(obs.activity)

	var anomalies []core.BehaviorAnomaly
	add := func(a *core.BehaviorAnomaly) {
		if a == nil {
			return
		}
		a.EntityID = p.EntityID
		a.EntityType = p.EntityType
		a.Timestamp = obs.Timestamp
		if len(a.RelatedEvents) == 0 {
			a.RelatedEvents = []string{obs.EventID}
		}
		anomalies = append(anomalies, *a)
	}

	add(e.checkTemporal(state, obs, peer))
	add(e.checkGeolocation(state, obs, peer))
	add(e.checkVolume(state, obs))
	add(e.checkResourceAccess(state, obs, peer))
	add(e.checkAuthentication(state, obs))

	e.updateBaselineLocked(state, obs, peer)

	for i := range anomalies {
		anomalies[i].ID = newAnomalyID()
		e.applyRiskLocked(state, anomalies[i])
	}
	p.AlertCount += int64(len(anomalies))
	return anomalies
}

// updateBaselineLocked folds the observation into the EMA patterns and the
// known-value lists. The activity volume pattern is updated by checkVolume.
func (e *Engine) updateBaselineLocked(state *profileState, obs observation, peer *core.PeerGroup) {
	p := &state.profile
	b := &p.Baseline
	alpha := e.cfg.Alpha

	b.LoginTimes.Update(obs.Hour, alpha, obs.Timestamp)
	if obs.HasSession {
		b.SessionDuration.Update(obs.SessionDuration, alpha, obs.Timestamp)
	}
	if obs.HasDataAccess {
		b.DataAccess.Update(obs.DataAccess, alpha, obs.Timestamp)
	}
	if obs.HasNetwork {
		b.NetworkTraffic.Update(obs.NetworkBytes, alpha, obs.Timestamp)
	}

	if obs.Location != "" {
		// only successful activity teaches locations
		if !obs.FailedAuth {
			state.locationSeen[obs.Location]++
			learned := state.locationSeen[obs.Location] >= e.cfg.LocationLearnThreshold
			// the first location of a profile is adopted immediately
			if (learned || len(b.GeoLocations) == 0) && !containsString(b.GeoLocations, obs.Location) {
				b.GeoLocations = append(b.GeoLocations, obs.Location)
			}
		}
		state.lastLocation = obs.Location
		state.lastLocationAt = obs.Timestamp
	}

	if obs.Resource != "" {
		if _, known := state.knownResources[obs.Resource]; !known {
			// oldest resource out first once the set is full
			if len(b.AccessedResources) >= maxKnownResources {
				delete(state.knownResources, b.AccessedResources[0])
				b.AccessedResources = append(b.AccessedResources[:0], b.AccessedResources[1:]...)
			}
			state.knownResources[obs.Resource] = struct{}{}
			b.AccessedResources = append(b.AccessedResources, obs.Resource)
		}
	}
	if obs.UserAgent != "" && !containsString(b.UserAgents, obs.UserAgent) && len(b.UserAgents) < maxKnownUserAgents {
		b.UserAgents = append(b.UserAgents, obs.UserAgent)
	}

	b.PeerGroup = ""
	if peer != nil {
		b.PeerGroup = peer.ID
	}
	if obs.Timestamp.After(p.LastSeen) {
		p.LastSeen = obs.Timestamp
	}
	if p.FirstSeen.IsZero() || obs.Timestamp.Before(p.FirstSeen) {
		p.FirstSeen = obs.Timestamp
	}
	p.LastActivity = obs.Summary
	p.EventCount++
}

// applyRiskLocked folds one anomaly into the decaying risk accumulator
func (e *Engine) applyRiskLocked(state *profileState, a core.BehaviorAnomaly) {
	p := &state.profile
	p.RiskScore = clampRisk(p.RiskScore*riskDecay + severityWeights[a.Severity])
	p.RiskLevel = core.RiskLevelFor(p.RiskScore)

	factor := string(a.Category) + ": " + a.Metric
	if !containsString(p.RiskFactors, factor) {
		p.RiskFactors = append(p.RiskFactors, factor)
		if len(p.RiskFactors) > maxRiskFactors {
			p.RiskFactors = p.RiskFactors[len(p.RiskFactors)-maxRiskFactors:]
		}
	}
	state.decayedAt = a.Timestamp
}

// applyIdleDecayLocked decays risk once per full idle interval since the
// last risk change or activity
func (e *Engine) applyIdleDecayLocked(state *profileState, now time.Time) {
	interval := e.cfg.IdleDecayInterval
	if interval <= 0 || state.profile.RiskScore == 0 {
		state.decayedAt = laterOf(state.decayedAt, now)
		return
	}
	elapsed := now.Sub(state.decayedAt)
	if elapsed < interval {
		return
	}
	periods := int(elapsed / interval)
	p := &state.profile
	p.RiskScore = clampRisk(p.RiskScore * math.Pow(riskDecay, float64(periods)))
	p.RiskLevel = core.RiskLevelFor(p.RiskScore)
	state.decayedAt = state.decayedAt.Add(time.Duration(periods) * interval)
}

// DecayIdle applies idle decay to every profile as of now and returns how
// many profiles changed
func (e *Engine) DecayIdle(now time.Time) int {
	if e.cfg.IdleDecayInterval <= 0 {
		return 0
	}
	changed := 0
	for _, state := range e.snapshotStates() {
		state.mu.Lock()
		before := state.profile.RiskScore
		if now.Sub(state.profile.LastSeen) >= e.cfg.IdleDecayInterval {
			e.applyIdleDecayLocked(state, now)
		}
		if state.profile.RiskScore != before {
			changed++
		}
		state.mu.Unlock()
	}
	return changed
}

// Run applies idle decay on a ticker until ctx is done. It returns
// immediately when idle decay is disabled.
func (e *Engine) Run(ctx context.Context) {
	if e.cfg.IdleDecayInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.IdleDecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := e.DecayIdle(now); n > 0 {
				e.logger.Debugw("Applied idle risk decay", "profiles", n)
			}
		}
	}
}

func (e *Engine) snapshotStates() []*profileState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*profileState, 0, len(e.profiles))
	for _, s := range e.profiles {
		out = append(out, s)
	}
	return out
}

func clampRisk(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
