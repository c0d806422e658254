package ueba

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"logsentry/core"

	"github.com/google/uuid"
)

func newAnomalyID() string {
	return uuid.New().String()
}

// anomalyLog is the bounded log of every anomaly the engine raised
type anomalyLog struct {
	mu      sync.RWMutex
	entries *ring[core.BehaviorAnomaly]
}

func newAnomalyLog(capacity int) *anomalyLog {
	return &anomalyLog{entries: newRing[core.BehaviorAnomaly](capacity)}
}

func (l *anomalyLog) append(anomalies []core.BehaviorAnomaly) {
	if len(anomalies) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range anomalies {
		l.entries.push(a)
	}
}

// AnomalyFilter selects entries from the anomaly log. Zero fields match all.
type AnomalyFilter struct {
	EntityID    string
	EntityType  core.EntityType
	Category    core.AnomalyCategory
	MinSeverity core.Severity
	Since       time.Time
	Limit       int
}

func (f AnomalyFilter) matches(a core.BehaviorAnomaly) bool {
	if f.EntityID != "" && a.EntityID != f.EntityID {
		return false
	}
	if f.EntityType != "" && a.EntityType != f.EntityType {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.MinSeverity != "" && !a.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// ListAnomalies returns logged anomalies matching filter, newest first
func (e *Engine) ListAnomalies(filter AnomalyFilter) []core.BehaviorAnomaly {
	e.anomalies.mu.RLock()
	defer e.anomalies.mu.RUnlock()

	var out []core.BehaviorAnomaly
	e.anomalies.entries.newestFirst(func(a core.BehaviorAnomaly) bool {
		if filter.matches(a) {
			a.RelatedEvents = append([]string(nil), a.RelatedEvents...)
			out = append(out, a)
		}
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out
}

// ProfileFilter selects profiles. Zero fields match all.
type ProfileFilter struct {
	EntityType core.EntityType
	RiskLevel  core.RiskLevel
	PeerGroup  string
}

// GetProfile returns a copy of one entity's profile
func (e *Engine) GetProfile(entityType core.EntityType, entityID string) (core.EntityProfile, error) {
	key := profileKey{entityType: entityType, entityID: entityID}
	e.mu.RLock()
	state, ok := e.profiles[key]
	e.mu.RUnlock()
	if !ok {
		return core.EntityProfile{}, fmt.Errorf("%s profile %s: %w", entityType, entityID, core.ErrNotFound)
	}
	return e.snapshot(key, state), nil
}

// ListProfiles returns copies of matching profiles, riskiest first
func (e *Engine) ListProfiles(filter ProfileFilter) []core.EntityProfile {
	e.mu.RLock()
	keys := make([]profileKey, 0, len(e.profiles))
	states := make([]*profileState, 0, len(e.profiles))
	for k, s := range e.profiles {
		if filter.EntityType != "" && k.entityType != filter.EntityType {
			continue
		}
		keys = append(keys, k)
		states = append(states, s)
	}
	e.mu.RUnlock()

	out := make([]core.EntityProfile, 0, len(states))
	for i, s := range states {
		p := e.snapshot(keys[i], s)
		if filter.RiskLevel != "" && p.RiskLevel != filter.RiskLevel {
			continue
		}
		if filter.PeerGroup != "" && p.Baseline.PeerGroup != filter.PeerGroup {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// snapshot copies a profile with its current peer group membership
func (e *Engine) snapshot(key profileKey, state *profileState) core.EntityProfile {
	state.mu.Lock()
	p := state.profile.Clone()
	state.mu.Unlock()
	p.Baseline.PeerGroup = e.peerGroupOf(key)
	return p
}

// ProfileCount returns the number of tracked entities
func (e *Engine) ProfileCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.profiles)
}
