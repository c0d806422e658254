package ueba

import (
	"fmt"
	"math"
	"strings"
	"time"

	"logsentry/core"
)

// minSigma floors the spread of temporal and volume baselines
const minSigma = 1.0

// sensitiveKeywords escalate unknown resource access
var sensitiveKeywords = []string{"database", "admin", "credentials", "secrets", "keys", "backup"}

// checkTemporal flags activity at an hour far from the entity's usual hour.
// Activity outside the peer group's working hours escalates to high.
func (e *Engine) checkTemporal(state *profileState, obs observation, peer *core.PeerGroup) *core.BehaviorAnomaly {
	pattern := state.profile.Baseline.LoginTimes
	if pattern.Samples < e.cfg.MinSamples {
		return nil
	}
	dev := pattern.Deviation(obs.Hour, minSigma)
	if dev <= e.cfg.SigmaThreshold {
		return nil
	}

	severity := core.SeverityMedium
	description := fmt.Sprintf("Activity at %02d:00 UTC, usual hour is %.1f", int(obs.Hour), pattern.Value)
	if hours := peerWorkingHours(peer); hours != nil && !hours.Contains(int(obs.Hour)) {
		severity = core.SeverityHigh
		description += fmt.Sprintf(" and outside %s working hours", peer.Name)
	}
	return &core.BehaviorAnomaly{
		Category:      core.AnomalyTemporal,
		Severity:      severity,
		Metric:        pattern.Metric,
		ExpectedValue: pattern.Value,
		ActualValue:   obs.Hour,
		Deviation:     dev,
		Confidence:    deviationConfidence(dev, e.cfg.SigmaThreshold),
		Description:   description,
	}
}

// peerWorkingHours returns nil when there is no group or its hours are unset
func peerWorkingHours(peer *core.PeerGroup) *core.WorkingHours {
	if peer == nil || peer.Baseline.WorkingHours == (core.WorkingHours{}) {
		return nil
	}
	return &peer.Baseline.WorkingHours
}

// checkGeolocation flags a location that is neither learned into the
// entity's baseline nor common to its peer group. A different location than
// the previous event's within the impossible travel window is critical.
// Nothing is flagged before the entity has a baseline location.
func (e *Engine) checkGeolocation(state *profileState, obs observation, peer *core.PeerGroup) *core.BehaviorAnomaly {
	known := state.profile.Baseline.GeoLocations
	if obs.Location == "" || len(known) == 0 {
		return nil
	}
	if containsString(known, obs.Location) {
		return nil
	}
	if peer != nil && containsString(peer.Baseline.CommonLocations, obs.Location) {
		return nil
	}

	description := fmt.Sprintf("First activity from %s", obs.Location)
	if seen := state.locationSeen[obs.Location]; seen > 0 {
		description = fmt.Sprintf("Activity from %s, seen %d of %d times needed to learn it",
			obs.Location, seen, e.cfg.LocationLearnThreshold)
	}

	anomaly := &core.BehaviorAnomaly{
		Category:      core.AnomalyGeolocation,
		Severity:      core.SeverityMedium,
		Metric:        "new_location",
		ExpectedValue: append([]string(nil), state.profile.Baseline.GeoLocations...),
		ActualValue:   obs.Location,
		Deviation:     1,
		Confidence:    0.6,
		Description:   description,
	}

	if state.lastLocation != "" && state.lastLocation != obs.Location {
		delta := obs.Timestamp.Sub(state.lastLocationAt)
		if delta >= 0 && delta < e.cfg.ImpossibleTravelWindow {
			anomaly.Severity = core.SeverityCritical
			anomaly.Metric = "impossible_travel"
			anomaly.ExpectedValue = state.lastLocation
			anomaly.Confidence = 0.9
			anomaly.Description = fmt.Sprintf("Impossible travel: %s to %s in %s",
				state.lastLocation, obs.Location, delta.Round(time.Second))
		}
	}
	return anomaly
}

// checkVolume compares the trailing window's event count with the entity's
// usual count and flags upward spikes only. The volume pattern is updated
// here with the observed count.
func (e *Engine) checkVolume(state *profileState, obs observation) *core.BehaviorAnomaly {
	cutoff := obs.Timestamp.Add(-e.cfg.VolumeWindow)
	count := 0.0
	state.recent.newestFirst(func(a activity) bool {
		if !a.Timestamp.Before(cutoff) && !a.Timestamp.After(obs.Timestamp) {
			count++
		}
		return true
	})

	pattern := &state.profile.Baseline.ActivityVolume
	var anomaly *core.BehaviorAnomaly
	if pattern.Samples >= e.cfg.MinSamples && count > pattern.Value {
		dev := pattern.Deviation(count, minSigma)
		if dev > e.cfg.SigmaThreshold {
			severity := core.SeverityMedium
			if dev > 2*e.cfg.SigmaThreshold {
				severity = core.SeverityHigh
			}
			anomaly = &core.BehaviorAnomaly{
				Category:      core.AnomalyVolume,
				Severity:      severity,
				Metric:        pattern.Metric,
				ExpectedValue: pattern.Value,
				ActualValue:   count,
				Deviation:     dev,
				Confidence:    deviationConfidence(dev, e.cfg.SigmaThreshold),
				Description:   fmt.Sprintf("%.0f events in the last %s, usual is %.1f", count, e.cfg.VolumeWindow, pattern.Value),
			}
		}
	}
	pattern.Update(count, e.cfg.Alpha, obs.Timestamp)
	return anomaly
}

// checkResourceAccess flags a resource unknown to both the entity and its
// peer group. Sensitive resource names are high severity.
func (e *Engine) checkResourceAccess(state *profileState, obs observation, peer *core.PeerGroup) *core.BehaviorAnomaly {
	if obs.Resource == "" {
		return nil
	}
	if _, known := state.knownResources[obs.Resource]; known {
		return nil
	}
	if peer != nil && resourceCovered(peer.Baseline.CommonResources, obs.Resource) {
		return nil
	}

	severity := core.SeverityLow
	confidence := 0.5
	lower := strings.ToLower(obs.Resource)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			severity = core.SeverityHigh
			confidence = 0.8
			break
		}
	}
	return &core.BehaviorAnomaly{
		Category:    core.AnomalyResourceAccess,
		Severity:    severity,
		Metric:      "resource",
		ActualValue: obs.Resource,
		Deviation:   1,
		Confidence:  confidence,
		Description: fmt.Sprintf("First access to %s", obs.Resource),
	}
}

// resourceCovered matches exact entries and path prefixes
func resourceCovered(common []string, resource string) bool {
	for _, c := range common {
		if c == resource {
			return true
		}
		if strings.HasSuffix(c, "/") && strings.HasPrefix(resource, c) {
			return true
		}
		if strings.HasPrefix(resource, c+"/") {
			return true
		}
	}
	return false
}

// checkAuthentication counts failed logins in the trailing auth window from
// the ring buffer. It raises medium at the alert threshold and high at the
// escalation threshold, at most once per severity per window.
func (e *Engine) checkAuthentication(state *profileState, obs observation) *core.BehaviorAnomaly {
	if !obs.FailedAuth {
		return nil
	}
	cutoff := obs.Timestamp.Add(-e.cfg.AuthWindow)
	var related []string
	state.recent.newestFirst(func(a activity) bool {
		if a.FailedAuth && !a.Timestamp.Before(cutoff) && !a.Timestamp.After(obs.Timestamp) {
			related = append(related, a.EventID)
		}
		return true
	})

	failures := len(related)
	var severity core.Severity
	switch {
	case failures >= e.cfg.AuthEscalateThreshold:
		severity = core.SeverityHigh
	case failures >= e.cfg.AuthAlertThreshold:
		severity = core.SeverityMedium
	default:
		return nil
	}

	recentAlert := !state.lastAuthAlertAt.IsZero() &&
		obs.Timestamp.Sub(state.lastAuthAlertAt) < e.cfg.AuthWindow
	if recentAlert && state.lastAuthAlert.Rank() >= severity.Rank() {
		return nil
	}
	state.lastAuthAlert = severity
	state.lastAuthAlertAt = obs.Timestamp

	confidence := 0.7
	if severity == core.SeverityHigh {
		confidence = 0.9
	}
	return &core.BehaviorAnomaly{
		Category:      core.AnomalyAuthentication,
		Severity:      severity,
		Metric:        "failed_logins",
		ExpectedValue: float64(e.cfg.AuthAlertThreshold),
		ActualValue:   float64(failures),
		Deviation:     float64(failures) / float64(e.cfg.AuthAlertThreshold),
		Confidence:    confidence,
		Description:   fmt.Sprintf("%d failed logins within %s", failures, e.cfg.AuthWindow),
		RelatedEvents: related,
	}
}

// deviationConfidence grows from 0.5 at the threshold towards 0.99
func deviationConfidence(dev, threshold float64) float64 {
	return math.Min(0.99, 0.5+(dev-threshold)/(2*threshold))
}
