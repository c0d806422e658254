package ueba

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"logsentry/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var baseTime = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	return NewEngine(cfg)
}

func userEvent(id, user string, ts time.Time) *core.Event {
	return &core.Event{
		ID:        id,
		Timestamp: ts,
		Level:     "info",
		Service:   "auth",
		Message:   "session activity",
		EntityID:  user,
		Meta:      map[string]interface{}{},
	}
}

func categories(anomalies []core.BehaviorAnomaly) []core.AnomalyCategory {
	out := make([]core.AnomalyCategory, len(anomalies))
	for i, a := range anomalies {
		out[i] = a.Category
	}
	return out
}

// trainDaily feeds one event per day at the given hour
func trainDaily(t *testing.T, e *Engine, user string, days, hour int) {
	t.Helper()
	for d := 0; d < days; d++ {
		ts := baseTime.AddDate(0, 0, d).Add(time.Duration(hour) * time.Hour)
		anomalies := e.AnalyzeActivity(context.Background(), userEvent(fmt.Sprintf("%s-train-%d", user, d), user, ts))
		require.Empty(t, anomalies, "training event %d", d)
	}
}

func TestAnalyzeActivity_EntityResolution(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	assert.Nil(t, e.AnalyzeActivity(ctx, nil))
	assert.Nil(t, e.AnalyzeActivity(ctx, &core.Event{ID: "x", Timestamp: baseTime, Message: "no entity"}))
	assert.Equal(t, 0, e.ProfileCount())

	e.AnalyzeActivity(ctx, &core.Event{ID: "a", Timestamp: baseTime, SourceIP: "203.0.113.4"})
	_, err := e.GetProfile(core.EntityTypeIP, "203.0.113.4")
	assert.NoError(t, err)

	host := userEvent("b", "web-01", baseTime)
	host.Meta["entityType"] = "host"
	e.AnalyzeActivity(ctx, host)
	_, err = e.GetProfile(core.EntityTypeHost, "web-01")
	assert.NoError(t, err)

	e.AnalyzeActivity(ctx, userEvent("c", "alice", baseTime))
	p, err := e.GetProfile(core.EntityTypeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.EventCount)
	assert.Equal(t, baseTime, p.FirstSeen)

	_, err = e.GetProfile(core.EntityTypeUser, "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 3, e.ProfileCount())
}

func TestTemporal_FlagsUnusualHour(t *testing.T) {
	e := newTestEngine(t, nil)
	trainDaily(t, e, "alice", 20, 9)

	p, err := e.GetProfile(core.EntityTypeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, 9.0, p.Baseline.LoginTimes.Value)
	assert.Equal(t, 0.0, p.Baseline.LoginTimes.StdDev)

	ts := baseTime.AddDate(0, 0, 20).Add(3 * time.Hour)
	anomalies := e.AnalyzeActivity(context.Background(), userEvent("night", "alice", ts))
	require.Len(t, anomalies, 1)
	a := anomalies[0]
	assert.Equal(t, core.AnomalyTemporal, a.Category)
	assert.Equal(t, core.SeverityMedium, a.Severity)
	assert.Greater(t, a.Deviation, DefaultSigmaThreshold)
	assert.Equal(t, "alice", a.EntityID)
	assert.Equal(t, core.EntityTypeUser, a.EntityType)
	assert.Equal(t, []string{"night"}, a.RelatedEvents)
	assert.NotEmpty(t, a.ID)
}

func TestTemporal_ColdStartGate(t *testing.T) {
	e := newTestEngine(t, nil)
	trainDaily(t, e, "alice", 5, 9)

	ts := baseTime.AddDate(0, 0, 5).Add(3 * time.Hour)
	assert.Empty(t, e.AnalyzeActivity(context.Background(), userEvent("night", "alice", ts)))
}

func TestTemporal_OutsidePeerWorkingHoursEscalates(t *testing.T) {
	e := newTestEngine(t, nil)
	group, err := e.CreatePeerGroup(core.PeerGroup{
		Name:     "Finance",
		Members:  []string{"alice"},
		Baseline: core.PeerBaseline{WorkingHours: core.WorkingHours{Start: 8, End: 18}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, group.Members)

	trainDaily(t, e, "alice", 12, 9)

	ts := baseTime.AddDate(0, 0, 12).Add(3 * time.Hour)
	anomalies := e.AnalyzeActivity(context.Background(), userEvent("night", "alice", ts))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.SeverityHigh, anomalies[0].Severity)
}

func TestTemporal_HoursWrapAroundMidnight(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	// a night shift alternating between 23:00 and 01:00
	for d := 0; d < 20; d++ {
		ts := baseTime.AddDate(0, 0, d).Add(23 * time.Hour)
		if d%2 == 1 {
			ts = baseTime.AddDate(0, 0, d).Add(time.Hour)
		}
		require.Empty(t, e.AnalyzeActivity(ctx, userEvent(fmt.Sprintf("night-%d", d), "nora", ts)), "training event %d", d)
	}

	p, err := e.GetProfile(core.EntityTypeUser, "nora")
	require.NoError(t, err)
	assert.Equal(t, 24.0, p.Baseline.LoginTimes.Period)
	assert.Less(t, math.Min(p.Baseline.LoginTimes.Value, 24-p.Baseline.LoginTimes.Value), 0.5)

	assert.Empty(t, e.AnalyzeActivity(ctx, userEvent("midnight", "nora", baseTime.AddDate(0, 0, 21))))

	anomalies := e.AnalyzeActivity(ctx, userEvent("noon", "nora", baseTime.AddDate(0, 0, 22).Add(12*time.Hour)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.AnomalyTemporal, anomalies[0].Category)
}

func locationEvent(id, user, location string, ts time.Time) *core.Event {
	ev := userEvent(id, user, ts)
	ev.Meta["location"] = location
	return ev
}

func TestGeolocation_NewLocationAndImpossibleTravel(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	assert.Empty(t, e.AnalyzeActivity(ctx, locationEvent("e1", "alice", "Tokyo, Japan", baseTime)))

	anomalies := e.AnalyzeActivity(ctx, locationEvent("e2", "alice", "London, United Kingdom", baseTime.Add(time.Hour)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.AnomalyGeolocation, anomalies[0].Category)
	assert.Equal(t, core.SeverityCritical, anomalies[0].Severity)
	assert.Equal(t, "impossible_travel", anomalies[0].Metric)
	assert.Equal(t, "Tokyo, Japan", anomalies[0].ExpectedValue)

	anomalies = e.AnalyzeActivity(ctx, locationEvent("e3", "alice", "Paris, France", baseTime.Add(10*time.Hour)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.SeverityMedium, anomalies[0].Severity)
	assert.Equal(t, "new_location", anomalies[0].Metric)

	// seen before but not learned, so still checked
	anomalies = e.AnalyzeActivity(ctx, locationEvent("e4", "alice", "London, United Kingdom", baseTime.Add(11*time.Hour)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.SeverityCritical, anomalies[0].Severity)
	assert.Equal(t, "Paris, France", anomalies[0].ExpectedValue)

	for i := 0; i < 2; i++ {
		anomalies = e.AnalyzeActivity(ctx, locationEvent(fmt.Sprintf("l%d", i), "alice", "London, United Kingdom", baseTime.Add(time.Duration(12+i)*time.Hour)))
		require.Len(t, anomalies, 1)
		assert.Equal(t, "new_location", anomalies[0].Metric)
	}
	p, err := e.GetProfile(core.EntityTypeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tokyo, Japan"}, p.Baseline.GeoLocations)

	// the fifth observation is still checked, then learned
	require.Len(t, e.AnalyzeActivity(ctx, locationEvent("l2", "alice", "London, United Kingdom", baseTime.Add(14*time.Hour))), 1)
	p, _ = e.GetProfile(core.EntityTypeUser, "alice")
	assert.Equal(t, []string{"Tokyo, Japan", "London, United Kingdom"}, p.Baseline.GeoLocations)
	assert.Empty(t, e.AnalyzeActivity(ctx, locationEvent("l3", "alice", "London, United Kingdom", baseTime.Add(15*time.Hour))))
}

func TestGeolocation_AlternatingLocationsStayFlagged(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	assert.Empty(t, e.AnalyzeActivity(ctx, locationEvent("e1", "alice", "Tokyo, Japan", baseTime)))

	start := baseTime.Add(24 * time.Hour)
	anomalies := e.AnalyzeActivity(ctx, locationEvent("e2", "alice", "London, United Kingdom", start))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "new_location", anomalies[0].Metric)

	assert.Empty(t, e.AnalyzeActivity(ctx, locationEvent("e3", "alice", "Tokyo, Japan", start.Add(20*time.Minute))))

	anomalies = e.AnalyzeActivity(ctx, locationEvent("e4", "alice", "London, United Kingdom", start.Add(40*time.Minute)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.SeverityCritical, anomalies[0].Severity)
	assert.Equal(t, "impossible_travel", anomalies[0].Metric)
	assert.Equal(t, "Tokyo, Japan", anomalies[0].ExpectedValue)
	assert.Equal(t, "London, United Kingdom", anomalies[0].ActualValue)
}

func TestGeolocation_PeerCommonLocationsAreKnown(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.CreatePeerGroup(core.PeerGroup{
		Name:     "EMEA Sales",
		Members:  []string{"alice"},
		Baseline: core.PeerBaseline{CommonLocations: []string{"Berlin, Germany"}},
	})
	require.NoError(t, err)

	assert.Empty(t, e.AnalyzeActivity(ctx, locationEvent("e1", "alice", "Tokyo, Japan", baseTime)))
	assert.Empty(t, e.AnalyzeActivity(ctx, locationEvent("e2", "alice", "Berlin, Germany", baseTime.Add(time.Hour))))

	anomalies := e.AnalyzeActivity(ctx, locationEvent("e3", "alice", "Madrid, Spain", baseTime.Add(2*time.Hour)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.SeverityCritical, anomalies[0].Severity)

	// non-members get no such allowance
	assert.Empty(t, e.AnalyzeActivity(ctx, locationEvent("b1", "bob", "Tokyo, Japan", baseTime)))
	require.Len(t, e.AnalyzeActivity(ctx, locationEvent("b2", "bob", "Berlin, Germany", baseTime.Add(time.Hour))), 1)
}

func TestGeolocation_FailedLoginsDoNotTeachLocations(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	assert.Empty(t, e.AnalyzeActivity(ctx, locationEvent("e1", "alice", "Tokyo, Japan", baseTime)))
	for i := 0; i < 2*DefaultLocationLearnThreshold; i++ {
		ev := failedLogin(fmt.Sprintf("f%d", i), "alice", baseTime.Add(time.Duration(i+1)*time.Minute))
		ev.Meta["location"] = "Moscow, Russia"
		e.AnalyzeActivity(ctx, ev)
	}

	p, err := e.GetProfile(core.EntityTypeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tokyo, Japan"}, p.Baseline.GeoLocations)

	var geo []core.BehaviorAnomaly
	for _, a := range e.AnalyzeActivity(ctx, locationEvent("e2", "alice", "Moscow, Russia", baseTime.Add(time.Hour))) {
		if a.Category == core.AnomalyGeolocation {
			geo = append(geo, a)
		}
	}
	require.Len(t, geo, 1)
	assert.Equal(t, "First activity from Moscow, Russia", geo[0].Description)
}

type fakeResolver map[string]string

func (f fakeResolver) Locate(_ context.Context, ip string) (string, bool) {
	loc, ok := f[ip]
	return loc, ok
}

func TestGeolocation_UsesLocationResolver(t *testing.T) {
	e := newTestEngine(t, &Config{Locator: fakeResolver{
		"198.51.100.1": "Berlin, Germany",
		"203.0.113.1":  "Tokyo, Japan",
	}})
	ctx := context.Background()

	first := userEvent("e1", "dave", baseTime)
	first.SourceIP = "198.51.100.1"
	assert.Empty(t, e.AnalyzeActivity(ctx, first))

	second := userEvent("e2", "dave", baseTime.Add(time.Hour))
	second.SourceIP = "203.0.113.1"
	anomalies := e.AnalyzeActivity(ctx, second)
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.SeverityCritical, anomalies[0].Severity)
	assert.Equal(t, "Tokyo, Japan", anomalies[0].ActualValue)
}

func TestVolume_FlagsSpike(t *testing.T) {
	e := newTestEngine(t, nil)
	trainDaily(t, e, "alice", 12, 10)

	var volume []core.BehaviorAnomaly
	burstStart := baseTime.AddDate(0, 0, 12).Add(10 * time.Hour)
	for i := 0; i < 10; i++ {
		ts := burstStart.Add(time.Duration(i) * time.Minute)
		for _, a := range e.AnalyzeActivity(context.Background(), userEvent(fmt.Sprintf("burst-%d", i), "alice", ts)) {
			if a.Category == core.AnomalyVolume {
				volume = append(volume, a)
			}
		}
	}

	require.NotEmpty(t, volume)
	for _, a := range volume {
		assert.Greater(t, a.ActualValue.(float64), a.ExpectedValue.(float64))
		assert.Greater(t, a.Deviation, DefaultSigmaThreshold)
	}
}

func resourceEvent(id, user, resource string, ts time.Time) *core.Event {
	ev := userEvent(id, user, ts)
	ev.Resource = resource
	return ev
}

func TestResourceAccess(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.CreatePeerGroup(core.PeerGroup{
		Name:     "Analysts",
		Members:  []string{"alice"},
		Baseline: core.PeerBaseline{CommonResources: []string{"/api/reports"}},
	})
	require.NoError(t, err)

	assert.Empty(t, e.AnalyzeActivity(ctx, resourceEvent("r1", "alice", "/api/reports/42", baseTime)))

	anomalies := e.AnalyzeActivity(ctx, resourceEvent("r2", "alice", "/api/admin/users", baseTime.Add(time.Minute)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.AnomalyResourceAccess, anomalies[0].Category)
	assert.Equal(t, core.SeverityHigh, anomalies[0].Severity)

	anomalies = e.AnalyzeActivity(ctx, resourceEvent("r3", "alice", "/app/home", baseTime.Add(2*time.Minute)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.SeverityLow, anomalies[0].Severity)

	assert.Empty(t, e.AnalyzeActivity(ctx, resourceEvent("r4", "alice", "/app/home", baseTime.Add(3*time.Minute))))

	anomalies = e.AnalyzeActivity(ctx, resourceEvent("r5", "bob", "/api/reports", baseTime))
	require.Len(t, anomalies, 1)
	assert.Equal(t, core.SeverityLow, anomalies[0].Severity)

	p, err := e.GetProfile(core.EntityTypeUser, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/reports/42", "/api/admin/users", "/app/home"}, p.Baseline.AccessedResources)
}

func TestResourceAccess_FullSetEvictsOldest(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	resourceAnomalies := func(id, resource string) int {
		n := 0
		for _, a := range e.AnalyzeActivity(ctx, resourceEvent(id, "alice", resource, baseTime)) {
			if a.Category == core.AnomalyResourceAccess {
				n++
			}
		}
		return n
	}

	for i := 0; i < maxKnownResources; i++ {
		require.Equal(t, 1, resourceAnomalies(fmt.Sprintf("r%d", i), fmt.Sprintf("/files/%d", i)))
	}

	// a resource first seen after the set filled up is learned like any other
	assert.Equal(t, 1, resourceAnomalies("late-1", "/files/late"))
	assert.Equal(t, 0, resourceAnomalies("late-2", "/files/late"))

	p, err := e.GetProfile(core.EntityTypeUser, "alice")
	require.NoError(t, err)
	require.Len(t, p.Baseline.AccessedResources, maxKnownResources)
	assert.Equal(t, "/files/1", p.Baseline.AccessedResources[0])
	assert.Equal(t, "/files/late", p.Baseline.AccessedResources[maxKnownResources-1])

	assert.Equal(t, 1, resourceAnomalies("again", "/files/0"))
	assert.Equal(t, 0, resourceAnomalies("recent", "/files/499"))
}

func failedLogin(id, user string, ts time.Time) *core.Event {
	ev := userEvent(id, user, ts)
	ev.Message = "Failed password for " + user + " from 203.0.113.9 port 22 ssh2"
	return ev
}

func TestAuthentication_EscalatesWithoutDuplicates(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	var auth []core.BehaviorAnomaly
	for i := 1; i <= 6; i++ {
		ts := baseTime.Add(time.Duration(i) * time.Minute)
		for _, a := range e.AnalyzeActivity(ctx, failedLogin(fmt.Sprintf("auth-%d", i), "bob", ts)) {
			require.Equal(t, core.AnomalyAuthentication, a.Category)
			auth = append(auth, a)
		}
	}

	require.Len(t, auth, 2)
	assert.Equal(t, core.SeverityMedium, auth[0].Severity)
	assert.Equal(t, 3.0, auth[0].ActualValue)
	assert.ElementsMatch(t, []string{"auth-1", "auth-2", "auth-3"}, auth[0].RelatedEvents)
	assert.Equal(t, core.SeverityHigh, auth[1].Severity)
	assert.Equal(t, 5.0, auth[1].ActualValue)

	p, err := e.GetProfile(core.EntityTypeUser, "bob")
	require.NoError(t, err)
	assert.InDelta(t, 10*0.95+20, p.RiskScore, 1e-9)
	assert.Equal(t, core.RiskLevelLow, p.RiskLevel)
	assert.Equal(t, int64(2), p.AlertCount)
	assert.Equal(t, []string{"authentication: failed_logins"}, p.RiskFactors)

	// failures outside the trailing window do not count
	late := baseTime.Add(6*time.Minute + 20*time.Minute)
	assert.Empty(t, e.AnalyzeActivity(ctx, failedLogin("auth-late", "bob", late)))
}

func TestAuthentication_CountsFromBoundedRing(t *testing.T) {
	e := newTestEngine(t, &Config{RingCapacity: 3})

	var auth []core.BehaviorAnomaly
	for i := 1; i <= 10; i++ {
		ts := baseTime.Add(time.Duration(i) * time.Minute)
		auth = append(auth, e.AnalyzeActivity(context.Background(), failedLogin(fmt.Sprintf("a%d", i), "carol", ts))...)
	}
	require.Len(t, auth, 1)
	assert.Equal(t, core.SeverityMedium, auth[0].Severity)
}

func TestRiskScore_ClampedAndBucketed(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	e.AnalyzeActivity(ctx, locationEvent("t0", "mallory", "L0", baseTime))
	for i := 1; i <= 20; i++ {
		ts := baseTime.Add(time.Duration(i) * time.Hour)
		anomalies := e.AnalyzeActivity(ctx, locationEvent(fmt.Sprintf("t%d", i), "mallory", fmt.Sprintf("L%d", i), ts))
		require.NotEmpty(t, anomalies)

		p, err := e.GetProfile(core.EntityTypeUser, "mallory")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.RiskScore, 0.0)
		assert.LessOrEqual(t, p.RiskScore, 100.0)
		assert.Equal(t, core.RiskLevelFor(p.RiskScore), p.RiskLevel)
	}

	p, _ := e.GetProfile(core.EntityTypeUser, "mallory")
	assert.Equal(t, 100.0, p.RiskScore)
	assert.Equal(t, core.RiskLevelCritical, p.RiskLevel)
	assert.LessOrEqual(t, len(p.RiskFactors), maxRiskFactors)
}

func TestIdleDecay(t *testing.T) {
	e := newTestEngine(t, &Config{IdleDecayInterval: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e.AnalyzeActivity(ctx, failedLogin(fmt.Sprintf("f%d", i), "erin", baseTime.Add(time.Duration(i)*time.Minute)))
	}
	p, _ := e.GetProfile(core.EntityTypeUser, "erin")
	require.InDelta(t, 10.0, p.RiskScore, 1e-9)

	lastEvent := baseTime.Add(2 * time.Minute)
	assert.Equal(t, 1, e.DecayIdle(lastEvent.Add(3*time.Hour)))
	assert.Equal(t, 0, e.DecayIdle(lastEvent.Add(3*time.Hour)))
	p, _ = e.GetProfile(core.EntityTypeUser, "erin")
	assert.InDelta(t, 10*math.Pow(0.95, 3), p.RiskScore, 1e-9)

	// decay is also applied lazily on the next activity
	e.AnalyzeActivity(ctx, userEvent("back", "erin", lastEvent.Add(5*time.Hour)))
	p, _ = e.GetProfile(core.EntityTypeUser, "erin")
	assert.InDelta(t, 10*math.Pow(0.95, 5), p.RiskScore, 1e-9)
}

func TestIdleDecay_DisabledByDefault(t *testing.T) {
	e := newTestEngine(t, nil)
	for i := 0; i < 3; i++ {
		e.AnalyzeActivity(context.Background(), failedLogin(fmt.Sprintf("f%d", i), "erin", baseTime.Add(time.Duration(i)*time.Minute)))
	}
	assert.Equal(t, 0, e.DecayIdle(baseTime.Add(48*time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Run(ctx)

	p, _ := e.GetProfile(core.EntityTypeUser, "erin")
	assert.InDelta(t, 10.0, p.RiskScore, 1e-9)
}

func TestListAnomalies(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		e.AnalyzeActivity(ctx, failedLogin(fmt.Sprintf("auth-%d", i), "bob", baseTime.Add(time.Duration(i)*time.Minute)))
	}
	e.AnalyzeActivity(ctx, resourceEvent("r1", "alice", "/secrets/vault", baseTime))

	all := e.ListAnomalies(AnomalyFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].EntityID)

	bob := e.ListAnomalies(AnomalyFilter{EntityID: "bob"})
	require.Len(t, bob, 2)
	assert.Equal(t, core.SeverityHigh, bob[0].Severity)
	assert.Equal(t, core.SeverityMedium, bob[1].Severity)

	assert.Len(t, e.ListAnomalies(AnomalyFilter{MinSeverity: core.SeverityHigh}), 2)
	assert.Len(t, e.ListAnomalies(AnomalyFilter{Category: core.AnomalyResourceAccess}), 1)
	assert.Empty(t, e.ListAnomalies(AnomalyFilter{Category: core.AnomalyTemporal}))
	assert.Len(t, e.ListAnomalies(AnomalyFilter{Limit: 1}), 1)
	assert.Len(t, e.ListAnomalies(AnomalyFilter{Since: baseTime.Add(4 * time.Minute)}), 1)
}

func TestAnomalyLogIsBounded(t *testing.T) {
	e := newTestEngine(t, &Config{AnomalyLogCapacity: 2})
	for i := 0; i < 5; i++ {
		e.AnalyzeActivity(context.Background(), resourceEvent(fmt.Sprintf("r%d", i), "alice", fmt.Sprintf("/res/%d", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}
	anomalies := e.ListAnomalies(AnomalyFilter{})
	require.Len(t, anomalies, 2)
	assert.Equal(t, "/res/4", anomalies[0].ActualValue)
	assert.Equal(t, "/res/3", anomalies[1].ActualValue)
}

func TestListProfiles_Filters(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	group, err := e.CreatePeerGroup(core.PeerGroup{Name: "Ops"})
	require.NoError(t, err)
	require.NoError(t, e.AssignPeer(group.ID, core.EntityTypeIP, "203.0.113.4"))

	for i := 1; i <= 5; i++ {
		e.AnalyzeActivity(ctx, failedLogin(fmt.Sprintf("auth-%d", i), "bob", baseTime.Add(time.Duration(i)*time.Minute)))
	}
	e.AnalyzeActivity(ctx, userEvent("a", "alice", baseTime))
	e.AnalyzeActivity(ctx, &core.Event{ID: "ip", Timestamp: baseTime, SourceIP: "203.0.113.4"})

	all := e.ListProfiles(ProfileFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "bob", all[0].EntityID)

	assert.Len(t, e.ListProfiles(ProfileFilter{EntityType: core.EntityTypeUser}), 2)
	assert.Len(t, e.ListProfiles(ProfileFilter{RiskLevel: core.RiskLevelLow}), 1)

	inGroup := e.ListProfiles(ProfileFilter{PeerGroup: group.ID})
	require.Len(t, inGroup, 1)
	assert.Equal(t, "203.0.113.4", inGroup[0].EntityID)
	assert.Equal(t, group.ID, inGroup[0].Baseline.PeerGroup)
}

func TestAnalyzeActivity_Concurrent(t *testing.T) {
	e := newTestEngine(t, nil)
	const workers, perWorker = 50, 20

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", w%10)
			for i := 0; i < perWorker; i++ {
				ev := failedLogin(fmt.Sprintf("%d-%d", w, i), user, baseTime.Add(time.Duration(i)*time.Minute))
				ev.Meta["location"] = fmt.Sprintf("site-%d", i%3)
				ev.Resource = fmt.Sprintf("/data/%d", i%4)
				e.AnalyzeActivity(context.Background(), ev)
			}
		}(w)
	}
	wg.Wait()

	var total int64
	for _, p := range e.ListProfiles(ProfileFilter{}) {
		total += p.EventCount
		assert.GreaterOrEqual(t, p.RiskScore, 0.0)
		assert.LessOrEqual(t, p.RiskScore, 100.0)
		assert.GreaterOrEqual(t, p.Baseline.LoginTimes.StdDev, 0.0)
	}
	assert.Equal(t, int64(workers*perWorker), total)
}
