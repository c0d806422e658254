package ueba

import (
	"regexp"
	"strings"
	"time"

	"logsentry/core"
)

// activity is one event as remembered in an entity's ring buffer
type activity struct {
	EventID    string
	Timestamp  time.Time
	Location   string
	Resource   string
	FailedAuth bool
}

// observation is everything the checks need from one event
type observation struct {
	activity
	Hour            float64
	UserAgent       string
	SessionDuration float64
	HasSession      bool
	DataAccess      float64
	HasDataAccess   bool
	NetworkBytes    float64
	HasNetwork      bool
	Summary         string
}

var failedAuthPattern = regexp.MustCompile(`(?i)(failed password|authentication fail|login fail|failed login|logon failure|invalid (user|password|credentials)|account failed to log on|bad password)`)

var failureOutcomes = map[string]struct{}{
	"failure": {}, "failed": {}, "fail": {}, "denied": {}, "rejected": {}, "invalid": {},
}

// resolveEntity picks the entity an event is about. EntityID wins and is a
// user unless meta says otherwise; SourceIP is the fallback.
func resolveEntity(event *core.Event) (core.EntityType, string, bool) {
	if event.EntityID != "" {
		entityType := core.EntityTypeUser
		switch core.EntityType(strings.ToLower(event.MetaString("entityType", "entity_type"))) {
		case core.EntityTypeIP:
			entityType = core.EntityTypeIP
		case core.EntityTypeHost:
			entityType = core.EntityTypeHost
		}
		return entityType, event.EntityID, true
	}
	if event.SourceIP != "" {
		return core.EntityTypeIP, event.SourceIP, true
	}
	return "", "", false
}

// observe extracts features from an event. location has already been
// resolved by the caller.
func observe(event *core.Event, location string) observation {
	obs := observation{
		activity: activity{
			EventID:    event.ID,
			Timestamp:  event.Timestamp,
			Location:   location,
			Resource:   event.Resource,
			FailedAuth: isFailedAuth(event),
		},
		Hour:      float64(event.Timestamp.UTC().Hour()),
		UserAgent: event.MetaString("user_agent", "userAgent", "http_user_agent"),
	}
	obs.SessionDuration, obs.HasSession = event.MetaNumber("session_duration", "sessionDuration", "duration")
	obs.DataAccess, obs.HasDataAccess = event.MetaNumber("bytes_read", "data_accessed", "records_accessed")
	obs.NetworkBytes, obs.HasNetwork = event.MetaNumber("bytes", "bytes_sent", "bytes_out", "network_bytes")

	obs.Summary = event.Message
	if event.Service != "" {
		obs.Summary = event.Service + ": " + event.Message
	}
	if len(obs.Summary) > 200 {
		obs.Summary = obs.Summary[:200]
	}
	return obs
}

// eventLocation reads a location carried by the event itself
func eventLocation(event *core.Event) string {
	if loc := event.MetaString("location", "geo_location", "geo"); loc != "" {
		return loc
	}
	country := event.MetaString("country", "geo_country")
	if city := event.MetaString("city", "geo_city"); city != "" && country != "" {
		return city + ", " + country
	}
	return country
}

func isFailedAuth(event *core.Event) bool {
	outcome := strings.ToLower(event.MetaString("outcome", "auth_result", "result"))
	if _, failed := failureOutcomes[outcome]; failed {
		return true
	}
	if event.Status == 401 {
		return true
	}
	return failedAuthPattern.MatchString(event.Message)
}
