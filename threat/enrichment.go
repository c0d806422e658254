package threat

import (
	"context"
	"sort"

	"logsentry/core"
)

// ThreatContext is the attribution attached to a tag
type ThreatContext struct {
	Actors          []string `yaml:"actors"`
	Campaigns       []string `yaml:"campaigns"`
	MalwareFamilies []string `yaml:"malware_families"`
}

// DefaultThreatContexts maps IOC tags to known actors, campaigns and families
func DefaultThreatContexts() map[string]ThreatContext {
	return map[string]ThreatContext{
		"tor-exit": {
			Campaigns: []string{"Anonymized reconnaissance"},
		},
		"c2": {
			Actors:          []string{"APT28"},
			Campaigns:       []string{"Command and control"},
			MalwareFamilies: []string{"Cobalt Strike"},
		},
		"malware": {
			MalwareFamilies: []string{"Emotet"},
		},
		"ransomware": {
			Actors:          []string{"Wizard Spider"},
			MalwareFamilies: []string{"Conti"},
		},
		"phishing": {
			Actors:    []string{"TA505"},
			Campaigns: []string{"Credential harvesting"},
		},
		"scanner": {
			Campaigns: []string{"Mass internet scanning"},
		},
	}
}

// Enrich gathers reputation, related IOCs from the same source, geo context
// for IPs, and attribution for malicious values. A failing geo lookup leaves
// Geo nil and does not fail the enrichment.
func (s *Service) Enrich(ctx context.Context, value string, iocType core.IOCType) core.EnrichmentResult {
	if iocType == "" {
		iocType = core.DetectIOCType(value)
	}
	key := iocKey(iocType, value)
	result := core.EnrichmentResult{
		Indicator:  core.Indicator{Type: iocType, Value: key},
		Reputation: s.LookupReputation(key, iocType),
	}

	result.RelatedIOCs = s.relatedIOCs(key)

	if iocType == core.IOCTypeIP && s.geo != nil {
		if info, err := s.geo.Lookup(ctx, key); err == nil {
			result.Geo = info
		}
	}

	if result.Reputation.IsMalicious() {
		var actors, campaigns, families []string
		for _, tag := range result.Reputation.Tags {
			tc, ok := s.actors[tag]
			if !ok {
				continue
			}
			actors = append(actors, tc.Actors...)
			campaigns = append(campaigns, tc.Campaigns...)
			families = append(families, tc.MalwareFamilies...)
		}
		result.ThreatActors = mergeStrings(nil, actors)
		result.Campaigns = mergeStrings(nil, campaigns)
		result.MalwareFamilies = mergeStrings(nil, families)
	}
	return result
}

// relatedIOCs returns active IOCs sharing a source with key, excluding key
// itself, most recently seen first and capped at relatedLimit
func (s *Service) relatedIOCs(key string) []core.IOC {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.iocs[key]
	if !ok {
		return nil
	}
	entry.mu.Lock()
	sources := make(map[string]struct{}, len(entry.feeds))
	for src := range entry.feeds {
		sources[src] = struct{}{}
	}
	entry.mu.Unlock()

	var related []core.IOC
	for k, other := range s.iocs {
		if k == key {
			continue
		}
		other.mu.Lock()
		shared := false
		for src := range other.feeds {
			if _, ok := sources[src]; ok {
				shared = true
				break
			}
		}
		if shared && other.ioc.Active {
			related = append(related, cloneIOC(other.ioc))
		}
		other.mu.Unlock()
	}

	sort.Slice(related, func(i, j int) bool {
		if !related[i].LastSeen.Equal(related[j].LastSeen) {
			return related[i].LastSeen.After(related[j].LastSeen)
		}
		return related[i].Value < related[j].Value
	})
	if len(related) > s.relatedLimit {
		related = related[:s.relatedLimit]
	}
	return related
}
