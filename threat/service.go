package threat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"logsentry/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ManualSource is the source recorded for IOCs added outside any feed
const ManualSource = "manual"

// DefaultRelatedIOCLimit caps the related IOCs returned by Enrich
const DefaultRelatedIOCLimit = 5

// BenignReputationScore is given to allow-listed domains
const BenignReputationScore = 95

// maliciousScores maps the worst listing severity to a reputation score
var maliciousScores = map[core.Severity]int{
	core.SeverityCritical: 0,
	core.SeverityHigh:     5,
	core.SeverityMedium:   10,
	core.SeverityLow:      25,
	core.SeverityInfo:     35,
}

// Config configures the indicator intelligence service
type Config struct {
	ReputationCacheSize    int
	ReputationCacheTTL     time.Duration
	InvalidateOnFeedChange bool
	RelatedIOCLimit        int
	// BenignDomains extends DefaultBenignDomains
	BenignDomains []string
	// Feeds seeds the registry. Nil means DefaultFeeds().
	Feeds []FeedDefinition
	// Geo resolves IP locations for enrichment. Nil means no geo context.
	Geo    GeoLocator
	Logger *zap.SugaredLogger
}

// iocEntry is one stored IOC plus the feeds that list it
type iocEntry struct {
	mu    sync.Mutex
	ioc   core.IOC
	feeds map[string]struct{}
}

// Service extracts indicators, scores their reputation and enriches them.
// The IOC map is guarded by mu; each entry has its own mutex for hit updates.
type Service struct {
	mu        sync.RWMutex
	iocs      map[string]*iocEntry
	feeds     map[string]*feed
	feedOrder []string

	allowList    []string
	cache        *reputationCache
	invalidate   bool
	relatedLimit int
	geo          GeoLocator
	actors       map[string]ThreatContext
	logger       *zap.SugaredLogger
	now          func() time.Time
}

// NewService builds the service and registers the configured feeds
func NewService(config *Config) (*Service, error) {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	relatedLimit := config.RelatedIOCLimit
	if relatedLimit <= 0 {
		relatedLimit = DefaultRelatedIOCLimit
	}

	allow := make([]string, 0, len(DefaultBenignDomains)+len(config.BenignDomains))
	for _, d := range append(append([]string{}, DefaultBenignDomains...), config.BenignDomains...) {
		if d = core.NormalizeIOCValue(core.IOCTypeDomain, d); d != "" {
			allow = append(allow, d)
		}
	}

	s := &Service{
		iocs:         make(map[string]*iocEntry),
		feeds:        make(map[string]*feed),
		allowList:    allow,
		cache:        newReputationCache(config.ReputationCacheSize, config.ReputationCacheTTL),
		invalidate:   config.InvalidateOnFeedChange,
		relatedLimit: relatedLimit,
		geo:          config.Geo,
		actors:       DefaultThreatContexts(),
		logger:       logger,
		now:          time.Now,
	}

	feeds := config.Feeds
	if feeds == nil {
		feeds = DefaultFeeds()
	}
	for _, def := range feeds {
		if err := s.RegisterFeed(def); err != nil {
			return nil, fmt.Errorf("failed to register feed %q: %w", def.Name, err)
		}
	}

	logger.Infow("Threat intelligence service initialized",
		"feeds", len(feeds),
		"iocs", len(s.iocs),
		"allow_list", len(allow),
		"cache_size", config.ReputationCacheSize,
		"cache_ttl", config.ReputationCacheTTL)
	return s, nil
}

// SetClock replaces the time source (tests)
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func iocKey(iocType core.IOCType, value string) string {
	return core.NormalizeIOCValue(iocType, value)
}

// AddIOC stores an IOC under ManualSource unless ioc.Source names a
// registered feed. A value already present is merged: severity keeps the
// worst of both, tags are unioned.
func (s *Service) AddIOC(ioc core.IOC) (core.IOC, error) {
	source := ioc.Source
	if source == "" {
		source = ManualSource
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if source != ManualSource {
		if _, ok := s.feeds[source]; !ok {
			return core.IOC{}, fmt.Errorf("feed %s: %w", source, core.ErrNotFound)
		}
	}
	stored, err := s.addIOCLocked(ioc, source)
	if err != nil {
		return core.IOC{}, err
	}
	if source != ManualSource {
		s.feeds[source].values[iocKey(stored.Type, stored.Value)] = struct{}{}
	}
	s.invalidateLocked(stored.Value)
	return stored, nil
}

// addIOCLocked validates and merges one IOC. Caller holds s.mu.
func (s *Service) addIOCLocked(ioc core.IOC, source string) (core.IOC, error) {
	ve := core.NewValidationError("ioc")
	ioc.Value = strings.TrimSpace(ioc.Value)
	if ioc.Value == "" {
		ve.Add("value is required")
	}
	if ioc.Type == "" {
		ioc.Type = core.DetectIOCType(ioc.Value)
	}
	if !ioc.Type.IsValid() {
		ve.Add("invalid type %q", ioc.Type)
	}
	if ioc.Severity == "" {
		ioc.Severity = core.SeverityMedium
	}
	ioc.Severity = core.Severity(strings.ToLower(string(ioc.Severity)))
	if !ioc.Severity.IsValid() {
		ve.Add("invalid severity %q", ioc.Severity)
	}
	if ioc.Confidence < 0 || ioc.Confidence > 1 {
		ve.Add("confidence must be between 0 and 1")
	}
	if err := ve.OrNil(); err != nil {
		return core.IOC{}, err
	}

	key := iocKey(ioc.Type, ioc.Value)
	now := s.now()

	if entry, ok := s.iocs[key]; ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if ioc.Severity.Rank() > entry.ioc.Severity.Rank() {
			entry.ioc.Severity = ioc.Severity
		}
		if ioc.Confidence > entry.ioc.Confidence {
			entry.ioc.Confidence = ioc.Confidence
		}
		entry.ioc.Tags = mergeStrings(entry.ioc.Tags, ioc.Tags)
		entry.ioc.Active = true
		entry.feeds[source] = struct{}{}
		return cloneIOC(entry.ioc), nil
	}

	ioc.ID = uuid.New().String()
	ioc.Value = key
	ioc.Source = source
	ioc.FirstSeen = now
	ioc.LastSeen = now
	ioc.HitCount = 0
	ioc.Active = true
	ioc.Tags = mergeStrings(nil, ioc.Tags)
	s.iocs[key] = &iocEntry{ioc: ioc, feeds: map[string]struct{}{source: {}}}
	return cloneIOC(ioc), nil
}

// GetIOC returns a copy of the stored IOC for value
func (s *Service) GetIOC(value string) (core.IOC, error) {
	entry := s.lookupEntry(value, "")
	if entry == nil {
		return core.IOC{}, fmt.Errorf("ioc %s: %w", value, core.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneIOC(entry.ioc), nil
}

// ListIOCs returns copies of every stored IOC sorted by value
func (s *Service) ListIOCs() []core.IOC {
	s.mu.RLock()
	entries := make([]*iocEntry, 0, len(s.iocs))
	for _, e := range s.iocs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]core.IOC, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, cloneIOC(e.ioc))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// SetIOCActive activates or retires a stored IOC. Retired IOCs are ignored by
// reputation lookups.
func (s *Service) SetIOCActive(value string, active bool) error {
	entry := s.lookupEntry(value, "")
	if entry == nil {
		return fmt.Errorf("ioc %s: %w", value, core.ErrNotFound)
	}
	entry.mu.Lock()
	entry.ioc.Active = active
	key := entry.ioc.Value
	entry.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.invalidateLocked(key)
	return nil
}

// RecordHit bumps HitCount and LastSeen on a stored IOC. Unknown values are
// ignored. Cached reputation verdicts are not refreshed.
func (s *Service) RecordHit(value string) {
	entry := s.lookupEntry(value, "")
	if entry == nil {
		return
	}
	s.mu.RLock()
	now := s.now()
	s.mu.RUnlock()

	entry.mu.Lock()
	entry.ioc.HitCount++
	entry.ioc.LastSeen = now
	entry.mu.Unlock()
}

// lookupEntry finds the entry for value, detecting the type when not given
func (s *Service) lookupEntry(value string, iocType core.IOCType) *iocEntry {
	if iocType == "" {
		iocType = core.DetectIOCType(value)
	}
	key := iocKey(iocType, value)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iocs[key]
}

// LookupReputation scores a value. The cache is consulted first; on a miss
// the deny-lists of enabled feeds and the allow-list decide, and the verdict
// is cached whatever it is.
func (s *Service) LookupReputation(value string, iocType core.IOCType) core.ReputationScore {
	if iocType == "" {
		iocType = core.DetectIOCType(value)
	}
	key := iocKey(iocType, value)
	if cached, ok := s.cache.get(key); ok {
		return cached
	}

	score := s.computeReputation(key, iocType)
	s.cache.add(key, score)
	return score
}

func (s *Service) computeReputation(key string, iocType core.IOCType) core.ReputationScore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	score := core.ReputationScore{
		Value:    key,
		Score:    core.UnknownReputationScore,
		Category: core.CategoryUnknown,
		Checked:  s.now(),
	}

	if entry, ok := s.iocs[key]; ok {
		entry.mu.Lock()
		ioc := cloneIOC(entry.ioc)
		listedBy := s.enabledSourcesLocked(entry)
		entry.mu.Unlock()

		if ioc.Active && len(listedBy) > 0 {
			score.Score = maliciousScores[ioc.Severity]
			score.Category = core.CategoryMalicious
			score.Sources = listedBy
			score.Tags = ioc.Tags
			score.Context = []string{
				fmt.Sprintf("%s %s listed with %s severity", ioc.Type, ioc.Value, ioc.Severity),
				fmt.Sprintf("first seen %s", ioc.FirstSeen.UTC().Format(time.RFC3339)),
			}
			return score
		}
	}

	if host := hostOf(key, iocType); s.isAllowListed(host) {
		score.Score = BenignReputationScore
		score.Category = core.CategoryBenign
		score.Context = []string{fmt.Sprintf("%s is a well-known domain", host)}
	}
	return score
}

// enabledSourcesLocked returns the sources listing an entry that are
// currently enabled. ManualSource is always enabled. Caller holds s.mu and
// entry.mu.
func (s *Service) enabledSourcesLocked(entry *iocEntry) []string {
	var out []string
	for source := range entry.feeds {
		if source == ManualSource {
			out = append(out, source)
			continue
		}
		if f, ok := s.feeds[source]; ok && f.enabled {
			out = append(out, source)
		}
	}
	sort.Strings(out)
	return out
}

// hostOf returns the domain part of domain, url and email indicators
func hostOf(value string, iocType core.IOCType) string {
	switch iocType {
	case core.IOCTypeDomain:
		return value
	case core.IOCTypeEmail:
		if at := strings.LastIndex(value, "@"); at >= 0 {
			return strings.ToLower(value[at+1:])
		}
	case core.IOCTypeURL:
		rest := value
		if i := strings.Index(rest, "://"); i >= 0 {
			rest = rest[i+3:]
		}
		if i := strings.IndexAny(rest, "/?#"); i >= 0 {
			rest = rest[:i]
		}
		if i := strings.LastIndex(rest, "@"); i >= 0 {
			rest = rest[i+1:]
		}
		if i := strings.LastIndex(rest, ":"); i >= 0 {
			rest = rest[:i]
		}
		return strings.ToLower(rest)
	}
	return ""
}

// IsMalicious gives a yes/no verdict for a single value
func (s *Service) IsMalicious(value string) core.MaliciousVerdict {
	rep := s.LookupReputation(value, "")
	verdict := core.MaliciousVerdict{Malicious: rep.IsMalicious(), Score: rep.Score}
	switch rep.Category {
	case core.CategoryMalicious:
		verdict.Details = fmt.Sprintf("listed by %s", strings.Join(rep.Sources, ", "))
		if len(rep.Tags) > 0 {
			verdict.Details += fmt.Sprintf(" (%s)", strings.Join(rep.Tags, ", "))
		}
	case core.CategoryBenign:
		verdict.Details = "allow-listed"
	default:
		verdict.Details = "no reputation data"
	}
	return verdict
}

// InvalidateReputation drops the cached verdict for a value
func (s *Service) InvalidateReputation(value string) bool {
	return s.cache.remove(iocKey(core.DetectIOCType(value), value))
}

// PurgeReputationCache drops every cached verdict
func (s *Service) PurgeReputationCache() {
	s.cache.purge()
	s.logger.Infow("Reputation cache purged")
}

// CachedReputations returns the number of cached verdicts
func (s *Service) CachedReputations() int {
	return s.cache.len()
}

// invalidateLocked drops one cached verdict when feed-change invalidation is
// enabled
func (s *Service) invalidateLocked(key string) {
	if s.invalidate {
		s.cache.remove(key)
	}
}

// ScanResult is the outcome of scanning one event for indicators
type ScanResult struct {
	Reports  []core.IndicatorReport
	Findings []core.Finding
}

// ScanEvent extracts indicators from an event, scores each one and turns
// malicious indicators into threat_intel findings with a recorded hit
func (s *Service) ScanEvent(ctx context.Context, event *core.Event) ScanResult {
	var result ScanResult
	if event == nil {
		return result
	}
	for _, ind := range s.Extract(event.Message, event.Meta) {
		if ctx.Err() != nil {
			break
		}
		rep := s.LookupReputation(ind.Value, ind.Type)
		result.Reports = append(result.Reports, core.IndicatorReport{
			Indicator: ind,
			Score:     rep.Score,
			Category:  rep.Category,
		})
		if !rep.IsMalicious() {
			continue
		}
		s.RecordHit(ind.Value)
		result.Findings = append(result.Findings, core.Finding{
			ID:            uuid.New().String(),
			SignatureType: core.SignatureTypeThreatIntel,
			Severity:      severityForScore(rep.Score),
			EventID:       event.ID,
			MatchedText:   ind.Value,
			Description:   fmt.Sprintf("Known malicious %s listed by %s", ind.Type, strings.Join(rep.Sources, ", ")),
			Timestamp:     event.Timestamp,
		})
	}
	return result
}

// severityForScore inverts maliciousScores
func severityForScore(score int) core.Severity {
	switch {
	case score <= 0:
		return core.SeverityCritical
	case score <= 5:
		return core.SeverityHigh
	case score <= 10:
		return core.SeverityMedium
	case score <= 25:
		return core.SeverityLow
	default:
		return core.SeverityInfo
	}
}

func cloneIOC(ioc core.IOC) core.IOC {
	ioc.Tags = append([]string(nil), ioc.Tags...)
	return ioc
}

// mergeStrings returns the sorted union of a and b without empty entries
func mergeStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
