package threat

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"logsentry/core"

	"gopkg.in/yaml.v3"
)

// FeedDefinition describes a deny-list feed and its seed indicators
type FeedDefinition struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	Indicators  []core.IOC `json:"indicators" yaml:"indicators"`
}

// FeedStatus is the read-only view of a registered feed
type FeedStatus struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Indicators  int    `json:"indicators"`
}

// feed is a registered deny-list. values holds normalized IOC keys.
type feed struct {
	name        string
	description string
	enabled     bool
	values      map[string]struct{}
}

// RegisterFeed adds a feed and stores its indicators. Names are unique.
func (s *Service) RegisterFeed(def FeedDefinition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" || name == ManualSource {
		return core.NewValidationError("feed", fmt.Sprintf("invalid feed name %q", def.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.feeds[name]; exists {
		return core.NewValidationError("feed", fmt.Sprintf("feed %q already registered", name))
	}
	f := &feed{
		name:        name,
		description: def.Description,
		enabled:     def.Enabled,
		values:      make(map[string]struct{}, len(def.Indicators)),
	}
	s.feeds[name] = f
	s.feedOrder = append(s.feedOrder, name)

	for i, ioc := range def.Indicators {
		stored, err := s.addIOCLocked(ioc, name)
		if err != nil {
			s.logger.Warnw("Skipping invalid feed indicator", "feed", name, "index", i, "value", ioc.Value, "error", err)
			continue
		}
		key := iocKey(stored.Type, stored.Value)
		f.values[key] = struct{}{}
		s.invalidateLocked(key)
	}

	s.logger.Infow("Registered threat feed", "feed", name, "enabled", f.enabled, "indicators", len(f.values))
	return nil
}

// EnableFeed turns a feed's deny-list on
func (s *Service) EnableFeed(name string) error {
	return s.setFeedEnabled(name, true)
}

// DisableFeed turns a feed's deny-list off. Its IOCs stay stored.
func (s *Service) DisableFeed(name string) error {
	return s.setFeedEnabled(name, false)
}

func (s *Service) setFeedEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[name]
	if !ok {
		return fmt.Errorf("feed %s: %w", name, core.ErrNotFound)
	}
	if f.enabled == enabled {
		return nil
	}
	f.enabled = enabled
	for key := range f.values {
		s.invalidateLocked(key)
	}
	s.logger.Infow("Threat feed toggled", "feed", name, "enabled", enabled)
	return nil
}

// AddFeedIndicators stores more indicators under an existing feed and
// returns how many were accepted
func (s *Service) AddFeedIndicators(name string, iocs []core.IOC) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[name]
	if !ok {
		return 0, fmt.Errorf("feed %s: %w", name, core.ErrNotFound)
	}
	added := 0
	for i, ioc := range iocs {
		stored, err := s.addIOCLocked(ioc, name)
		if err != nil {
			s.logger.Warnw("Skipping invalid feed indicator", "feed", name, "index", i, "value", ioc.Value, "error", err)
			continue
		}
		key := iocKey(stored.Type, stored.Value)
		f.values[key] = struct{}{}
		s.invalidateLocked(key)
		added++
	}
	return added, nil
}

// ListFeeds returns feed status in registration order
func (s *Service) ListFeeds() []FeedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FeedStatus, 0, len(s.feedOrder))
	for _, name := range s.feedOrder {
		f := s.feeds[name]
		out = append(out, FeedStatus{
			Name:        f.name,
			Description: f.description,
			Enabled:     f.enabled,
			Indicators:  len(f.values),
		})
	}
	return out
}

// DefaultFeeds returns the built-in deny-lists
func DefaultFeeds() []FeedDefinition {
	return []FeedDefinition{
		{
			Name:        "tor-exit-nodes",
			Description: "Known Tor exit relays",
			Enabled:     true,
			Indicators: []core.IOC{
				{Type: core.IOCTypeIP, Value: "185.220.101.1", Severity: core.SeverityHigh, Tags: []string{"tor-exit"}, Confidence: 0.9},
				{Type: core.IOCTypeIP, Value: "185.220.101.45", Severity: core.SeverityHigh, Tags: []string{"tor-exit"}, Confidence: 0.9},
				{Type: core.IOCTypeIP, Value: "185.220.102.8", Severity: core.SeverityMedium, Tags: []string{"tor-exit"}, Confidence: 0.8},
			},
		},
		{
			Name:        "malware-infrastructure",
			Description: "Command and control servers and malware distribution points",
			Enabled:     true,
			Indicators: []core.IOC{
				{Type: core.IOCTypeIP, Value: "45.155.205.233", Severity: core.SeverityCritical, Tags: []string{"c2"}, Confidence: 0.95},
				{Type: core.IOCTypeDomain, Value: "malicious.com", Severity: core.SeverityHigh, Tags: []string{"malware"}, Confidence: 0.85},
				{Type: core.IOCTypeDomain, Value: "evil-c2.net", Severity: core.SeverityCritical, Tags: []string{"c2"}, Confidence: 0.9},
				{Type: core.IOCTypeMD5, Value: "44d88612fea8a8f36de82e1278abb02f", Severity: core.SeverityHigh, Tags: []string{"malware", "eicar"}, Confidence: 1},
				{Type: core.IOCTypeSHA256, Value: "275a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f", Severity: core.SeverityHigh, Tags: []string{"malware", "eicar"}, Confidence: 1},
			},
		},
		{
			Name:        "phishing-domains",
			Description: "Credential phishing sites",
			Enabled:     true,
			Indicators: []core.IOC{
				{Type: core.IOCTypeDomain, Value: "secure-login-verify.com", Severity: core.SeverityMedium, Tags: []string{"phishing"}, Confidence: 0.7},
				{Type: core.IOCTypeEmail, Value: "billing@paypa1-support.com", Severity: core.SeverityMedium, Tags: []string{"phishing"}, Confidence: 0.7},
			},
		},
		{
			Name:        "scanner-ips",
			Description: "Mass internet scanners",
			Enabled:     false,
			Indicators: []core.IOC{
				{Type: core.IOCTypeIP, Value: "198.51.100.23", Severity: core.SeverityLow, Tags: []string{"scanner"}, Confidence: 0.6},
			},
		},
	}
}

// feedFile is the on-disk format of a feed seed file
type feedFile struct {
	Feeds []FeedDefinition `yaml:"feeds"`
}

// LoadFeeds reads feed definitions from a YAML file. A .csv file is read as
// a single indicator list (see LoadCSVFeed).
func LoadFeeds(filename string) ([]FeedDefinition, error) {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		def, err := LoadCSVFeed(filename)
		if err != nil {
			return nil, err
		}
		return []FeedDefinition{def}, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed file %s: %w", filename, err)
	}
	var file feedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feed file %s: %w", filename, err)
	}
	return file.Feeds, nil
}
