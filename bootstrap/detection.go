package bootstrap

import (
	"fmt"

	"logsentry/config"
	"logsentry/core"
	"logsentry/detect"
	"logsentry/threat"
	"logsentry/ueba"

	"go.uber.org/zap"
)

// InitSignatures builds the signature matcher from the built-in table and
// the optional signature pack
func InitSignatures(cfg *config.Config, sugar *zap.SugaredLogger) (*detect.SignatureMatcher, error) {
	var signatures []core.Signature
	if cfg.Signatures.IncludeDefaults || cfg.Signatures.File == "" {
		signatures = append(signatures, detect.DefaultSignatures()...)
	}
	if cfg.Signatures.File != "" {
		loaded, err := detect.LoadSignatures(cfg.Signatures.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load signatures: %w", err)
		}
		signatures = append(signatures, loaded...)
		sugar.Infow("Loaded signature pack", "file", cfg.Signatures.File, "signatures", len(loaded))
	}

	matcher, err := detect.NewSignatureMatcher(signatures, &detect.SignatureMatcherConfig{
		RegexTimeout: cfg.Engine.RegexTimeout,
		Logger:       sugar,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signature matcher: %w", err)
	}
	return matcher, nil
}

// InitRuleEngine creates the rule engine and loads the configured rule pack
func InitRuleEngine(cfg *config.Config, sugar *zap.SugaredLogger) (*detect.RuleEngine, error) {
	engine := detect.NewRuleEngine(&detect.RuleEngineConfig{
		MaxRecordsPerGroup: cfg.Rules.MaxRecordsPerGroup,
		RegexTimeout:       cfg.Engine.RegexTimeout,
		Logger:             sugar,
	})
	if cfg.Rules.File == "" {
		sugar.Info("No rule pack configured, starting with an empty rule set")
		return engine, nil
	}
	if _, err := detect.LoadRulePack(engine, cfg.Rules.File, cfg.Rules.Strict, sugar); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return engine, nil
}

// InitThreat creates the indicator intelligence service with its feeds and
// the geo lookup wrapper. A feeds file replaces the built-in feeds.
func InitThreat(cfg *config.Config, sugar *zap.SugaredLogger) (*threat.Service, error) {
	var feeds []threat.FeedDefinition
	if cfg.Threat.FeedsFile != "" {
		loaded, err := threat.LoadFeeds(cfg.Threat.FeedsFile)
		if err != nil {
			return nil, err
		}
		feeds = loaded
	}

	var geo threat.GeoLocator
	if cfg.Threat.Geo.Enabled {
		static, err := threat.NewStaticGeoLocator(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize geo table: %w", err)
		}
		geo, err = threat.NewResilientGeoLocator(static, threat.ResilientGeoConfig{
			Timeout:        cfg.Threat.Geo.Timeout,
			CircuitBreaker: cfg.Threat.Geo.CircuitBreaker,
			FallbackSize:   cfg.Threat.Geo.FallbackSize,
			Logger:         sugar,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize geo lookup: %w", err)
		}
	}

	svc, err := threat.NewService(&threat.Config{
		ReputationCacheSize:    cfg.Threat.CacheSize,
		ReputationCacheTTL:     cfg.Threat.CacheTTL,
		InvalidateOnFeedChange: cfg.Threat.InvalidateOnFeedChange,
		RelatedIOCLimit:        cfg.Threat.RelatedIOCLimit,
		BenignDomains:          cfg.Threat.BenignDomains,
		Feeds:                  feeds,
		Geo:                    geo,
		Logger:                 sugar,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize threat intelligence: %w", err)
	}
	return svc, nil
}

// InitBehavior creates the behavior engine and seeds the configured peer
// groups. locator may be nil.
func InitBehavior(cfg *config.Config, locator ueba.LocationResolver, sugar *zap.SugaredLogger) (*ueba.Engine, error) {
	u := cfg.UEBA
	engine := ueba.NewEngine(&ueba.Config{
		RingCapacity:           u.RingCapacity,
		AnomalyLogCapacity:     u.AnomalyLogCapacity,
		Alpha:                  u.Alpha,
		SigmaThreshold:         u.SigmaThreshold,
		MinSamples:             u.MinSamples,
		ImpossibleTravelWindow: u.ImpossibleTravelWindow,
		LocationLearnThreshold: u.LocationLearnThreshold,
		AuthWindow:             u.AuthWindow,
		AuthAlertThreshold:     u.AuthAlertThreshold,
		AuthEscalateThreshold:  u.AuthEscalateThreshold,
		VolumeWindow:           u.VolumeWindow,
		IdleDecayInterval:      u.IdleDecayInterval,
		Locator:                locator,
		Logger:                 sugar,
	})

	for _, pg := range u.PeerGroups {
		group := core.PeerGroup{
			Name:    pg.Name,
			Members: pg.Members,
			Baseline: core.PeerBaseline{
				CommonResources: pg.CommonResources,
				CommonLocations: pg.CommonLocations,
			},
		}
		if len(pg.WorkingHours) == 2 {
			group.Baseline.WorkingHours = core.WorkingHours{Start: pg.WorkingHours[0], End: pg.WorkingHours[1]}
		}
		created, err := engine.CreatePeerGroup(group)
		if err != nil {
			return nil, fmt.Errorf("peer group %q: %w", pg.Name, err)
		}
		sugar.Infow("Created peer group", "id", created.ID, "name", created.Name, "members", len(created.Members))
	}
	return engine, nil
}
