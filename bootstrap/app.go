package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"logsentry/config"
	"logsentry/core"
	"logsentry/detect"
	"logsentry/ingest"
	"logsentry/pipeline"
	"logsentry/threat"
	"logsentry/ueba"
	"logsentry/util/goroutine"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds every engine, built once and shared by the orchestrator and the
// administrative surface.
type App struct {
	Config *config.Config
	Sugar  *zap.SugaredLogger

	Signatures   *detect.SignatureMatcher
	Rules        *detect.RuleEngine
	Threat       *threat.Service
	Behavior     *ueba.Engine
	Normalizer   *ingest.Normalizer
	Orchestrator *pipeline.Orchestrator
	Results      *pipeline.MemorySink

	redis  *redis.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp builds every component from cfg. A nil sugar logs nothing.
func NewApp(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	app := &App{Config: cfg, Sugar: sugar}

	var err error
	if app.Signatures, err = InitSignatures(cfg, sugar); err != nil {
		return nil, err
	}
	if app.Rules, err = InitRuleEngine(cfg, sugar); err != nil {
		return nil, err
	}
	if app.Threat, err = InitThreat(cfg, sugar); err != nil {
		return nil, err
	}
	if app.Behavior, err = InitBehavior(cfg, app.Threat, sugar); err != nil {
		return nil, err
	}
	if app.redis, err = InitRedis(ctx, cfg, sugar); err != nil {
		return nil, err
	}

	app.Normalizer = ingest.NewNormalizer(&ingest.NormalizerConfig{Logger: sugar})
	app.Results = pipeline.NewMemorySink(pipeline.DefaultMemorySinkCapacity)
	sinks, notifier := InitCollaborators(cfg, app.redis, app.Results, sugar)

	app.Orchestrator = pipeline.NewOrchestrator(&pipeline.Config{
		Signatures:        app.Signatures,
		Rules:             app.Rules,
		Threat:            app.Threat,
		Behavior:          app.Behavior,
		Sinks:             sinks,
		Notifier:          notifier,
		NotifyMinSeverity: core.Severity(cfg.Engine.NotifyMinSeverity),
		WorkerCount:       cfg.Engine.WorkerCount,
		RateLimit:         cfg.Engine.RateLimit,
		RateBurst:         cfg.Engine.RateBurst,
		Logger:            sugar,
	})

	sugar.Infow("Detection engines initialized",
		"signatures", len(app.Signatures.Signatures()),
		"rules", len(app.Rules.ListRules()),
		"feeds", len(app.Threat.ListFeeds()),
		"peer_groups", len(app.Behavior.ListPeerGroups()))
	return app, nil
}

// Start launches background maintenance: idle risk decay when configured
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer goroutine.Recover("ueba-decay", a.Sugar)
		a.Behavior.Run(ctx)
	}()
}

// Shutdown stops background work and closes the Redis connection
func (a *App) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Sugar.Warnw("Failed to close Redis client", "error", err)
		}
	}
	_ = a.Sugar.Sync()
}
