package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/ai/gemini"
	"github.com/spigell/jobmatch/internal/match"
	"github.com/spigell/jobmatch/internal/metrics"
	"github.com/spigell/jobmatch/internal/quota"
	"github.com/spigell/jobmatch/internal/scoring"
	"github.com/spigell/jobmatch/internal/secrets"
	"github.com/spigell/jobmatch/internal/skills"
	"github.com/spigell/jobmatch/internal/store"
	"github.com/spigell/jobmatch/internal/usage"
)

const (
	sinkSQLite   = "sqlite"
	sinkPostgres = "postgres"
	sinkLog      = "log"
)

// pipeline holds everything AnalyzeJobMatch needs plus the resources to
// release on exit.
type pipeline struct {
	pool         *pgxpool.Pool
	store        *store.Postgres
	tracker      *quota.Tracker
	recorder     *usage.Recorder
	sqlite       *usage.SQLiteSink
	redis        *redis.Client
	orchestrator *match.Orchestrator
	logger       *zap.Logger
}

func newPipeline(ctx context.Context, config *Config, reg prometheus.Registerer, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{logger: logger}

	pool, db, err := openStore(ctx, config.Database)
	if err != nil {
		return nil, err
	}
	p.pool, p.store = pool, db

	limits, err := quotaLimits(config.Quota)
	if err != nil {
		p.Close(ctx)
		return nil, err
	}
	p.tracker = quota.New(quota.WithLimits(limits))

	adjuster, err := newAdjuster(ctx, config.AI, logger)
	if err != nil {
		p.Close(ctx)
		return nil, err
	}

	scorer, err := newScorer(config.Scoring)
	if err != nil {
		p.Close(ctx)
		return nil, err
	}

	sink, err := p.usageSink(config.Usage)
	if err != nil {
		p.Close(ctx)
		return nil, err
	}
	p.recorder = usage.NewRecorder(sink, config.Usage.Buffer, logger)

	var events match.EventPublisher
	if config.Redis != nil && strings.TrimSpace(config.Redis.URL) != "" {
		rdb, err := store.NewRedisClient(ctx, config.Redis.URL)
		if err != nil {
			p.Close(ctx)
			return nil, err
		}
		p.redis = rdb
		events = store.NewPublisher(rdb)
	}

	p.orchestrator, err = match.NewOrchestrator(match.Deps{
		Store:    p.store,
		Quota:    p.tracker,
		Adjuster: adjuster,
		Scorer:   scorer,
		Usage:    p.recorder,
		Events:   events,
		Metrics:  metrics.New(reg),
		Logger:   logger,
	})
	if err != nil {
		p.Close(ctx)
		return nil, err
	}

	return p, nil
}

// Close flushes pending usage entries and releases connections.
func (p *pipeline) Close(ctx context.Context) {
	if p.recorder != nil {
		if err := p.recorder.Close(ctx); err != nil {
			p.logger.Warn("flushing usage entries", zap.Error(err))
		}
	}
	if p.sqlite != nil {
		if err := p.sqlite.Close(); err != nil {
			p.logger.Warn("closing usage database", zap.Error(err))
		}
	}
	if p.redis != nil {
		p.redis.Close()
	}
	if p.pool != nil {
		p.pool.Close()
	}
}

func openStore(ctx context.Context, cfg *DatabaseConfig) (*pgxpool.Pool, *store.Postgres, error) {
	url, err := databaseURL(cfg)
	if err != nil {
		return nil, nil, err
	}

	pool, err := store.NewPostgresPool(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	db := store.NewPostgres(pool)
	if cfg.Migrate {
		if err := db.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	return pool, db, nil
}

func databaseURL(cfg *DatabaseConfig) (string, error) {
	url, err := secrets.Load(secrets.Source{
		Name:  "database url",
		Value: cfg.URL,
		File:  cfg.URLFile,
	})
	if err != nil {
		return "", fmt.Errorf("%w (set database.url, database.url-file or JOBMATCH_DATABASE_URL)", err)
	}
	return url, nil
}

// quotaLimits validates configured ceilings. Operations left out keep their
// default limits.
func quotaLimits(cfg *QuotaConfig) (map[quota.Operation]int, error) {
	limits := make(map[quota.Operation]int)
	if cfg == nil {
		return limits, nil
	}

	for name, limit := range cfg.Limits {
		op := quota.Operation(strings.TrimSpace(strings.ToLower(name)))
		if _, ok := quota.DefaultLimits[op]; !ok {
			return nil, fmt.Errorf("unknown quota operation %q", name)
		}
		if limit <= 0 {
			return nil, fmt.Errorf("quota limit of %s must be positive, got %d", op, limit)
		}
		limits[op] = limit
	}

	return limits, nil
}

func newAdjuster(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (ai.Adjuster, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != gemini.Provider {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Env:   cfg.Gemini.APIKeyEnv,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.With(
		zap.String("provider", gemini.Provider),
		zap.String("model", cfg.Gemini.Model),
	)

	generator, err := gemini.NewGenerator(ctx, gemini.Options{
		APIKey:            apiKey,
		Model:             cfg.Gemini.Model,
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.Gemini.MaxRetries,
		RequestsPerSecond: cfg.Gemini.RequestsPerSecond,
	}, genLogger)
	if err != nil {
		return nil, err
	}

	return gemini.NewAdjuster(generator, cfg.Gemini.MaxLogLength, logger), nil
}

func newScorer(cfg *ScoringConfig) (*scoring.Scorer, error) {
	if cfg == nil || strings.TrimSpace(cfg.VocabularyFile) == "" {
		return scoring.NewScorer(nil), nil
	}

	vocab, err := skills.LoadVocabularyFile(cfg.VocabularyFile)
	if err != nil {
		return nil, err
	}
	return scoring.NewScorer(vocab), nil
}

// usageSink builds the sinks named in usage.sink (comma separated).
func (p *pipeline) usageSink(cfg *UsageConfig) (usage.Sink, error) {
	names, err := sinkNames(cfg.Sink)
	if err != nil {
		return nil, err
	}

	var sinks usage.Multi
	for _, name := range names {
		switch name {
		case sinkSQLite:
			sqlite, err := usage.OpenSQLite(cfg.SQLitePath)
			if err != nil {
				return nil, err
			}
			p.sqlite = sqlite
			sinks = append(sinks, sqlite)
		case sinkPostgres:
			sinks = append(sinks, usage.NewPostgresSink(p.pool))
		case sinkLog:
			sinks = append(sinks, usage.LogSink{Logger: p.logger.Named("usage")})
		}
	}

	return sinks, nil
}

func sinkNames(raw string) ([]string, error) {
	seen := make(map[string]bool)
	names := make([]string, 0)

	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(strings.ToLower(part))
		if name == "" || seen[name] {
			continue
		}
		switch name {
		case sinkSQLite, sinkPostgres, sinkLog:
		default:
			return nil, fmt.Errorf("unknown usage sink %q (expected sqlite, postgres or log)", part)
		}
		seen[name] = true
		names = append(names, name)
	}

	if len(names) == 0 {
		return nil, errors.New("at least one usage sink is required")
	}
	return names, nil
}

// summarizer returns the usage store that backs the usage command.
func summarizer(ctx context.Context, config *Config) (usage.Summarizer, func(), error) {
	names, err := sinkNames(config.Usage.Sink)
	if err != nil {
		return nil, nil, err
	}

	for _, name := range names {
		switch name {
		case sinkSQLite:
			sqlite, err := usage.OpenSQLite(config.Usage.SQLitePath)
			if err != nil {
				return nil, nil, err
			}
			return sqlite, func() { sqlite.Close() }, nil
		case sinkPostgres:
			url, err := databaseURL(config.Database)
			if err != nil {
				return nil, nil, err
			}
			pool, err := store.NewPostgresPool(ctx, url)
			if err != nil {
				return nil, nil, err
			}
			return usage.NewPostgresSink(pool), pool.Close, nil
		}
	}

	return nil, nil, errors.New("usage summaries need the sqlite or postgres sink")
}
