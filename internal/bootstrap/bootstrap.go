package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/phrazzld/scry-pipeline/internal/analysis"
	"github.com/phrazzld/scry-pipeline/internal/auth"
	"github.com/phrazzld/scry-pipeline/internal/cache"
	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/gateway"
	"github.com/phrazzld/scry-pipeline/internal/generation"
	"github.com/phrazzld/scry-pipeline/internal/pipeline"
	"github.com/phrazzld/scry-pipeline/internal/platform/postgres"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/quality"
	"github.com/phrazzld/scry-pipeline/internal/segment"
	"github.com/phrazzld/scry-pipeline/internal/sink"
	"github.com/phrazzld/scry-pipeline/internal/task"
)

// Options select the optional parts of the graph.
type Options struct {
	// Exports builds the card sink, task store and export runner. The
	// database is only opened when this is set.
	Exports bool
	// Migrate applies pending migrations after opening the database.
	Migrate bool
}

// App holds the wired application dependencies.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB       *sql.DB
	Cache    *cache.Layer
	Gateway  *gateway.Gateway
	Pipeline *pipeline.Orchestrator

	// The export fields are nil unless Options.Exports was set.
	Sink         sink.CardSink
	Exports      *task.ExportTaskFactory
	Runner       *task.TaskRunner
	ExportEvents *task.ExportEventHandler

	// Tokens is nil when no JWT secret is configured.
	Tokens auth.TokenService
}

// Build wires an App. On error everything built so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	app = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	app.Cache, err = newCache(ctx, cfg.Cache, logger)
	if err != nil {
		return app, err
	}

	routes, err := providerRoutes(ctx, cfg.Providers, logger)
	if err != nil {
		return app, err
	}
	app.Gateway, err = gateway.New(routes, app.Cache, gateway.Config{
		Order:      cfg.Providers.Order,
		RetryDelay: cfg.Providers.RetryDelay,
	}, logger)
	if err != nil {
		return app, fmt.Errorf("failed to create provider gateway: %w", err)
	}
	logger.Info("provider gateway initialized", "providers", app.Gateway.Providers())

	app.Pipeline, err = newPipeline(cfg, app.Gateway, logger)
	if err != nil {
		return app, err
	}

	if cfg.Auth.JWTSecret != "" {
		app.Tokens, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			return app, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		logger.Info("JWT authentication enabled", "token_lifetime", cfg.Auth.TokenLifetime)
	}

	if opts.Exports {
		if err = app.buildExports(ctx, opts.Migrate); err != nil {
			return app, err
		}
	}

	logger.Info("application initialized")
	return app, nil
}

func newCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*cache.Layer, error) {
	opts := cache.Options{
		EmbeddingEntries: cfg.EmbeddingEntries,
		ResponseEntries:  cfg.ResponseEntries,
		ModelEntries:     cfg.ModelEntries,
		ModelListTTL:     cfg.ModelListTTL,
		RemoteTTL:        cfg.RedisTTL,
	}
	if cfg.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		remote, err := cache.NewRedisStore(pingCtx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis cache: %w", err)
		}
		opts.Remote = remote
		logger.Info("redis cache tier enabled")
	}
	layer, err := cache.New(opts, logger)
	if err != nil {
		if opts.Remote != nil {
			_ = opts.Remote.Close()
		}
		return nil, fmt.Errorf("failed to create cache layer: %w", err)
	}
	return layer, nil
}

func newPipeline(cfg *config.Config, gw *gateway.Gateway, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	pack, err := loadPrompts(cfg.Prompts.Path)
	if err != nil {
		return nil, err
	}

	defaults, err := DefaultSelection(cfg.Models)
	if err != nil {
		return nil, err
	}

	analyzer, err := analysis.New(gw, pack, cfg.Pipeline.AnalysisCharBudget, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis stage: %w", err)
	}
	segmenter, err := segment.New(gw, pack, segment.Options{
		Mode:               domain.SegmentMode(cfg.Segmentation.Mode),
		AutoThresholdChars: cfg.Segmentation.AutoThresholdChars,
		MergeThreshold:     cfg.Segmentation.MergeThreshold,
		MinSegmentChars:    cfg.Segmentation.MinSegmentChars,
		MaxSegments:        cfg.Pipeline.MaxSegments,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmentation engine: %w", err)
	}
	generator, err := generation.New(gw, pack, generation.Options{
		FallbackExcerptChars: cfg.Pipeline.FallbackExcerpt,
		EvidenceMaxWords:     cfg.Quality.EvidenceMaxWords,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation stage: %w", err)
	}
	gate, err := quality.New(gw, pack, QualityOptions(cfg.Quality, cfg.Pipeline.MaxConcurrency), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create quality pipeline: %w", err)
	}

	orch, err := pipeline.New(pipeline.Stages{
		Analyzer:  analyzer,
		Segmenter: segmenter,
		Generator: generator,
		Gate:      gate,
	}, pipeline.Options{
		MaxConcurrency:  cfg.Pipeline.MaxConcurrency,
		Defaults:        defaults,
		DefaultCardType: domain.CardType(cfg.Pipeline.DefaultCardType),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return orch, nil
}

func loadPrompts(path string) (*prompts.Pack, error) {
	if path == "" {
		pack, err := prompts.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load default prompts: %w", err)
		}
		return pack, nil
	}
	pack, err := prompts.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts from %s: %w", path, err)
	}
	return pack, nil
}

// DefaultSelection parses the configured per-role model refs. An empty
// embedding ref leaves embeddings disabled.
func DefaultSelection(cfg config.ModelsConfig) (domain.ProviderSelection, error) {
	var sel domain.ProviderSelection
	for _, f := range []struct {
		key   string
		value string
		dst   *domain.ModelRef
	}{
		{"models.generation", cfg.Generation, &sel.Generation},
		{"models.analysis", cfg.Analysis, &sel.Analysis},
		{"models.validation", cfg.Validation, &sel.Validation},
		{"models.embedding", cfg.Embedding, &sel.Embedding},
	} {
		if f.value == "" {
			continue
		}
		ref, err := domain.ParseModelRef(f.value)
		if err != nil {
			return domain.ProviderSelection{}, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = ref
	}
	return sel, nil
}

// QualityOptions maps configured thresholds onto gate options.
func QualityOptions(cfg config.QualityConfig, concurrency int) quality.Options {
	opts := quality.DefaultOptions()
	opts.AcceptThreshold = cfg.AcceptThreshold
	opts.RewriteFloor = cfg.RewriteFloor
	opts.RelevanceThreshold = cfg.RelevanceThreshold
	opts.KeywordOverlapThreshold = cfg.KeywordOverlapThreshold
	opts.AnswerMinWords = cfg.AnswerMinWords
	opts.AnswerMaxWords = cfg.AnswerMaxWords
	opts.EvidenceMinWords = cfg.EvidenceMinWords
	opts.EvidenceMaxWords = cfg.EvidenceMaxWords
	opts.LLMValidation = cfg.LLMValidation
	if concurrency > 0 {
		opts.Concurrency = concurrency
	}
	return opts
}

func (a *App) buildExports(ctx context.Context, migrate bool) error {
	cfg, logger := a.Config, a.Logger
	renderer := sink.NewRenderer()

	var store task.TaskStore
	if cfg.Database.URL != "" {
		db, err := OpenDatabase(ctx, cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		a.DB = db
		if migrate {
			if err := postgres.Migrate(ctx, db, "up", logger); err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
		}
		pgSink, err := postgres.NewPostgresCardSink(db, renderer, logger)
		if err != nil {
			return fmt.Errorf("failed to create card sink: %w", err)
		}
		a.Sink = pgSink
		store = postgres.NewPostgresTaskStore(db)
	} else {
		logger.Warn("no database configured, exported cards are only logged and tasks live in memory")
		a.Sink = sink.NewLogSink(renderer, logger)
		store = task.NewMemoryStore()
	}

	var err error
	a.Exports, err = task.NewExportTaskFactory(a.Sink, cfg.Export.DefaultDeck, logger)
	if err != nil {
		return fmt.Errorf("failed to create export task factory: %w", err)
	}

	runnerCfg := task.DefaultTaskRunnerConfig()
	runnerCfg.WorkerCount = cfg.Export.WorkerCount
	runnerCfg.QueueSize = cfg.Export.QueueSize
	a.Runner = task.NewTaskRunner(store, a.Exports, runnerCfg, logger)

	if cfg.Export.AutoExport {
		a.ExportEvents, err = task.NewExportEventHandler(a.Exports, a.Runner, cfg.Export.DefaultDeck, cfg.Export.AutoTags, logger)
		if err != nil {
			return fmt.Errorf("failed to create export event handler: %w", err)
		}
	}
	return nil
}

// OpenDatabase opens and pings a Postgres pool through the pgx driver.
func OpenDatabase(ctx context.Context, url string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")
	return db, nil
}

// Close releases everything Build acquired. It is safe to call on a
// partially built App and more than once.
func (a *App) Close() {
	if a.Runner != nil {
		a.Runner.Stop()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Error("error closing cache", "error", err)
		}
		a.Cache = nil
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error("error closing database connection", "error", err)
		}
		a.DB = nil
	}
}
