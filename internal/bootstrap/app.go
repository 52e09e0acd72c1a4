package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-redis/redis/v8"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"habitat-backend/internal/analyses"
	"habitat-backend/internal/images"
	"habitat-backend/internal/llm"
	"habitat-backend/internal/llm/gemini"
	"habitat-backend/internal/llm/openai"
	"habitat-backend/internal/queue"
	"habitat-backend/internal/schema"
	"habitat-backend/internal/services/health"
	"habitat-backend/internal/shared/config"
	"habitat-backend/internal/shared/server"
	"habitat-backend/internal/shared/storage/db"
	"habitat-backend/internal/shared/telemetry"
)

const (
	googleScope = "https://www.googleapis.com/auth/cloud-platform"
	reaperSlack = 30 * time.Second
)

// Role selects which process the dependencies are built for.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// App holds shared dependencies for one process.
type App struct {
	Config       config.Config
	Role         Role
	DB           *sql.DB
	Redis        *redis.Client
	Store        analyses.Store
	Schemas      schema.Source
	Linker       images.Linker
	LLM          llm.Client
	Queue        queue.Client
	Pool         *analyses.Pool
	Orchestrator *analyses.Orchestrator
	Reaper       *analyses.Reaper
	Health       *health.Service
	Handler      *analyses.Handler
	Router       http.Handler

	awsCfg *aws.Config
}

// Build wires every dependency named by cfg. The API role also gets a
// router and a reaper; the worker role only runs jobs.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	app := &App{Config: cfg, Role: role, Health: health.NewService()}

	if err := app.buildDB(ctx); err != nil {
		return nil, err
	}
	if err := app.buildStore(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildSchemas(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildLinker(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildLLM(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildQueue(ctx); err != nil {
		app.Close()
		return nil, err
	}

	app.Orchestrator = &analyses.Orchestrator{
		Store:   app.Store,
		Schemas: app.Schemas,
		Linker:  app.Linker,
		LLM:     app.LLM,
		Policy: llm.Policy{
			Timeout:         cfg.LLMTimeout,
			RetryBackoff:    cfg.LLMRetryBackoff,
			MaxRequestBytes: cfg.LLMMaxRequestBytes,
		},
		Grace: cfg.LLMGrace,
	}

	limit := cfg.MaxInFlight
	if role == RoleWorker {
		limit = cfg.WorkerConcurrency
	}
	app.Pool = analyses.NewPool(limit, app.Orchestrator.Run)

	var dispatcher analyses.Dispatcher = app.Pool
	if app.Queue != nil {
		dispatcher = analyses.NewQueueDispatcher(app.Queue)
	}
	app.Orchestrator.Dispatch = dispatcher

	if role == RoleAPI {
		app.Reaper = &analyses.Reaper{
			Store:             app.Store,
			Dispatch:          dispatcher,
			Interval:          cfg.ReaperInterval,
			ProcessingTimeout: cfg.LLMTimeout + cfg.LLMGrace + reaperSlack,
			PendingAfter:      cfg.PendingRedispatchAfter,
		}
		app.Handler = analyses.NewHandler(app.Orchestrator, app.Schemas, cfg.PollMinInterval)
		app.Router = server.NewHandler(server.RouterDeps{
			Config:   cfg,
			Health:   app.Health,
			Features: []server.RouteRegistrar{app.Handler},
		})
	}

	telemetry.Info("bootstrap.ready", map[string]any{
		"role":          string(role),
		"env":           cfg.Env,
		"store":         cfg.StoreBackend,
		"schema_source": cfg.SchemaSource,
		"llm_provider":  cfg.LLMProvider,
		"llm_model":     cfg.LLMModel,
		"queue":         cfg.QueueBackend,
		"max_in_flight": limit,
	})
	return app, nil
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func (a *App) needsDB() bool {
	return a.Config.StoreBackend == "postgres" || a.Config.SchemaSource == "postgres"
}

func (a *App) buildDB(ctx context.Context) error {
	if !a.needsDB() {
		return nil
	}
	if strings.TrimSpace(a.Config.DatabaseURL) == "" {
		if isDevLike(a.Config.Env) {
			telemetry.Warn("bootstrap.db_missing", map[string]any{"fallback": "memory"})
			a.fallbackToMemory()
			return nil
		}
		return fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.DefaultServerOptions()
	if a.Role == RoleWorker {
		opts = db.DefaultWorkerOptions(a.Config.WorkerConcurrency)
	}
	sqlDB, err := db.Connect(ctx, a.Config.DatabaseURL, db.OptionsFromEnv(opts))
	if err != nil {
		if isDevLike(a.Config.Env) {
			telemetry.Warn("bootstrap.db_unavailable", map[string]any{"error": err.Error(), "fallback": "memory"})
			a.fallbackToMemory()
			return nil
		}
		return err
	}
	if a.Role == RoleAPI {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	a.DB = sqlDB
	a.Health.Register("database", sqlDB.PingContext)
	return nil
}

func (a *App) fallbackToMemory() {
	if a.Config.StoreBackend == "postgres" {
		a.Config.StoreBackend = "memory"
	}
	if a.Config.SchemaSource == "postgres" {
		a.Config.SchemaSource = "static"
	}
}

func (a *App) buildStore(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case "postgres":
		a.Store = &analyses.PGStore{DB: a.DB}
	case "redis":
		if strings.TrimSpace(a.Config.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required for STORE_BACKEND=redis")
		}
		store, err := analyses.NewRedisStore(ctx, a.Config.RedisURL)
		if err != nil {
			return err
		}
		a.Redis = store.Client
		a.Store = store
		a.Health.Register("redis", func(ctx context.Context) error {
			return store.Client.Ping(ctx).Err()
		})
	default:
		if a.Role == RoleWorker {
			telemetry.Warn("bootstrap.memory_store_in_worker", map[string]any{
				"hint": "the worker cannot see jobs created by the API process",
			})
		}
		a.Store = analyses.NewMemoryStore()
	}
	return nil
}

func (a *App) buildSchemas() error {
	var source schema.Source
	switch a.Config.SchemaSource {
	case "file":
		if strings.TrimSpace(a.Config.SchemaFile) == "" {
			return fmt.Errorf("SCHEMA_FILE is required for SCHEMA_SOURCE=file")
		}
		source = schema.NewCachedSource(schema.NewFileSource(a.Config.SchemaFile), a.Config.SchemaCacheTTL)
	case "postgres":
		source = schema.NewCachedSource(schema.NewPGSource(a.DB), a.Config.SchemaCacheTTL)
	default:
		source = schema.NewStaticSource(nil)
	}
	a.Schemas = source
	a.Health.Register("schema", func(ctx context.Context) error {
		_, err := source.Current(ctx)
		return err
	})
	return nil
}

func (a *App) buildLinker(ctx context.Context) error {
	var presigner images.Linker
	if bucket := strings.TrimSpace(a.Config.ImageS3Bucket); bucket != "" {
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return err
		}
		presigner = images.NewS3PresignerFromConfig(awsCfg, bucket, a.Config.ImagePresignTTL)
	}
	router, err := images.NewRouter(a.Config.ImageBaseURL, presigner)
	if err != nil {
		return err
	}
	a.Linker = router
	return nil
}

func (a *App) buildLLM(ctx context.Context) error {
	cfg := a.Config
	var tokens oauth2.TokenSource
	if cfg.LLMAuth == "google" {
		ts, err := google.DefaultTokenSource(ctx, googleScope)
		if err != nil {
			return fmt.Errorf("google credentials: %w", err)
		}
		tokens = ts
	}

	var (
		client llm.Client
		err    error
	)
	switch cfg.LLMProvider {
	case "gemini":
		client, err = gemini.NewClient(gemini.Options{
			Model:            cfg.LLMModel,
			APIKey:           cfg.GeminiAPIKey,
			TokenSource:      tokens,
			MaxResponseBytes: cfg.LLMMaxResponseBytes,
		})
	case "openai":
		if tokens == nil {
			tokens = openai.StaticKey(cfg.OpenAIAPIKey)
		}
		client, err = openai.NewClient(openai.Options{
			Model:            cfg.LLMModel,
			BaseURL:          cfg.LLMBaseURL,
			TokenSource:      tokens,
			MaxResponseBytes: cfg.LLMMaxResponseBytes,
		})
	default:
		err = fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.llm_unconfigured", map[string]any{"provider": cfg.LLMProvider, "error": err.Error()})
			a.LLM = llm.PlaceholderClient{}
			return nil
		}
		return err
	}
	a.LLM = client
	return nil
}

func (a *App) buildQueue(ctx context.Context) error {
	if a.Config.QueueBackend != "sqs" {
		return nil
	}
	if strings.TrimSpace(a.Config.SQSQueueURL) == "" {
		return fmt.Errorf("SQS_QUEUE_URL is required for QUEUE_BACKEND=sqs")
	}
	awsCfg, err := a.aws(ctx)
	if err != nil {
		return err
	}
	client, err := queue.NewSQSClient(awsCfg, a.Config.SQSQueueURL)
	if err != nil {
		return err
	}
	a.Queue = client
	return nil
}

// AWS returns the shared AWS configuration, loading it on first use.
func (a *App) AWS(ctx context.Context) (aws.Config, error) {
	return a.aws(ctx)
}

func (a *App) aws(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.Config.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	a.awsCfg = &cfg
	return cfg, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
