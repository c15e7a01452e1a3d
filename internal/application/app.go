package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/halcyonai/halcyon/gateway/internal/domain/pipeline"
	"github.com/halcyonai/halcyon/gateway/internal/domain/routing"
	"github.com/halcyonai/halcyon/gateway/internal/domain/toolloop"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/config"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/httpclient"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm"
	_ "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm/ollama" // register ollama provider factory
	_ "github.com/halcyonai/halcyon/gateway/internal/infrastructure/llm/openai" // register openai provider factory
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/persistence"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/redisstore"
	httpserver "github.com/halcyonai/halcyon/gateway/internal/interfaces/http"
	"github.com/halcyonai/halcyon/gateway/internal/service/drive"
	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
	"github.com/halcyonai/halcyon/gateway/internal/service/telemetry"
)

// Version is reported by /health and the version command.
const Version = "0.3.0"

// App is the dependency-injection container wiring storage, engines,
// providers, the pipeline and the HTTP server.
type App struct {
	config *config.Config
	logger *zap.Logger

	db          *gorm.DB
	redisClient *redis.Client

	monitor    *monitoring.Monitor
	httpClient *httpclient.Client

	intentEngine    *intent.Engine
	feelingEngine   *feeling.Engine
	memoryEngine    *memory.Engine
	driveEngine     *drive.Engine
	policyEngine    *policy.Engine
	telemetryEngine *telemetry.Engine

	limiter redisstore.Limiter
	cache   redisstore.CacheStore
	queue   *redisstore.Queue
	worker  *redisstore.Worker

	providers map[string]llm.Provider
	failover  *llm.Failover
	routing   *routing.Policy

	pipeline   *pipeline.Pipeline
	httpServer *httpserver.Server

	workerCancel context.CancelFunc
}

// NewApp builds the application.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config:     cfg,
		logger:     logger,
		monitor:    monitoring.NewMonitor(logger),
		httpClient: httpclient.New(cfg.Security.SharedSecret, logger),
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := app.initEngines(); err != nil {
		return nil, fmt.Errorf("init engines: %w", err)
	}
	if err := app.initProviders(); err != nil {
		return nil, fmt.Errorf("init providers: %w", err)
	}
	app.initPipeline()
	app.initServer()

	return app, nil
}

// initStorage connects the SQL trait/episode store and the shared Redis
// store. Either may be absent; in-process fallbacks keep the gateway up.
func (app *App) initStorage() error {
	app.logger.Info("Initializing storage")

	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		app.logger.Warn("Database unavailable, using in-memory repositories", zap.Error(err))
	} else {
		app.db = db
	}

	app.redisClient = redisstore.NewClient(&app.config.Redis, app.logger)
	if app.redisClient != nil {
		app.limiter = redisstore.NewRedisLimiter(
			app.redisClient,
			app.config.RateLimit.PerMin,
			app.config.RateLimit.Burst,
			app.config.RateLimit.BucketTTL,
		)
		app.cache = redisstore.NewCache(app.redisClient)
		app.queue = redisstore.NewQueue(
			app.redisClient,
			app.config.Tasks.MaxRetries,
			app.config.Tasks.MaxDepth,
			app.config.Tasks.VisibilityTimeout,
			app.logger,
		)
	} else {
		app.limiter = redisstore.NewLocalLimiter(
			app.config.RateLimit.PerMin,
			app.config.RateLimit.Burst,
			app.config.RateLimit.BucketTTL,
		)
		app.cache = redisstore.NewLocalCache()
	}

	return nil
}

// initEngines builds the six specialized engines.
func (app *App) initEngines() error {
	app.logger.Info("Initializing engines")

	var traits memory.TraitRepository
	var episodes memory.EpisodeRepository
	if app.db != nil {
		traits = persistence.NewGormTraitRepository(app.db)
		episodes = persistence.NewGormEpisodeRepository(app.db)
	} else {
		traits = persistence.NewMemoryTraitRepository()
		episodes = persistence.NewMemoryEpisodeRepository()
	}

	policyEngine, err := policy.NewEngine(app.logger)
	if err != nil {
		return fmt.Errorf("policy engine: %w", err)
	}

	app.intentEngine = intent.NewEngine(
		familyPriorities(app.config.Provider.FamilyPriorities),
		app.config.Security.AllowExternalForRegulated,
		app.logger,
	)
	app.feelingEngine = feeling.NewEngine(app.logger)
	app.memoryEngine = memory.NewEngine(traits, episodes, app.logger)
	app.driveEngine = drive.NewEngine(app.logger)
	app.policyEngine = policyEngine
	app.telemetryEngine = telemetry.NewEngine(app.cache, app.monitor, app.logger)

	return nil
}

// initProviders creates the model providers, the failover executor and the
// routing policy.
func (app *App) initProviders() error {
	app.logger.Info("Initializing providers")

	remote, err := llm.CreateProvider(llm.ProviderConfig{
		Name:    routing.ProviderRemote,
		Type:    "openai",
		BaseURL: app.config.Provider.OpenRouterAPIBase,
		APIKey:  app.config.Provider.OpenRouterAPIKey,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("remote provider: %w", err)
	}

	local, err := llm.CreateProvider(llm.ProviderConfig{
		Name:    routing.ProviderLocal,
		Type:    "ollama",
		BaseURL: app.config.Provider.OllamaBase,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("local provider: %w", err)
	}

	app.providers = map[string]llm.Provider{
		routing.ProviderRemote: remote,
		routing.ProviderLocal:  local,
	}
	app.failover = llm.NewFailover(app.logger)
	app.routing = routing.NewPolicy(routing.Models{
		Vision:       app.config.Provider.VisionModel,
		Explicit:     app.config.Provider.ExplicitModel,
		Coder:        app.config.Provider.CoderModel,
		ToolCall:     app.config.Provider.ToolCallModel,
		DefaultLocal: app.config.Provider.DefaultLocalModel,
	}, remote.Available, local.Available, app.logger)

	return nil
}

// initPipeline assembles the orchestrator, resolving each service to the
// in-process engine or a remote URL from services.json.
func (app *App) initPipeline() {
	app.logger.Info("Initializing pipeline")

	var tools pipeline.ToolSource
	var executor toolloop.ToolExecutor
	if base := app.config.ServiceURL("tools"); base != "" {
		client := NewToolClient(app.httpClient, base, app.cache, app.monitor, app.logger)
		tools = client
		executor = client
	}

	vision := pipeline.NewModelVisionObserver(
		app.providers[routing.ProviderLocal],
		app.providers[routing.ProviderRemote],
		app.config.Provider.DefaultLocalModel,
		app.config.Provider.VisionModel,
		app.logger,
	)

	app.pipeline = pipeline.New(pipeline.Deps{
		Intent:    app.intentService(),
		Memory:    app.memoryService(),
		Feeling:   app.feelingService(),
		Drive:     app.driveService(),
		Policy:    app.policyService(),
		Telemetry: app.telemetryService(),
		Vision:    vision,
		Tools:     tools,
		Executor:  executor,
		Providers: app.providers,
		Failover:  app.failover,
		Routing:   app.routing,
		Monitor:   app.monitor,
		Logger:    app.logger,
	}, pipeline.Config{
		BaseSystem:        app.config.Pipeline.BaseSystem,
		MaxToolIters:      app.config.Pipeline.MaxToolIters,
		Temperature:       app.config.Pipeline.Temperature,
		DefaultLocalModel: app.config.Provider.DefaultLocalModel,
	})
}

func (app *App) intentService() pipeline.IntentService {
	if base := app.config.ServiceURL("intent"); base != "" {
		return &remoteIntent{client: app.httpClient, base: base}
	}
	return &localIntent{engine: app.intentEngine}
}

func (app *App) memoryService() pipeline.MemoryService {
	if base := app.config.ServiceURL("memory"); base != "" {
		return &remoteMemory{client: app.httpClient, base: base}
	}
	return &localMemory{engine: app.memoryEngine}
}

func (app *App) feelingService() pipeline.FeelingService {
	if base := app.config.ServiceURL("feeling"); base != "" {
		return &remoteFeeling{client: app.httpClient, base: base}
	}
	return &localFeeling{engine: app.feelingEngine}
}

func (app *App) driveService() pipeline.DriveService {
	if base := app.config.ServiceURL("drive"); base != "" {
		return &remoteDrive{client: app.httpClient, base: base}
	}
	return &localDrive{engine: app.driveEngine}
}

func (app *App) policyService() pipeline.PolicyService {
	if base := app.config.ServiceURL("policy"); base != "" {
		return &remotePolicy{client: app.httpClient, base: base}
	}
	return &localPolicy{engine: app.policyEngine}
}

func (app *App) telemetryService() pipeline.TelemetryService {
	if base := app.config.ServiceURL("telemetry"); base != "" {
		return &remoteTelemetry{client: app.httpClient, base: base}
	}
	return &localTelemetry{engine: app.telemetryEngine}
}

// initServer builds the HTTP server with the gateway and engine routes.
func (app *App) initServer() {
	app.logger.Info("Initializing HTTP server")

	var tools pipeline.ToolSource
	if base := app.config.ServiceURL("tools"); base != "" {
		tools = NewToolClient(app.httpClient, base, app.cache, app.monitor, app.logger)
	}

	app.httpServer = httpserver.NewServer(httpserver.Config{
		Host:            app.config.Server.Host,
		Port:            app.config.Server.Port,
		Mode:            app.config.Server.Mode,
		Version:         Version,
		SharedSecret:    app.config.Security.SharedSecret,
		PipelineTimeout: time.Duration(app.config.Pipeline.TimeoutSeconds) * time.Second,
		RatePerMin:      app.config.RateLimit.PerMin,
		RateBurst:       app.config.RateLimit.Burst,
		WorkerEnabled:   app.queue != nil && app.config.Tasks.WorkerEnabled,
		Models:          app.modelList(),
	}, httpserver.Deps{
		Chat:      app.pipeline,
		Intent:    app.intentEngine,
		Feeling:   app.feelingEngine,
		Memory:    app.memoryEngine,
		Drive:     app.driveEngine,
		Policy:    app.policyEngine,
		Telemetry: app.telemetryEngine,
		Tools:     tools,
		Limiter:   app.limiter,
		Queue:     app.queue,
		Monitor:   app.monitor,
		Logger:    app.logger,
	})
}

// Start brings up the task worker and the HTTP listener.
func (app *App) Start(ctx context.Context) error {
	if app.queue != nil && app.config.Tasks.WorkerEnabled {
		workerCtx, cancel := context.WithCancel(context.Background())
		app.workerCancel = cancel
		app.worker = redisstore.NewWorker(app.queue, app.handleTask, app.logger)
		go app.worker.Start(workerCtx)
	}

	return app.httpServer.Start(ctx)
}

// Stop shuts everything down, draining the worker first.
func (app *App) Stop(ctx context.Context) error {
	if app.worker != nil {
		app.worker.Stop()
		app.workerCancel()
	}

	err := app.httpServer.Stop(ctx)

	if app.redisClient != nil {
		if cerr := app.redisClient.Close(); cerr != nil {
			app.logger.Warn("Redis close failed", zap.Error(cerr))
		}
	}
	if app.db != nil {
		if sqlDB, derr := app.db.DB(); derr == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				app.logger.Warn("Database close failed", zap.Error(cerr))
			}
		}
	}

	return err
}

// handleTask dispatches async queue tasks by payload type. Unknown types are
// recorded as telemetry events so nothing is silently dropped.
func (app *App) handleTask(ctx context.Context, task *redisstore.Task) error {
	kind, _ := task.Payload["type"].(string)

	switch kind {
	case "memory_candidate":
		userID, _ := task.Payload["user_id"].(string)
		content, _ := task.Payload["content"].(string)
		confidence, _ := task.Payload["confidence"].(float64)
		if userID == "" || content == "" {
			return fmt.Errorf("memory_candidate task %s missing user_id or content", task.ID)
		}
		if _, err := app.memoryEngine.StoreCandidate(ctx, userID, content, confidence); err != nil {
			return err
		}
	default:
		if _, err := app.telemetryEngine.Log("task_handled", task.Payload); err != nil {
			return err
		}
	}

	app.monitor.IncTaskHandled()
	return nil
}

func (app *App) modelList() []string {
	seen := make(map[string]bool)
	var models []string
	for _, m := range []string{
		app.config.Provider.DefaultLocalModel,
		app.config.Provider.DefaultModel,
		app.config.Provider.ToolCallModel,
		app.config.Provider.VisionModel,
		app.config.Provider.CoderModel,
		app.config.Provider.ExplicitModel,
	} {
		if m != "" && !seen[m] {
			seen[m] = true
			models = append(models, m)
		}
	}
	return models
}

// familyPriorities parses the comma-separated per-family model lists.
func familyPriorities(raw map[string]string) map[string][]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for family, csv := range raw {
		var slugs []string
		for _, slug := range strings.Split(csv, ",") {
			if s := strings.TrimSpace(slug); s != "" {
				slugs = append(slugs, s)
			}
		}
		if len(slugs) > 0 {
			out[strings.ToUpper(family)] = slugs
		}
	}
	return out
}
