package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/pipeline"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/redisstore"
	"github.com/halcyonai/halcyon/gateway/internal/service/drive"
	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
	"github.com/halcyonai/halcyon/gateway/internal/service/telemetry"
)

// ChatService is the orchestrator surface the chat handlers call.
type ChatService interface {
	ProcessChat(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error)
	ProcessChatStream(ctx context.Context, req *pipeline.Request, deltas chan<- string) (*pipeline.Response, error)
}

// Config tunes the HTTP server.
type Config struct {
	Host string
	Port int
	Mode string // debug, release

	Version         string
	SharedSecret    string
	PipelineTimeout time.Duration
	RatePerMin      int
	RateBurst       int
	WorkerEnabled   bool
	Models          []string
}

// Deps bundles the server's collaborators. Queue and Tools are optional.
type Deps struct {
	Chat      ChatService
	Intent    *intent.Engine
	Feeling   *feeling.Engine
	Memory    *memory.Engine
	Drive     *drive.Engine
	Policy    *policy.Engine
	Telemetry *telemetry.Engine
	Tools     pipeline.ToolSource
	Limiter   redisstore.Limiter
	Queue     *redisstore.Queue
	Monitor   *monitoring.Monitor
	Logger    *zap.Logger
}

// Server serves the gateway API and the mounted engine routes.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Mode == "release" || cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(ginLogger(deps.Logger))
	router.Use(verifySignature(cfg.SharedSecret, deps.Logger))

	h := &handlers{cfg: cfg, deps: deps}
	setupRoutes(router, cfg, deps, h)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: deps.Logger,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, cfg Config, deps Deps, h *handlers) {
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(deps.Monitor.PrometheusHandler()))

	// OpenAI-compatible chat surface, rate limited and bounded by the
	// pipeline timeout.
	v1 := router.Group("/v1")
	v1.Use(rateLimit(deps.Limiter, deps.Monitor, deps.Logger))
	{
		chat := v1.Group("/chat")
		chat.Use(pipelineTimeout(cfg.PipelineTimeout))
		chat.POST("/completions", h.chatCompletions)
		chat.POST("/completions/stream", h.chatStream)

		v1.GET("/models", h.listModels)
		v1.GET("/tools", h.listTools)
	}

	tasks := router.Group("/tasks")
	{
		tasks.POST("/enqueue", h.enqueueTask)
		tasks.GET("/dlq", h.dlqEntries)
	}

	// Specialized engine mounts. The orchestrator reaches these in-process,
	// but they stay addressable for split deployments.
	router.POST("/classify", h.classify)
	router.POST("/route", h.route)

	router.POST("/affect/analyze", h.affectAnalyze)
	router.POST("/affect/tone", h.affectTone)
	router.POST("/critic", h.critic)
	router.POST("/augment", h.augment)
	router.GET("/templates", h.templates)

	router.GET("/mem/retrieve", h.memRetrieve)
	router.GET("/mem/summary", h.memSummary)
	router.POST("/mem/candidates", h.memCandidates)

	router.GET("/drive/get", h.driveGet)
	router.POST("/drive/update", h.driveUpdate)
	router.POST("/drive/policy", h.drivePolicy)

	router.POST("/policy/apply", h.policyApply)
	router.POST("/policy/validate", h.policyValidate)

	router.POST("/log", h.telemetryLog)
	router.GET("/cache/get", h.cacheGet)
	router.POST("/cache/set", h.cacheSet)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}
}
