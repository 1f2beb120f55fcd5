package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/healthgate/internal/circuitbreaker"
	"github.com/aman-churiwal/healthgate/internal/config"
	"github.com/aman-churiwal/healthgate/internal/events"
	"github.com/aman-churiwal/healthgate/internal/handler"
	"github.com/aman-churiwal/healthgate/internal/healthcheck"
	"github.com/aman-churiwal/healthgate/internal/middleware"
	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"github.com/aman-churiwal/healthgate/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	serviceName = "healthgate"
	version     = "1.0.0"
)

// Deps are built by the caller. Health, Recorder and Events may be nil;
// the matching features are then off.
type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	Limiter  *ratelimit.Facade
	Tokens   *service.TokenService
	Health   *healthcheck.Checker
	Recorder *events.Recorder
	Events   *service.EventService
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     *zap.Logger
	limiter    *ratelimit.Facade
	tokens     *service.TokenService
	health     *healthcheck.Checker
	rateLimits *handler.RateLimitHandler
	events     *handler.EventsHandler
	httpServer *http.Server
	startTime  time.Time
}

func New(deps Deps) *Server {
	if deps.Config.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:     gin.New(),
		config:     deps.Config,
		logger:     deps.Logger,
		limiter:    deps.Limiter,
		tokens:     deps.Tokens,
		health:     deps.Health,
		rateLimits: handler.NewRateLimitHandler(deps.Limiter, deps.Recorder),
		startTime:  time.Now(),
	}
	if s.health == nil {
		s.health = healthcheck.NewChecker(healthcheck.Config{Logger: deps.Logger})
	}
	if deps.Events != nil {
		s.events = handler.NewEventsHandler(deps.Events)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + deps.Config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logger(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	limit := func(c ratelimit.Category, identify middleware.IdentityFunc) gin.HandlerFunc {
		return middleware.RateLimit(s.limiter, c, identify)
	}

	api := s.router.Group("/api", middleware.RateLimitHeaders(s.limiter, ratelimit.API, middleware.ByClientIP))
	{
		api.POST("/fetch-url", limit(ratelimit.FetchURL, middleware.ByClientIP), handler.Accept("fetch-url"))

		authed := api.Group("", middleware.RequireAuth(s.tokens))
		authed.POST("/ai/gemini", limit(ratelimit.AIGemini, middleware.ByUser), handler.Accept("ai:gemini"))
		authed.POST("/admin/grant-role",
			middleware.RequireRole("admin"),
			limit(ratelimit.AdminGrantRole, middleware.ByUser),
			handler.Accept("admin:grant-role"),
		)
		authed.POST("/email", limit(ratelimit.Email, middleware.ByUser), handler.Accept("email"))
		authed.GET("/medical/*resource",
			middleware.RateLimitHeaders(s.limiter, ratelimit.Medical, middleware.ByUser),
			handler.Accept("medical"),
		)
	}

	admin := s.router.Group("/admin/ratelimit",
		middleware.RequireAuth(s.tokens),
		middleware.RequireRole("admin"),
		limit(ratelimit.Strict, middleware.ByUser),
	)
	{
		admin.GET("/categories", s.rateLimits.Categories)
		admin.GET("/breaker", s.rateLimits.BreakerStatus)
		admin.POST("/breaker/reset", s.rateLimits.ResetBreaker)
		admin.GET("/store", s.rateLimits.StoreStatus)

		if s.events != nil {
			admin.GET("/events", s.events.List)
			admin.GET("/summary", s.events.Summary)
		}
	}
}

// Reports dependency status from the background checker. Missing or
// failing backends degrade the status but never fail the check: requests
// are still served.
func (s *Server) healthCheck(c *gin.Context) {
	overall := s.health.OverallHealth()
	status := healthcheck.Healthy
	if overall != healthcheck.Healthy {
		status = healthcheck.Degraded
	}

	rl := gin.H{"distributed": s.limiter.Distributed()}
	if b := s.limiter.Breaker(); b != nil {
		state := b.State()
		rl["breaker"] = state.String()
		if state != circuitbreaker.StateClosed {
			status = healthcheck.Degraded
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       status.String(),
		"service":      serviceName,
		"version":      version,
		"uptime":       time.Since(s.startTime).Seconds(),
		"timestamp":    time.Now().Unix(),
		"dependencies": s.health.AllStatus(),
		"rate_limit":   rl,
	})
}

// Run blocks until the server stops. After Shutdown it returns
// http.ErrServerClosed.
func (s *Server) Run() error {
	s.logger.Info("starting server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("environment", s.config.Server.Environment),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
