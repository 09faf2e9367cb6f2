package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/service"
	"github.com/yasyarik/yaswine/internal/service/channels"
	"github.com/yasyarik/yaswine/internal/service/discovery"
	"github.com/yasyarik/yaswine/internal/service/lifecycle"
)

type Server struct {
	Config   *config.Config
	Router   *gin.Engine
	Logger   *zap.Logger
	Server   *http.Server
	Services *Services

	// Background work started by requests outlives the request.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer opens the database, wires every service and reconciles state
// left behind by a previous process.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	svcs := NewServices(cfg, db, logger)
	if err := svcs.StartupReconcile(context.Background(), &cfg.Scheduler.Reconciler); err != nil {
		return nil, fmt.Errorf("failed to reconcile stale jobs: %w", err)
	}

	return New(cfg, svcs, logger), nil
}

// New builds the router over already wired services.
func New(cfg *config.Config, svcs *Services, logger *zap.Logger) *Server {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	srv := &Server{
		Config:   cfg,
		Router:   gin.New(),
		Logger:   logger,
		Services: svcs,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	srv.setupMiddleware()
	srv.setupRoutes()
	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s\" %s\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.Router.Use(s.Services.Auth.AuthMiddleware())
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"time":      time.Now().Unix(),
			"scheduler": s.Services.Scheduler.Alive(),
		})
	})

	api := s.Router.Group("/api/v1")
	{
		api.POST("/auth/login", s.handleLogin)

		jobs := api.Group("/jobs")
		{
			jobs.GET("", s.handleListJobs)
			jobs.POST("", s.handleCreateJob)
			jobs.GET("/:id", s.handleGetJob)
			jobs.PUT("/:id", s.handleUpdateJob)
			jobs.DELETE("/:id", s.handleDeleteJob)
			jobs.POST("/:id/generate", s.handleGenerateJob)
			jobs.POST("/:id/publish", s.handlePublishJob)
			jobs.POST("/:id/unpublish", s.handleUnpublishJob)
			jobs.POST("/:id/channels/:channel/publish", s.handlePublishChannel)
			jobs.GET("/:id/logs", s.handleJobLogs)
		}

		topics := api.Group("/topics")
		{
			topics.POST("/discover", s.handleDiscoverTopics)
			topics.GET("/autodiscovery/settings", s.handleGetDiscoverySettings)
			topics.PUT("/autodiscovery/settings", s.handlePutDiscoverySettings)
			topics.POST("/autodiscovery/run", s.handleRunDiscovery)
			topics.GET("/autodiscovery/runs", s.handleDiscoveryRuns)
		}

		ap := api.Group("/autopublish")
		{
			ap.GET("/settings", s.handleGetAutopublishSettings)
			ap.PUT("/settings", s.handlePutAutopublishSettings)
			ap.GET("/health", s.handleAutopublishHealth)
			ap.POST("/run", s.handleRunAutopublish)
			ap.GET("/runs", s.handleAutopublishRuns)
		}
	}
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	token, expires, ok := s.Services.Auth.Login(req.Code)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid code"})
		return
	}
	s.Services.Auth.SetSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
}

// ensureScheduler lazily starts the background loop, tied to the server
// lifetime rather than the request.
func (s *Server) ensureScheduler() {
	if s.Services.Scheduler.EnsureStarted(s.bgCtx) {
		s.Logger.Info("Scheduler started on demand")
	}
}

// background runs fn detached from the request; Shutdown waits for it.
func (s *Server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.bgCtx)
	}()
}

// respondError maps service errors to status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrSlugTaken),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrAlreadyGenerating),
		errors.Is(err, lifecycle.ErrSlugFrozen),
		errors.Is(err, channels.ErrNotEligible):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrMissingContent),
		errors.Is(err, lifecycle.ErrInvalidVisibility),
		errors.Is(err, lifecycle.ErrEmptyTopic),
		errors.Is(err, channels.ErrMissingSlug),
		errors.Is(err, channels.ErrUnknownChannel),
		errors.Is(err, discovery.ErrDirectionTooShort):
		status = http.StatusBadRequest
	case errors.Is(err, discovery.ErrSourceFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.Logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return def
	}
	return limit
}

func (s *Server) Start(ctx context.Context) error {
	s.ensureScheduler()

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		err = s.Server.Shutdown(shutdownCtx)
	}

	s.bgCancel()
	s.wg.Wait()
	s.Services.Close()
	return err
}
