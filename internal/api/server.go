// Package api exposes the precheck service and its administration over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/usecase"
)

// Prechecker is the decision surface executors call.
type Prechecker interface {
	Evaluate(ctx context.Context, action domain.CandidateAction) domain.PrecheckResult
	Record(ctx context.Context, action domain.CandidateAction, outcome domain.Outcome) error
	CheckDuplication(ctx context.Context, actionType domain.ActionType, targetID, deviceID string) (usecase.DuplicationVerdict, error)
	RecordDuplicationAction(ctx context.Context, actionType domain.ActionType, targetID, deviceID string, outcome domain.Outcome) error
}

// PolicyStore serves and replaces the duplication policy.
type PolicyStore interface {
	domain.ConfigProvider
	Update(cfg domain.DuplicationConfig) error
	Reload() (bool, error)
}

// Exporter encodes checks for download.
type Exporter interface {
	ContentType(format domain.ExportFormat) (mime, ext string)
	Export(w io.Writer, checks []domain.DuplicationCheck, format domain.ExportFormat) error
}

// Metrics records request metrics and serves the scrape endpoint.
type Metrics interface {
	Handler() http.Handler
	ObserveHTTP(method, endpoint string, status int, elapsed time.Duration)
}

// Dependencies are the components the HTTP layer routes to.
type Dependencies struct {
	Prechecker Prechecker
	Rules      domain.RuleStore
	Audit      domain.AuditLog
	Policy     PolicyStore
	Exporter   Exporter
	Metrics    Metrics // optional
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration for addr.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:            addr,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP front of dupguard.
type Server struct {
	config ServerConfig
	deps   Dependencies
	logger *zap.Logger
	router *gin.Engine
}

// NewServer builds the router.
func NewServer(config ServerConfig, deps Dependencies, logger *zap.Logger) *Server {
	s := &Server{config: config, deps: deps, logger: logger}
	s.router = s.setupRouter()
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(requestID(), recovery(s.logger), requestLogger(s.logger))
	if s.deps.Metrics != nil {
		router.Use(observeHTTP(s.deps.Metrics))
		router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.POST("/precheck", s.precheck)
	v1.POST("/precheck/record", s.recordAction)
	v1.POST("/duplication/check", s.checkDuplication)
	v1.POST("/duplication/record", s.recordDuplication)

	rules := v1.Group("/rules")
	rules.GET("", s.listRules)
	rules.POST("", s.createRule)
	rules.GET("/:id", s.getRule)
	rules.PUT("/:id", s.updateRule)
	rules.DELETE("/:id", s.deleteRule)
	rules.POST("/:id/enabled", s.setRuleEnabled)

	v1.GET("/checks", s.listChecks)
	v1.GET("/checks/export", s.exportChecks)
	v1.GET("/events", s.listEvents)
	v1.POST("/events/:id/resolution", s.resolveEvent)
	v1.GET("/history/:target", s.getHistory)
	v1.DELETE("/history/:target", s.purgeHistory)

	v1.GET("/config", s.getConfig)
	v1.PUT("/config", s.updateConfig)
	v1.POST("/config/reload", s.reloadConfig)

	return router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
