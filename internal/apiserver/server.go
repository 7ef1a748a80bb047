package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amoylab/hostlink/internal/apiserver/handler"
	"github.com/amoylab/hostlink/internal/apiserver/middleware"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "hostlink"

// Server exposes the socket entrypoint, the internal API, health and metrics
type Server struct {
	logger *zap.Logger
	router *gin.Engine
	http   *http.Server
}

// New registers every route. upgrade serves the socket entrypoint.
func New(logger *zap.Logger, cfg *config.Config, h *handler.Handler, upgrade gin.HandlerFunc, m *metrics.Metrics) *Server {
	logger = logger.Named("apiserver")
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.Logger(logger))
	if cfg.Tracing.Enabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	if m != nil {
		router.Use(m.Middleware())
	}

	router.GET("/health_check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Health check passed.",
		})
	})
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	wsPath := cfg.Server.WebSocketPath
	if wsPath == "" {
		wsPath = "/websocket"
	}
	router.GET(wsPath, upgrade)

	api := router.Group("/api", middleware.InternalAuthMiddleware(cfg.Auth.InternalAPISecret))
	{
		api.POST("/notify", h.Notify)
		api.POST("/transactions", h.CreateTransaction)
		api.POST("/transactions/start", h.StartTransaction)
		api.POST("/transactions/cancel", h.CancelTransaction)
		api.POST("/transactions/requirements/satisfy", h.SatisfyRequirements)
		api.POST("/action-schedules/sync", h.SyncSchedules)
		api.GET("/admin/connections", h.ListConnections)
		api.POST("/admin/connections/:id/evict", h.EvictConnection)
		api.POST("/admin/connections/:id/unblock", h.UnblockConnection)
	}

	return &Server{
		logger: logger,
		router: router,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the routed engine
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
