package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jabberwocky238/bindzone/dispatch"
	"jabberwocky238/bindzone/storage"
)

// ServerConfig holds the configuration for the HTTP management server.
type ServerConfig struct {
	Listen    string
	AuthToken string // Bearer token; empty disables auth.
	Metrics   http.Handler
}

// Server is the HTTP management API server.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
}

// NewServer creates a new HTTP management server over the given zones.
func NewServer(cfg ServerConfig, zones *storage.Registry, d *dispatch.Dispatcher) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware())

	// Public endpoints (no auth).
	sys := NewSystemHandler(zones)
	engine.GET("/health", sys.Health)
	engine.GET("/status", sys.Status)
	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	h := NewDNSHandler(zones, d)

	api := engine.Group("/api/v1")
	api.Use(AuthMiddleware(cfg.AuthToken))
	api.POST("/dispatch", h.Dispatch)

	dnsGroup := engine.Group("/dns")
	dnsGroup.Use(AuthMiddleware(cfg.AuthToken))
	{
		dnsGroup.POST("/add", h.Add)
		dnsGroup.POST("/delete", h.Delete)
		dnsGroup.POST("/update", h.Update)
		dnsGroup.GET("/list", h.List)
		dnsGroup.GET("/get", h.Get)
		dnsGroup.GET("/backups", h.Backups)
		dnsGroup.POST("/restore", h.Restore)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Listen,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
	}
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	slog.Info("HTTP management server starting", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server with a 5-second deadline.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}

// Engine returns the underlying Gin engine (useful for testing).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
