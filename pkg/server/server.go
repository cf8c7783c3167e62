// Package server exposes the Graffiti operation surface over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	graffiti "github.com/soundprediction/go-graffiti"
	"github.com/soundprediction/go-graffiti/pkg/config"
	"github.com/soundprediction/go-graffiti/pkg/server/handlers"
)

// Server wraps the gin router and the underlying HTTP server.
type Server struct {
	config   *config.Config
	graffiti graffiti.Graffiti
	router   *gin.Engine
	http     *http.Server
}

// New creates a server around a Graffiti client.
func New(cfg *config.Config, g graffiti.Graffiti) *Server {
	return &Server{
		config:   cfg,
		graffiti: g,
	}
}

// Setup configures the router and registers all routes.
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)
	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())

	health := handlers.NewHealthHandler()
	entities := handlers.NewEntityHandler(s.graffiti)
	relationships := handlers.NewRelationshipHandler(s.graffiti)
	reconcile := handlers.NewReconcileHandler(s.graffiti)

	s.router.GET("/health", health.HealthCheck)
	s.router.GET("/ready", health.ReadinessCheck)

	api := s.router.Group("/api/v1")
	{
		api.POST("/entities", entities.Create)
		api.GET("/entities", entities.List)
		api.POST("/entities/search", entities.Search)
		api.GET("/entities/:id", entities.Get)
		api.PATCH("/entities/:id", entities.Update)
		api.DELETE("/entities/:id", entities.Delete)
		api.POST("/entities/:id/restore", entities.Restore)
		api.GET("/entities/:id/relationships", relationships.List)

		api.POST("/relationships", relationships.Create)
		api.POST("/relationships/delete", relationships.Delete)
		api.POST("/relationships/restore", relationships.Restore)

		api.POST("/reconcile", reconcile.Reconcile)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
