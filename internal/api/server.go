package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/config"
	"github.com/inboxhunter/signup-agent/internal/services"
)

// Server is the local status HTTP server. It only binds loopback: the API
// exists for the desktop shell and local tooling, not for the network.
type Server struct {
	Router *gin.Engine
	config *config.Config
	logger *logrus.Logger
	http   *http.Server
}

// NewServer creates a new status server
func NewServer(cfg *config.Config, logger *logrus.Logger, container *services.Container) *Server {
	server := &Server{
		config: cfg,
		logger: logger,
	}
	server.setupRouter(container)
	return server
}

// setupRouter configures the router with all routes and middleware
func (s *Server) setupRouter(container *services.Container) {
	gin.SetMode(gin.ReleaseMode)
	s.Router = gin.New()

	s.Router.Use(RequestID())
	s.Router.Use(Logger(s.logger))
	s.Router.Use(Recovery(s.logger))

	handlers := NewHandlers(container.PipelineService, container.Store, container, s.logger)

	s.Router.GET("/health", handlers.GetHealth)

	v1 := s.Router.Group("/api/v1")
	{
		v1.GET("/status", handlers.GetStatus)
		v1.GET("/stats", handlers.GetStats)
		v1.POST("/stop", handlers.PostStop)
	}

	s.Router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "Not Found",
			"message":   "The requested resource was not found",
			"timestamp": time.Now(),
			"path":      c.Request.URL.Path,
		})
	})
}

// Start runs the server in a goroutine; errors surface through the logger
func (s *Server) Start() {
	s.http = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.config.Server.Port),
		Handler:      s.Router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	go func() {
		s.logger.WithField("addr", s.http.Addr).Info("Status server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Status server failed")
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
