// Package api provides the HTTP API: the streaming turn endpoint and the
// conversation CRUD endpoints.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/growthlab/askatlas/pkg/conversations"
	"github.com/growthlab/askatlas/pkg/graph"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	executor      *graph.Executor
	conversations conversations.Store

	// healthPing reports app-DB connectivity; nil when running in-memory.
	healthPing func(ctx context.Context) error
}

// NewServer creates the API server and registers routes.
func NewServer(executor *graph.Executor, convStore conversations.Store, corsOrigins []string) *Server {
	e := echo.New()

	s := &Server{
		echo:          e,
		executor:      executor,
		conversations: convStore,
	}

	e.Use(middleware.BodyLimit(1 * 1024 * 1024))
	if len(corsOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		}))
	}

	s.setupRoutes()
	return s
}

// SetHealthPing wires an app-DB connectivity probe into the health endpoint.
func (s *Server) SetHealthPing(ping func(ctx context.Context) error) {
	s.healthPing = ping
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/threads/:thread_id/turns", s.runTurnHandler)
	v1.GET("/conversations", s.listConversationsHandler)
	v1.GET("/conversations/:thread_id", s.getConversationHandler)
	v1.DELETE("/conversations/:thread_id", s.deleteConversationHandler)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start begins serving on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener begins serving on an existing listener.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	resp := healthResponse{Status: "ok"}
	if s.healthPing != nil {
		if err := s.healthPing(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.DB = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp.DB = "ok"
	}
	return c.JSON(http.StatusOK, resp)
}
