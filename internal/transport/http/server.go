// Package http is the thin inbound boundary described only abstractly by
// the governing specification's §6 EXTERNAL INTERFACES (transport-agnostic
// operations, the concrete CLI/MCP surface being an explicit Non-goal).
// Grounded on the teacher's transport/http/server.go gin+cors setup,
// narrowed to the six operations §6 actually names rather than the
// teacher's full dashboard/SDK surface.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"authz/internal/config"
	"authz/internal/core/services/audit"
	"authz/internal/core/services/coordinator"
	"authz/internal/core/services/organization"
	"authz/internal/core/services/rbac"
)

// Server is the HTTP boundary in front of the Auth Coordinator.
type Server struct {
	config *config.Config
	logger *slog.Logger

	handler *Handler
	engine  *gin.Engine
	server  *http.Server
}

// NewServer constructs the HTTP server. orgs/engine/auditSvc are exposed
// for the administrative routes that sit outside the Auth Coordinator's
// login/refresh/revoke/authorize flow (organization CRUD, direct
// permission queries).
func NewServer(cfg *config.Config, coord *coordinator.Coordinator, orgs *organization.Resolver, engine *rbac.Engine, auditSvc *audit.Service, logger *slog.Logger) *Server {
	return &Server{
		config:  cfg,
		logger:  logger,
		handler: NewHandler(coord, orgs, engine, auditSvc, logger),
	}
}

// Start builds the Gin engine, registers routes, and blocks serving
// until the listener is closed (matching the teacher's server.Start()).
func (s *Server) Start() error {
	if s.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())

	if s.config.Server.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.config.Server.CORSAllowedOrigins
		corsConfig.AllowMethods = s.config.Server.CORSAllowedMethods
		corsConfig.AllowHeaders = s.config.Server.CORSAllowedHeaders
		corsConfig.AllowCredentials = true
		corsConfig.MaxAge = 5 * time.Minute
		s.engine.Use(cors.New(corsConfig))
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting http server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handler.Health)

	auth := s.engine.Group("/v1/auth")
	{
		auth.GET("/authorize-url", s.handler.BuildAuthorizationURL)
		auth.POST("/exchange", s.handler.ExchangeAuthorizationCode)
		auth.POST("/refresh", s.handler.Refresh)
		auth.POST("/revoke", s.handler.RevokeToken)
		auth.POST("/validate", s.handler.ValidateToken)
		auth.GET("/context", s.handler.GetUserContext)
		auth.POST("/check-permissions", s.handler.CheckPermissions)
	}

	// Administrative routes outside the Auth Coordinator's login/token
	// flow: organization CRUD, direct permission resolution, and audit
	// trail queries.
	admin := s.engine.Group("/v1/admin")
	{
		admin.GET("/organizations/:id", s.handler.GetOrganization)
		admin.GET("/organizations/:id/children", s.handler.ListOrganizationChildren)
		admin.POST("/organizations", s.handler.CreateOrganization)
		admin.POST("/organizations/:id/move", s.handler.MoveOrganization)
		admin.GET("/permissions", s.handler.ResolvePermissions)
		admin.GET("/audit", s.handler.QueryAuditEvents)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
