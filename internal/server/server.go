// Package server wires the HTTP surface: router, middleware, handler
// registration, and server lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"game-session-server/internal/config"
	"game-session-server/internal/handler"
	"game-session-server/internal/message"
)

// Dependencies holds everything the HTTP surface needs.
type Dependencies struct {
	Config   *config.Config
	Codec    *message.Codec
	Sessions handler.SessionService
	Audit    struct {
		Sessions handler.SessionReader
		Results  handler.ResultReader
		Awards   handler.AwardReader
	}
	Pinger handler.Pinger
}

// Server owns the gin engine and the http.Server lifecycle.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	http   *http.Server

	sessionHandler *handler.SessionHandler
	messageHandler *handler.MessageHandler
	auditHandler   *handler.AuditHandler
}

// New builds the router and registers all routes.
func New(deps *Dependencies) (*Server, error) {
	if deps.Config.Server.Addr == "" {
		return nil, fmt.Errorf("server addr is required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(handler.Recovery())
	engine.Use(handler.RequestLogger())

	s := &Server{
		cfg:            deps.Config,
		engine:         engine,
		sessionHandler: handler.NewSessionHandler(deps.Sessions),
		messageHandler: handler.NewMessageHandler(deps.Codec, deps.Sessions),
		auditHandler:   handler.NewAuditHandler(deps.Audit.Sessions, deps.Audit.Results, deps.Audit.Awards),
	}

	engine.GET("/healthz", handler.Healthz(deps.Pinger))

	api := engine.Group("/api/v1")
	s.sessionHandler.Register(api)
	s.messageHandler.Register(api)
	s.auditHandler.Register(api)

	s.http = &http.Server{
		Addr:         deps.Config.Server.Addr,
		Handler:      engine,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
	}

	return s, nil
}

// Engine exposes the router. Test hook.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start runs the HTTP server until Stop is called. Blocks.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("HTTP server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests within the configured shutdown window.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("HTTP server stopping")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
