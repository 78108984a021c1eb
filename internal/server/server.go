// Package server wires the schema, record, auth, rules, hooks, storage and
// realtime engines behind a single HTTP surface (spec §6.1).
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/realtime"
	"github.com/bunbase/bunbase/internal/record"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/server/requestlog"
	"github.com/bunbase/bunbase/internal/storage"
	"github.com/bunbase/bunbase/internal/store"
)

const defaultRequestLogCapacity = 1000

// Server owns every engine the HTTP surface dispatches to, plus the
// http.Server and router built on top of them.
type Server struct {
	cfg *config.Config

	db      *store.DB
	schema  *schema.Manager
	rules   *rules.Engine
	hooks   *hooks.Registry
	records *record.Engine
	auth    *auth.Service
	files   *storage.Service
	backend storage.Backend
	realtm  *realtime.Registry

	requestLogs *requestlog.Store

	loginLimiter    *RateLimiter
	registerLimiter *RateLimiter
	resetLimiter    *RateLimiter

	httpServer *http.Server
	router     *Router

	mu sync.RWMutex
}

// New assembles a Server from its already-constructed engines. Engine
// wiring order (schema before rules/hooks before record/auth before
// storage/realtime) is the caller's responsibility; see cmd/bunbase.
func New(
	cfg *config.Config,
	db *store.DB,
	schemaMgr *schema.Manager,
	rulesEngine *rules.Engine,
	hooksRegistry *hooks.Registry,
	recordEngine *record.Engine,
	authService *auth.Service,
	fileService *storage.Service,
	backend storage.Backend,
	realtimeRegistry *realtime.Registry,
) *Server {
	srv := &Server{
		cfg:             cfg,
		db:              db,
		schema:          schemaMgr,
		rules:           rulesEngine,
		hooks:           hooksRegistry,
		records:         recordEngine,
		auth:            authService,
		files:           fileService,
		backend:         backend,
		realtm:          realtimeRegistry,
		requestLogs:     requestlog.NewStore(defaultRequestLogCapacity),
		loginLimiter:    NewRateLimiter(cfg.Auth.RateLimit.Login),
		registerLimiter: NewRateLimiter(cfg.Auth.RateLimit.Register),
		resetLimiter:    NewRateLimiter(cfg.Auth.RateLimit.PasswordReset),
	}

	srv.router = NewRouter(srv)

	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

func (s *Server) DB() *store.DB                 { return s.db }
func (s *Server) Schema() *schema.Manager        { return s.schema }
func (s *Server) Config() *config.Config         { return s.cfg }
func (s *Server) Rules() *rules.Engine           { return s.rules }
func (s *Server) Hooks() *hooks.Registry         { return s.hooks }
func (s *Server) Records() *record.Engine        { return s.records }
func (s *Server) Auth() *auth.Service            { return s.auth }
func (s *Server) Files() *storage.Service        { return s.files }
func (s *Server) Realtime() *realtime.Registry   { return s.realtm }
func (s *Server) RequestLogs() *requestlog.Store { return s.requestLogs }
func (s *Server) LoginLimiter() *RateLimiter     { return s.loginLimiter }
func (s *Server) RegisterLimiter() *RateLimiter  { return s.registerLimiter }
func (s *Server) ResetLimiter() *RateLimiter     { return s.resetLimiter }

// Start begins listening and launches the realtime sweep. It returns
// immediately; serve errors other than a clean shutdown arrive on the
// returned channel.
func (s *Server) Start(ctx context.Context) <-chan error {
	s.realtm.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("bunbase listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Shutdown stops accepting new connections, lets in-flight requests and SSE
// streams drain, then closes the store (spec §6.6).
func (s *Server) Shutdown(ctx context.Context) error {
	s.loginLimiter.Stop()
	s.registerLimiter.Stop()
	s.resetLimiter.Stop()
	s.realtm.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return s.db.Close()
}

// SweepLoop periodically drops expired refresh tokens until ctx is done
// (spec §3.5).
func (s *Server) SweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.auth.SweepExpiredRefreshTokens(ctx); err != nil {
				log.Error().Err(err).Msg("sweeping expired refresh tokens")
			} else if n > 0 {
				log.Debug().Int64("count", n).Msg("swept expired refresh tokens")
			}
		}
	}
}
