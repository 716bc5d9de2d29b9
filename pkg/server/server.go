// Package server assembles the components shared by the bot processes:
// logging, tracing, the store, the catalog and the access services.
//
// Usage:
//
//	srv, err := server.New(ctx, cfg, "unpackbot")
//	defer srv.Close()
//	err = srv.Run(ctx, pollTask, srv.JanitorTask())
package server

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/personapack/botsuite/internal/access"
	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/orders"
	"github.com/personapack/botsuite/internal/retention"
	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/internal/telemetry"
)

// Task is one long-running part of a process. It returns when ctx is done.
type Task func(ctx context.Context) error

// Server holds the initialized shared components.
type Server struct {
	Config  *config.Config
	Store   *store.SQLStore
	Catalog *orders.Catalog
	Ledger  *orders.Ledger
	Tokens  *access.Service
	Gate    *access.Gate

	// ShutdownFunc flushes telemetry; Close calls it.
	ShutdownFunc telemetry.Shutdown
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// New initializes the shared components. component names the process in
// traces and logs.
func New(ctx context.Context, cfg *config.Config, component string) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, component, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	s, err := store.OpenWithRetry(ctx, cfg.Database)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("✅ Store initialized")

	cat, err := orders.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		_ = s.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if err := cat.Seed(ctx, s); err != nil {
		_ = s.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	tokens := access.NewService(s)
	return &Server{
		Config:       cfg,
		Store:        s,
		Catalog:      cat,
		Ledger:       orders.NewLedger(s, cat),
		Tokens:       tokens,
		Gate:         access.NewGate(s, tokens, cfg.Access.AdminIDs),
		ShutdownFunc: shutdown,
	}, nil
}

// JanitorTask purges expired tokens on the configured interval.
func (s *Server) JanitorTask() Task {
	j := retention.NewJanitor(s.Tokens, s.Config.JanitorInterval)
	return func(ctx context.Context) error {
		j.Start(ctx)
		return nil
	}
}

// Run runs every task until ctx is done or one of them fails, then waits
// for all of them to return.
func (s *Server) Run(ctx context.Context, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}

// Close flushes telemetry and closes the store.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ShutdownFunc(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Store close failed")
	}
}
