// Command cashier runs the storefront bot and the admin HTTP API. It takes
// orders, collects payment claims, and on admin confirmation mints and
// delivers start links for the sibling bots.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/personapack/botsuite/internal/api"
	"github.com/personapack/botsuite/internal/api/handlers"
	"github.com/personapack/botsuite/internal/cashier"
	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/fulfillment"
	"github.com/personapack/botsuite/internal/messenger"
	"github.com/personapack/botsuite/internal/notify"
	"github.com/personapack/botsuite/internal/payment"
	"github.com/personapack/botsuite/pkg/models"
	"github.com/personapack/botsuite/pkg/server"
)

func main() {
	cfg := config.Load()
	server.SetupLogging(cfg.Log)
	log.Info().Str("version", cfg.Version).Msg("💳 Cashier starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.CashierBotToken == "" {
		log.Fatal().Msg("CASHIER_BOT_TOKEN is not set")
	}

	srv, err := server.New(ctx, cfg, "cashier")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer srv.Close()

	tg, err := messenger.NewTelegram(cfg.Telegram.CashierBotToken, cfg.Telegram)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Telegram")
	}

	alerts := notify.NewService()
	alerts.RegisterDriver(notify.NewChatDriver(tg, cfg.Access.AdminIDs, cashier.AdminActions))
	if cfg.Admin.WebhookURL != "" {
		alerts.RegisterDriver(notify.NewWebhookDriver(cfg.Admin.WebhookURL, cfg.Admin.WebhookSecret))
	}

	payments := payment.NewRobokassa(cfg.Payment)
	if !payments.Configured() {
		log.Warn().Msg("Robokassa credentials missing, payment links will not be valid")
	}

	dispatcher := fulfillment.NewDispatcher(srv.Store, srv.Ledger, srv.Tokens, srv.Catalog, tg, cfg.Access.TokenTTL).
		WithAlerter(alerts)
	shop := cashier.New(srv.Catalog, srv.Ledger, dispatcher, srv.Tokens, payments, tg, cfg.Access.AdminIDs, cfg.Access.TokenTTL).
		WithAlerter(alerts)

	h := handlers.New(srv.Ledger, srv.Catalog, dispatcher, srv.Tokens, srv.Gate, cfg.Access.TokenTTL)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:      api.NewRouter(cfg, h),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	poll := func(ctx context.Context) error {
		log.Info().Str("username", tg.Username()).Msg("🔥 Cashier bot is polling")
		return tg.Poll(ctx, func(ctx context.Context, u models.Update) {
			_ = shop.Handle(ctx, u)
		})
	}
	serve := func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Admin.Port).Msg("Admin API listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	if err := srv.Run(ctx, poll, serve, srv.JanitorTask()); err != nil {
		log.Error().Err(err).Msg("Cashier stopped with error")
		return
	}
	log.Info().Msg("🛑 Cashier stopped")
}
