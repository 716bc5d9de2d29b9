// Command unpackbot runs the gated personal-brand unpacking bot: an
// interview, positioning, BIO, product analysis and JTBD audience segments,
// generated by a chat-completion provider.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/personapack/botsuite/internal/bot"
	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/conversation"
	"github.com/personapack/botsuite/internal/llm"
	"github.com/personapack/botsuite/internal/messenger"
	"github.com/personapack/botsuite/pkg/models"
	"github.com/personapack/botsuite/pkg/server"
)

func main() {
	cfg := config.Load()
	server.SetupLogging(cfg.Log)
	log.Info().Str("version", cfg.Version).Str("target", cfg.Telegram.BotName).Msg("🤖 Unpack bot starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN is not set")
	}

	srv, err := server.New(ctx, cfg, "unpackbot")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer srv.Close()

	tg, err := messenger.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Telegram")
	}

	script := conversation.DefaultScript()
	script.CashierURL = cfg.Telegram.CashierURL
	engine, err := conversation.NewEngine(llm.NewClient(cfg.LLM), tg, conversation.NewSessionStore(), script)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid conversation script")
	}
	b := bot.New(cfg.Telegram.BotName, srv.Gate, engine, tg, cfg.Telegram.CashierURL)

	poll := func(ctx context.Context) error {
		log.Info().Str("username", tg.Username()).Msg("🔥 Unpack bot is polling")
		return tg.Poll(ctx, func(ctx context.Context, u models.Update) {
			_ = b.Handle(ctx, u)
		})
	}

	if err := srv.Run(ctx, poll, srv.JanitorTask()); err != nil {
		log.Error().Err(err).Msg("Unpack bot stopped with error")
		return
	}
	log.Info().Msg("🛑 Unpack bot stopped")
}
