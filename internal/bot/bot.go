// Package bot routes inbound updates for a gated conversational bot: every
// update passes the access gate before it reaches the stage machine.
package bot

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/personapack/botsuite/internal/access"
	"github.com/personapack/botsuite/internal/conversation"
	"github.com/personapack/botsuite/pkg/contracts"
	"github.com/personapack/botsuite/pkg/models"
)

// User-facing replies.
const (
	msgDenied      = "🔒 Этот бот работает по персональной ссылке. Получить её можно после оплаты 👇"
	msgTokenGone   = "⚠️ Ссылка недействительна или уже использована. Если доступ оплачен, напишите нам, и мы пришлём новую."
	msgWrongOwner  = "⚠️ Эта ссылка оформлена на другой аккаунт. Ссылки персональные: откройте её из того аккаунта, с которого оплачивали."
	msgExpired     = "⌛ Срок действия ссылки истёк. Напишите нам, и мы выпустим новую."
	msgNoSession   = "Нажми /start, чтобы начать 🙌"
	msgHint        = "Сейчас я жду нажатия кнопки выше 👆"
	msgUnavailable = "⚠️ Что-то пошло не так. Попробуй ещё раз чуть позже."
	buttonBuy      = "💳 Получить доступ"
)

// Bot serves one target behind the access gate.
type Bot struct {
	target     string
	gate       *access.Gate
	engine     *conversation.Engine
	messenger  contracts.Messenger
	cashierURL string
}

// New creates the router for target.
func New(target string, gate *access.Gate, engine *conversation.Engine, m contracts.Messenger, cashierURL string) *Bot {
	return &Bot{
		target:     target,
		gate:       gate,
		engine:     engine,
		messenger:  m,
		cashierURL: cashierURL,
	}
}

// Handle processes one update. It returns the error that aborted handling,
// if any; user-facing failures have already been reported to the chat.
func (b *Bot) Handle(ctx context.Context, u models.Update) error {
	eventID := uuid.NewString()
	ctx, span := otel.Tracer("botsuite/bot").Start(ctx, "bot.update")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", eventID),
		attribute.String("bot.target", b.target),
		attribute.Int64("user.id", u.UserID),
	)

	logger := log.With().
		Str("event_id", eventID).
		Int64("user_id", u.UserID).
		Str("target", b.target).
		Logger()

	if u.IsCallback() {
		if err := b.messenger.AnswerCallback(ctx, u.CallbackID, ""); err != nil {
			logger.Debug().Err(err).Msg("Answer callback failed")
		}
	}

	err := b.route(ctx, u, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Update handling failed")
	}
	return err
}

func (b *Bot) route(ctx context.Context, u models.Update, logger zerolog.Logger) error {
	if u.Command == "start" {
		return b.start(ctx, u, logger)
	}
	if u.Command != "" {
		return nil
	}

	if err := b.gate.Check(ctx, u.UserID, b.target); err != nil {
		if errors.Is(err, access.ErrAccessDenied) {
			logger.Info().Msg("Access denied")
			return b.deny(ctx, u.ChatID, msgDenied)
		}
		_ = b.reply(ctx, u.ChatID, msgUnavailable)
		return err
	}

	var ev conversation.Event
	if u.IsCallback() {
		var ok bool
		if ev, ok = conversation.ButtonEvent(u.Data); !ok {
			logger.Debug().Str("data", u.Data).Msg("Unknown button")
			return nil
		}
	} else {
		ev = conversation.TextEvent(u.Text)
	}

	stage, err := b.engine.Handle(ctx, u.ChatID, u.UserID, ev)
	switch {
	case errors.Is(err, conversation.ErrIgnored):
		if !u.IsCallback() {
			return b.reply(ctx, u.ChatID, msgHint)
		}
		return nil
	case errors.Is(err, conversation.ErrNoSession):
		return b.reply(ctx, u.ChatID, msgNoSession)
	case err != nil:
		return err
	}
	logger.Debug().Str("stage", string(stage)).Msg("Update handled")
	return nil
}

// start redeems the deep-link token, if any, and opens a fresh session.
func (b *Bot) start(ctx context.Context, u models.Update, logger zerolog.Logger) error {
	err := b.gate.Enter(ctx, u.UserID, b.target, u.Args)
	switch {
	case err == nil:
		logger.Info().Msg("Access confirmed, starting session")
		return b.engine.Start(ctx, u.ChatID, u.UserID)
	case errors.Is(err, access.ErrWrongOwner):
		logger.Warn().Str("token", models.ShortToken(u.Args)).Msg("Token presented by a different user")
		return b.deny(ctx, u.ChatID, msgWrongOwner)
	case errors.Is(err, access.ErrTokenExpired):
		logger.Info().Str("token", models.ShortToken(u.Args)).Msg("Expired token presented")
		return b.deny(ctx, u.ChatID, msgExpired)
	case errors.Is(err, access.ErrTokenNotFound):
		return b.deny(ctx, u.ChatID, msgTokenGone)
	case errors.Is(err, access.ErrAccessDenied):
		logger.Info().Msg("Access denied")
		return b.deny(ctx, u.ChatID, msgDenied)
	}
	_ = b.reply(ctx, u.ChatID, msgUnavailable)
	return err
}

func (b *Bot) deny(ctx context.Context, chatID int64, text string) error {
	msg := models.Message{Text: text}
	if b.cashierURL != "" {
		msg.Buttons = [][]models.Button{{{Text: buttonBuy, URL: b.cashierURL}}}
	}
	_, err := b.messenger.Send(ctx, chatID, msg)
	return err
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	_, err := b.messenger.Send(ctx, chatID, models.Message{Text: text})
	return err
}
