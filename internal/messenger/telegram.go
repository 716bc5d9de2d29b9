package messenger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/pkg/models"
)

// Handler processes one inbound update.
type Handler func(ctx context.Context, u models.Update)

// Telegram is the Bot API driver. Outbound calls share one rate limiter.
type Telegram struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	timeout time.Duration
	poll    int
}

// NewTelegram authenticates with the Bot API using token.
func NewTelegram(token string, cfg config.TelegramConfig) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	perSec := cfg.SendsPerSec
	if perSec <= 0 {
		perSec = 25
	}
	log.Info().Str("username", api.Self.UserName).Msg("✅ Telegram bot authorized")
	return &Telegram{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		timeout: cfg.SendTimeout,
		poll:    cfg.PollTimeout,
	}, nil
}

// Username returns the bot's @username without the at sign.
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// Send delivers msg, chunking long text. Buttons ride on the last chunk.
func (t *Telegram) Send(ctx context.Context, chatID int64, msg models.Message) (int, error) {
	chunks := Chunk(msg.Text, MaxMessageLen)
	var lastID int
	for i, text := range chunks {
		cfg := tgbotapi.NewMessage(chatID, text)
		if msg.Markdown {
			cfg.ParseMode = tgbotapi.ModeMarkdown
		}
		if i == len(chunks)-1 && len(msg.Buttons) > 0 {
			cfg.ReplyMarkup = keyboard(msg.Buttons)
		}
		sent, err := t.send(ctx, cfg)
		if err != nil {
			return lastID, err
		}
		lastID = sent.MessageID
	}
	return lastID, nil
}

// Edit replaces the text of an earlier message.
func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	return t.request(ctx, tgbotapi.NewEditMessageText(chatID, messageID, text))
}

// AnswerCallback stops the client-side spinner on a pressed button.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return t.request(ctx, tgbotapi.NewCallback(callbackID, text))
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := t.wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	m, err := t.api.Send(c)
	return m, classify(err)
}

func (t *Telegram) request(ctx context.Context, c tgbotapi.Chattable) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	_, err := t.api.Request(c)
	return classify(err)
}

func (t *Telegram) wait(ctx context.Context) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.limiter.Wait(ctx)
}

// Poll long-polls for updates until ctx is done, running handle in its own
// goroutine per update. It waits for in-flight handlers before returning.
func (t *Telegram) Poll(ctx context.Context, handle Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.poll
	updates := t.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case raw, ok := <-updates:
			if !ok {
				return nil
			}
			upd, ok := convert(raw)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Int64("user_id", upd.UserID).Msg("Update handler panicked")
					}
				}()
				handle(ctx, upd)
			}()
		}
	}
}

func convert(raw tgbotapi.Update) (models.Update, bool) {
	id := strconv.Itoa(raw.UpdateID)
	switch {
	case raw.CallbackQuery != nil:
		cb := raw.CallbackQuery
		u := models.Update{ID: id, UserID: cb.From.ID, CallbackID: cb.ID, Data: cb.Data}
		if cb.Message != nil {
			u.ChatID = cb.Message.Chat.ID
			u.MessageID = cb.Message.MessageID
		} else {
			u.ChatID = cb.From.ID
		}
		return u, true
	case raw.Message != nil && raw.Message.From != nil:
		m := raw.Message
		u := models.Update{ID: id, ChatID: m.Chat.ID, UserID: m.From.ID, MessageID: m.MessageID}
		if m.IsCommand() {
			u.Command = m.Command()
			u.Args = m.CommandArguments()
		} else {
			u.Text = m.Text
		}
		return u, true
	}
	return models.Update{}, false
}

func keyboard(rows [][]models.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(btns...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

// classify maps "bot was blocked" and "chat not found" to ErrBlocked.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrBlocked, apiErr.Message)
		}
		if apiErr.Code == http.StatusBadRequest && apiErr.Message == "Bad Request: chat not found" {
			return fmt.Errorf("%w: %s", ErrBlocked, apiErr.Message)
		}
	}
	return fmt.Errorf("telegram: %w", err)
}
