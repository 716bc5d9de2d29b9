package bot_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/personapack/botsuite/internal/access"
	"github.com/personapack/botsuite/internal/bot"
	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/conversation"
	"github.com/personapack/botsuite/internal/messenger"
	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, req models.GenerateRequest) (string, error) {
	return "ok: " + req.Purpose, nil
}

const adminID int64 = 1

type fixture struct {
	bot      *bot.Bot
	store    *store.SQLStore
	tokens   *access.Service
	msgr     *messenger.Recorder
	sessions *conversation.SessionStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "bot.db"),
	})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	tokens := access.NewService(s)
	gate := access.NewGate(s, tokens, []int64{adminID})
	msgr := messenger.NewRecorder()
	sessions := conversation.NewSessionStore()
	engine, err := conversation.NewEngine(echoGenerator{}, msgr, sessions, conversation.DefaultScript())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return &fixture{
		bot:      bot.New("unpack", gate, engine, msgr, "https://t.me/cashier_bot"),
		store:    s,
		tokens:   tokens,
		msgr:     msgr,
		sessions: sessions,
	}
}

func (f *fixture) handle(t *testing.T, u models.Update) {
	t.Helper()
	if err := f.bot.Handle(context.Background(), u); err != nil {
		t.Fatalf("Handle(%+v) error = %v", u, err)
	}
}

func (f *fixture) lastText(t *testing.T, chatID int64) models.Message {
	t.Helper()
	sent := f.msgr.Sent(chatID)
	if len(sent) == 0 {
		t.Fatalf("no messages sent to %d", chatID)
	}
	return sent[len(sent)-1]
}

func start(user int64, token string) models.Update {
	return models.Update{ChatID: user, UserID: user, Command: "start", Args: token}
}

func TestDeniedUserGetsPersonalLinkNotice(t *testing.T) {
	f := newFixture(t)

	f.handle(t, models.Update{ChatID: 7, UserID: 7, Text: "hello"})
	msg := f.lastText(t, 7)
	if len(msg.Buttons) != 1 || msg.Buttons[0][0].URL != "https://t.me/cashier_bot" {
		t.Errorf("denial = %+v, want a cashier link button", msg)
	}
	if _, ok := f.sessions.Snapshot(7); ok {
		t.Error("denied text created a session")
	}

	f.handle(t, start(7, ""))
	if _, ok := f.sessions.Snapshot(7); ok {
		t.Error("denied /start created a session")
	}

	f.handle(t, models.Update{ChatID: 7, UserID: 7, CallbackID: "cb1", Data: "agree"})
	if _, ok := f.sessions.Snapshot(7); ok {
		t.Error("denied button created a session")
	}
	if got := f.msgr.Answered(); len(got) != 1 || got[0] != "cb1" {
		t.Errorf("answered callbacks = %v, want [cb1]", got)
	}
}

func TestStartWithTokenOpensSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, err := f.tokens.Issue(ctx, 42, "unpack", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	f.handle(t, start(42, tok.Token))
	s, ok := f.sessions.Snapshot(42)
	if !ok || s.Stage != conversation.StageWelcome {
		t.Fatalf("session = %+v, %v; want welcome", s, ok)
	}

	f.handle(t, models.Update{ChatID: 42, UserID: 42, CallbackID: "cb", Data: "agree"})
	if s, _ := f.sessions.Snapshot(42); s.Stage != conversation.StageInterview {
		t.Errorf("stage after agree = %q, want interview", s.Stage)
	}

	// The same link opened again later still works for its owner.
	f.handle(t, start(42, tok.Token))
	if s, _ := f.sessions.Snapshot(42); s.Stage != conversation.StageWelcome {
		t.Errorf("stage after stale link = %q, want welcome", s.Stage)
	}
}

func TestStartWithSomeoneElsesToken(t *testing.T) {
	f := newFixture(t)
	tok, err := f.tokens.Issue(context.Background(), 42, "unpack", 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	f.handle(t, start(99, tok.Token))
	if _, ok := f.sessions.Snapshot(99); ok {
		t.Error("wrong owner got a session")
	}
	if ok, _ := f.store.HasGrant(context.Background(), 99, "unpack"); ok {
		t.Error("wrong owner got a grant")
	}
	if msg := f.lastText(t, 99); msg.Text == "" {
		t.Error("wrong owner got no explanation")
	}
}

func TestAdminBypassesGate(t *testing.T) {
	f := newFixture(t)
	f.handle(t, start(adminID, ""))
	if _, ok := f.sessions.Snapshot(adminID); !ok {
		t.Error("admin was not let in")
	}
}

func TestIgnoredTextGetsHint(t *testing.T) {
	f := newFixture(t)
	f.handle(t, start(adminID, ""))
	f.handle(t, models.Update{ChatID: adminID, UserID: adminID, Text: "skip the consent"})

	if s, _ := f.sessions.Snapshot(adminID); s.Stage != conversation.StageWelcome {
		t.Errorf("stage = %q, want welcome", s.Stage)
	}
	if msg := f.lastText(t, adminID); len(msg.Buttons) != 0 {
		t.Errorf("hint = %+v, want plain text", msg)
	}
}

func TestAllowedUserWithoutSessionIsAskedToStart(t *testing.T) {
	f := newFixture(t)
	if err := f.store.InsertGrant(context.Background(), &models.AccessGrant{Owner: 5, Target: "unpack", GrantedAt: time.Now()}); err != nil {
		t.Fatalf("InsertGrant() error = %v", err)
	}
	f.handle(t, models.Update{ChatID: 5, UserID: 5, Text: "answer"})
	if msg := f.lastText(t, 5); msg.Text == "" {
		t.Error("no /start prompt sent")
	}
}
