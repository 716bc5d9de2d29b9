package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/personapack/botsuite/pkg/contracts"
	"github.com/personapack/botsuite/pkg/models"
)

var (
	// ErrIgnored means the input has no transition from the current stage.
	ErrIgnored = errors.New("input ignored in current stage")
	// ErrNoSession means the user has not started a conversation since the
	// last restart.
	ErrNoSession = errors.New("no active session")
)

// Engine drives sessions through the transition table. Each call holds the
// user's lock for its whole duration, generation included; different users
// never share a lock.
type Engine struct {
	generator contracts.Generator
	messenger contracts.Messenger
	sessions  *SessionStore
	script    *Script
	policy    Policy
}

// NewEngine validates script and wires the collaborators.
func NewEngine(gen contracts.Generator, m contracts.Messenger, sessions *SessionStore, script *Script) (*Engine, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		generator: gen,
		messenger: m,
		sessions:  sessions,
		script:    script,
		policy:    DefaultPolicy(script),
	}, nil
}

// WithPolicy overrides how generation failures become user-visible text.
func (e *Engine) WithPolicy(p Policy) *Engine {
	e.policy = p
	return e
}

// Sessions returns the engine's session store.
func (e *Engine) Sessions() *SessionStore {
	return e.sessions
}

// turn is the context of one action invocation.
type turn struct {
	chatID  int64
	session *Session
	event   Event
}

// Start discards any existing session for owner and sends the welcome.
func (e *Engine) Start(ctx context.Context, chatID, owner int64) error {
	unlock := e.sessions.Lock(owner)
	defer unlock()

	e.sessions.Reset(owner)
	log.Info().Int64("user_id", owner).Str("stage", string(StageWelcome)).Msg("Session started")

	_, err := e.messenger.Send(ctx, chatID, models.Message{
		Text:    e.script.Welcome,
		Buttons: [][]models.Button{{{Text: e.script.AgreeButton, Data: string(TriggerAgree)}}},
	})
	return err
}

// Handle applies ev to owner's session and returns the resulting stage.
// Input without a matching transition returns ErrIgnored and changes nothing.
func (e *Engine) Handle(ctx context.Context, chatID, owner int64, ev Event) (Stage, error) {
	unlock := e.sessions.Lock(owner)
	defer unlock()

	sess, ok := e.sessions.Get(owner)
	if !ok {
		return "", ErrNoSession
	}
	if ev.Trigger == TriggerText {
		ev.Text = strings.TrimSpace(ev.Text)
		if ev.Text == "" {
			return sess.Stage, ErrIgnored
		}
	}

	tr, ok := lookup(sess, ev.Trigger)
	if !ok {
		log.Debug().
			Int64("user_id", owner).
			Str("stage", string(sess.Stage)).
			Str("trigger", string(ev.Trigger)).
			Msg("Input ignored")
		return sess.Stage, ErrIgnored
	}

	e.advance(sess, tr.next)
	err := tr.action(e, ctx, &turn{chatID: chatID, session: sess, event: ev})
	return sess.Stage, err
}

func (e *Engine) advance(sess *Session, next Stage) {
	if sess.Stage != next {
		log.Info().
			Int64("user_id", sess.Owner).
			Str("from", string(sess.Stage)).
			Str("stage", string(next)).
			Msg("Stage transition")
	}
	sess.Stage = next
	sess.UpdatedAt = time.Now().UTC()
}

// ── Collecting ──────────────────────────────────────────────

func (e *Engine) beginInterview(ctx context.Context, t *turn) error {
	return e.say(ctx, t, e.script.Interview[0])
}

// collect appends the answer, acknowledges it, and either asks the next
// question or fires the stage's completion. Append and advance never depend
// on the acknowledgment succeeding; send errors are returned at the end.
func (e *Engine) collect(ctx context.Context, t *turn) error {
	buf, questions := e.buffer(t.session)
	*buf = append(*buf, t.event.Text)

	ack, _ := e.generate(ctx, PurposeAck, e.script.Prompts.Ack, t.event.Text)
	ackErr := e.say(ctx, t, ack)

	if n := len(*buf); n < len(questions) {
		return errors.Join(ackErr, e.say(ctx, t, questions[n]))
	}

	c := completions[t.session.Stage]
	log.Info().
		Int64("user_id", t.session.Owner).
		Str("stage", string(t.session.Stage)).
		Int("answers", len(*buf)).
		Msg("Stage completed")
	e.advance(t.session, c.next)
	return errors.Join(ackErr, c.action(e, ctx, t))
}

// buffer returns the active answer buffer and its question list.
func (e *Engine) buffer(s *Session) (*[]string, []string) {
	if s.Stage == StageProductIntake {
		return &s.Products[len(s.Products)-1], e.script.Product
	}
	return &s.Answers, e.script.Interview
}

// ── Interview completion ────────────────────────────────────

func (e *Engine) completeInterview(ctx context.Context, t *turn) error {
	s := t.session
	answers := strings.Join(s.Answers, "\n")

	unpacking, ok := e.generate(ctx, PurposeUnpacking, e.script.Prompts.Unpacking, answers)
	if ok {
		s.Unpacking = unpacking
		unpacking = "✅ Твоя распаковка:\n\n" + unpacking
	}
	sendErr := e.say(ctx, t, unpacking)

	source := s.Unpacking
	if source == "" {
		source = answers
	}
	positioning, ok := e.generate(ctx, PurposePositioning, e.script.Prompts.Positioning, source)
	if ok {
		s.Positioning = positioning
	}
	return errors.Join(sendErr, e.say(ctx, t, positioning), e.menu(ctx, t))
}

// ── Branches ────────────────────────────────────────────────

func (e *Engine) bio(ctx context.Context, t *turn) error {
	s := t.session
	s.BioDone = true

	text, ok := e.generate(ctx, PurposeBio, e.script.Prompts.Bio, s.profile())
	if ok {
		s.Bio = text
		text = "📱 Варианты BIO:\n\n" + text
	}
	return errors.Join(e.say(ctx, t, text), e.menu(ctx, t))
}

func (e *Engine) beginProduct(ctx context.Context, t *turn) error {
	s := t.session
	s.ProductStarted = true
	s.Products = append(s.Products, nil)
	return e.say(ctx, t, e.script.Product[0])
}

func (e *Engine) completeProduct(ctx context.Context, t *turn) error {
	s := t.session
	answers := strings.Join(s.Products[len(s.Products)-1], "\n")

	text, ok := e.generate(ctx, PurposeProductAnalysis, e.script.Prompts.ProductAnalysis, answers)
	if ok {
		s.Analyses = append(s.Analyses, text)
		text = "🔎 Анализ продукта:\n\n" + text
	}
	return e.send(ctx, t, models.Message{
		Text: text,
		Buttons: [][]models.Button{
			{{Text: e.script.ProductAdd, Data: string(TriggerProductAdd)}},
			{{Text: e.script.ProductProceed, Data: string(TriggerProductProceed)}},
		},
	})
}

func (e *Engine) finishProducts(ctx context.Context, t *turn) error {
	t.session.ProductDone = true
	return e.menu(ctx, t)
}

// jtbdPrimary also serves the regenerate button.
func (e *Engine) jtbdPrimary(ctx context.Context, t *turn) error {
	s := t.session
	s.JTBDStarted = true

	text, ok := e.generate(ctx, PurposeJTBDPrimary, e.script.Prompts.JTBDPrimary, s.audienceContext())
	if ok {
		s.JTBD = text
		text = "🎯 Основные сегменты ЦА:\n\n" + text
	}
	return e.send(ctx, t, models.Message{
		Text: text,
		Buttons: [][]models.Button{
			{{Text: e.script.JTBDMore, Data: string(TriggerJTBDMore)}},
			{{Text: e.script.JTBDEnough, Data: string(TriggerJTBDDone)}},
			{{Text: e.script.MenuRegen, Data: string(TriggerJTBDRegen)}},
		},
	})
}

func (e *Engine) jtbdExtended(ctx context.Context, t *turn) error {
	s := t.session
	input := s.audienceContext()
	if s.JTBD != "" {
		input += "\n\nУже выделенные сегменты:\n" + s.JTBD
	}
	text, ok := e.generate(ctx, PurposeJTBDExtended, e.script.Prompts.JTBDExtended, input)
	if ok {
		s.JTBDExtra = text
		text = "🔍 Дополнительные сегменты:\n\n" + text
	}
	return errors.Join(e.say(ctx, t, text), e.offer(ctx, t, e.script.ContentOffer))
}

func (e *Engine) jtbdSkip(ctx context.Context, t *turn) error {
	return e.offer(ctx, t, e.script.ContentOfferSkip)
}

// ── Content assistant offer ─────────────────────────────────

func (e *Engine) offer(ctx context.Context, t *turn, text string) error {
	rows := [][]models.Button{
		{{Text: e.script.GetAccess, Data: string(TriggerGetAccess)}},
		{{Text: e.script.Have, Data: string(TriggerHave)}},
		{{Text: e.script.Later, Data: string(TriggerLater)}},
	}
	return e.send(ctx, t, models.Message{Text: text, Buttons: append(rows, e.menuRows(t.session)...)})
}

func (e *Engine) offerAccess(ctx context.Context, t *turn) error {
	msg := models.Message{Text: e.script.AccessReply}
	if e.script.CashierURL != "" {
		msg.Buttons = [][]models.Button{{{Text: e.script.GetAccess, URL: e.script.CashierURL}}}
	}
	return e.send(ctx, t, msg)
}

func (e *Engine) acknowledgeOffer(ctx context.Context, t *turn) error {
	if t.event.Trigger == TriggerHave {
		return e.say(ctx, t, e.script.HaveReply)
	}
	return e.say(ctx, t, e.script.LaterReply)
}

// ── Menu ────────────────────────────────────────────────────

// menuRows lists the branches the session has not used yet, plus the
// regenerate option once JTBD has run.
func (e *Engine) menuRows(s *Session) [][]models.Button {
	var rows [][]models.Button
	if !s.BioDone {
		rows = append(rows, []models.Button{{Text: e.script.MenuBio, Data: string(TriggerBio)}})
	}
	if !s.ProductStarted {
		rows = append(rows, []models.Button{{Text: e.script.MenuProduct, Data: string(TriggerProduct)}})
	}
	if !s.JTBDStarted {
		rows = append(rows, []models.Button{{Text: e.script.MenuJTBD, Data: string(TriggerJTBD)}})
	} else {
		rows = append(rows, []models.Button{{Text: e.script.MenuRegen, Data: string(TriggerJTBDRegen)}})
	}
	return rows
}

func (e *Engine) menu(ctx context.Context, t *turn) error {
	return e.send(ctx, t, models.Message{Text: e.script.MenuPrompt, Buttons: e.menuRows(t.session)})
}

// ── Helpers ─────────────────────────────────────────────────

// generate calls the text collaborator; on failure it returns the policy's
// fallback and ok=false.
func (e *Engine) generate(ctx context.Context, p Purpose, system, input string) (string, bool) {
	text, err := e.generator.Generate(ctx, models.GenerateRequest{
		Purpose: string(p),
		Messages: []models.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: input},
		},
	})
	if err != nil {
		return e.policy(p, err), false
	}
	return text, true
}

func (e *Engine) say(ctx context.Context, t *turn, text string) error {
	return e.send(ctx, t, models.Message{Text: text})
}

func (e *Engine) send(ctx context.Context, t *turn, msg models.Message) error {
	_, err := e.messenger.Send(ctx, t.chatID, msg)
	return err
}

// profile is the best available description of the user for bio prompts.
func (s *Session) profile() string {
	switch {
	case s.Positioning != "":
		return s.Positioning
	case s.Unpacking != "":
		return s.Unpacking
	}
	return strings.Join(s.Answers, "\n")
}

// audienceContext joins everything known about the user and their products.
func (s *Session) audienceContext() string {
	parts := []string{s.profile()}
	if s.Positioning != "" {
		parts = append(parts, strings.Join(s.Answers, "\n"))
	}
	for _, p := range s.Products {
		parts = append(parts, strings.Join(p, "\n"))
	}
	return strings.Join(parts, "\n\n")
}
