package messenger

import (
	"context"
	"sync"

	"github.com/personapack/botsuite/pkg/models"
)

// Sent is one message captured by a Recorder.
type Sent struct {
	ChatID    int64
	MessageID int
	Message   models.Message
}

// Recorder is an in-memory Messenger. It keeps every sent message and
// returns ErrBlocked for chats marked with Block.
type Recorder struct {
	mu       sync.Mutex
	nextID   int
	sent     []Sent
	edits    map[int]string
	answered []string
	blocked  map[int64]bool
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		edits:   make(map[int]string),
		blocked: make(map[int64]bool),
	}
}

// Block makes every subsequent send to chatID fail with ErrBlocked.
func (r *Recorder) Block(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[chatID] = true
}

// Unblock reverses Block.
func (r *Recorder) Unblock(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocked, chatID)
}

func (r *Recorder) Send(_ context.Context, chatID int64, msg models.Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocked[chatID] {
		return 0, ErrBlocked
	}
	r.nextID++
	r.sent = append(r.sent, Sent{ChatID: chatID, MessageID: r.nextID, Message: msg})
	return r.nextID, nil
}

func (r *Recorder) Edit(_ context.Context, chatID int64, messageID int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocked[chatID] {
		return ErrBlocked
	}
	r.edits[messageID] = text
	return nil
}

func (r *Recorder) AnswerCallback(_ context.Context, callbackID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, callbackID)
	return nil
}

// Sent returns the messages delivered to chatID in order.
func (r *Recorder) Sent(chatID int64) []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for _, s := range r.sent {
		if s.ChatID == chatID {
			out = append(out, s.Message)
		}
	}
	return out
}

// All returns every captured message.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Edited returns the latest edit applied to messageID.
func (r *Recorder) Edited(messageID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text, ok := r.edits[messageID]
	return text, ok
}

// Answered returns the acknowledged callback ids.
func (r *Recorder) Answered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.answered...)
}

// Reset forgets captured messages but keeps blocks.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.answered = nil
	r.edits = make(map[int]string)
}
