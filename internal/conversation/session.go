package conversation

import (
	"sync"
	"time"
)

// Session is one user's volatile conversation state.
type Session struct {
	Owner int64
	Stage Stage

	Answers  []string   // interview answers in question order
	Products [][]string // one answer buffer per described product

	// Derived artifacts reused by later branches.
	Unpacking   string
	Positioning string
	Bio         string
	Analyses    []string
	JTBD        string
	JTBDExtra   string

	// One-shot guards.
	BioDone        bool
	ProductStarted bool
	ProductDone    bool
	JTBDStarted    bool

	StartedAt time.Time
	UpdatedAt time.Time
}

// clone returns a deep copy safe to hand out without the owner lock.
func (s *Session) clone() Session {
	c := *s
	c.Answers = append([]string(nil), s.Answers...)
	c.Analyses = append([]string(nil), s.Analyses...)
	c.Products = make([][]string, len(s.Products))
	for i, p := range s.Products {
		c.Products[i] = append([]string(nil), p...)
	}
	return c
}

// SessionStore keeps sessions in memory, keyed by user id, with one mutex
// per user. A restart loses every session.
type SessionStore struct {
	mu      sync.Mutex
	entries map[int64]*sessionEntry
	now     func() time.Time
}

type sessionEntry struct {
	mu      sync.Mutex
	session *Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		entries: make(map[int64]*sessionEntry),
		now:     time.Now,
	}
}

func (s *SessionStore) entry(owner int64) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[owner]
	if !ok {
		e = &sessionEntry{}
		s.entries[owner] = e
	}
	return e
}

// Lock acquires owner's mutex and returns the matching unlock. Get and
// Reset must only be called while it is held.
func (s *SessionStore) Lock(owner int64) (unlock func()) {
	e := s.entry(owner)
	e.mu.Lock()
	return e.mu.Unlock
}

// Get returns owner's session. The caller holds owner's lock.
func (s *SessionStore) Get(owner int64) (*Session, bool) {
	e := s.entry(owner)
	return e.session, e.session != nil
}

// Reset replaces owner's session with a fresh one at welcome. The caller
// holds owner's lock.
func (s *SessionStore) Reset(owner int64) *Session {
	now := s.now().UTC()
	sess := &Session{Owner: owner, Stage: StageWelcome, StartedAt: now, UpdatedAt: now}
	s.entry(owner).session = sess
	return sess
}

// Snapshot returns a copy of owner's session, taking the lock itself.
func (s *SessionStore) Snapshot(owner int64) (Session, bool) {
	unlock := s.Lock(owner)
	defer unlock()
	sess, ok := s.Get(owner)
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.session != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
