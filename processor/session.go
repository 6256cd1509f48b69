package processor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the per-user render context. It owns the single slot
// holding the last computed spectral index, overwritten on every
// index computation and read by the histogram.
type Session struct {
	ID string

	// held for the duration of one render or histogram read
	renderMu sync.Mutex

	mu         sync.Mutex
	lastIndex  *IndexRaster
	selections Selections
	lastUsed   time.Time
}

func NewSession(id string) *Session {
	if len(id) == 0 {
		id = uuid.NewString()
	}
	return &Session{ID: id, lastUsed: time.Now()}
}

// Lock serialises renders of the session.
func (s *Session) Lock() {
	s.renderMu.Lock()
}

func (s *Session) Unlock() {
	s.renderMu.Unlock()
}

func (s *Session) SetLastIndex(r *IndexRaster) {
	s.mu.Lock()
	s.lastIndex = r
	s.mu.Unlock()
}

// LastIndex is nil until an index has been computed.
func (s *Session) LastIndex() *IndexRaster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex
}

func (s *Session) Selections() Selections {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selections
}

func (s *Session) setSelections(sel Selections) {
	s.mu.Lock()
	s.selections = sel
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed)
}

// SessionStore keeps one Session per user and evicts sessions idle
// for longer than TTL.
type SessionStore struct {
	TTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{TTL: ttl, sessions: make(map[string]*Session), now: time.Now}
}

// Get returns the live session with the given id.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	now := st.now()
	if st.TTL > 0 && sess.idleSince(now) > st.TTL {
		delete(st.sessions, id)
		return nil, false
	}
	sess.touch(now)
	return sess, true
}

// GetOrCreate returns the session for id, starting a new one with a
// fresh id when id is unknown or expired.
func (st *SessionStore) GetOrCreate(id string) *Session {
	if sess, ok := st.Get(id); ok {
		return sess
	}

	sess := NewSession("")
	st.mu.Lock()
	sess.touch(st.now())
	st.sessions[sess.ID] = sess
	st.mu.Unlock()
	return sess
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Evict drops expired sessions and returns how many were removed.
func (st *SessionStore) Evict() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.TTL <= 0 {
		return 0
	}
	now := st.now()
	n := 0
	for id, sess := range st.sessions {
		if sess.idleSince(now) > st.TTL {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

// RunEviction calls Evict every interval until done is closed.
func (st *SessionStore) RunEviction(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			st.Evict()
		}
	}
}
