package assistant

import (
	"sync"
	"time"
)

// Store keeps per-session conversation context.
type Store interface {
	History(id string) []Content
	Append(id string, turns ...Content)
	Clear(id string)
}

type session struct {
	contents []Content
	lastSeen time.Time
}

// MemoryStore is an in-process Store with idle expiry and a cap on the
// number of retained turns per session.
type MemoryStore struct {
	ttl      time.Duration
	maxTurns int
	mu       sync.Mutex
	sessions map[string]*session
}

func NewMemoryStore(ttl time.Duration, maxTurns int) *MemoryStore {
	s := &MemoryStore{
		ttl:      ttl,
		maxTurns: maxTurns,
		sessions: make(map[string]*session),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) History(id string) []Content {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || time.Since(sess.lastSeen) > s.ttl {
		return nil
	}
	sess.lastSeen = time.Now()

	out := make([]Content, len(sess.contents))
	copy(out, sess.contents)
	return out
}

func (s *MemoryStore) Append(id string, turns ...Content) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || time.Since(sess.lastSeen) > s.ttl {
		sess = &session{}
		s.sessions[id] = sess
	}

	sess.contents = append(sess.contents, turns...)
	if n := len(sess.contents); n > s.maxTurns {
		sess.contents = sess.contents[n-s.maxTurns:]
	}
	sess.lastSeen = time.Now()
}

func (s *MemoryStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if time.Since(sess.lastSeen) <= s.ttl {
			n++
		}
	}
	return n
}

func (s *MemoryStore) sweep() {
	for {
		time.Sleep(time.Minute)

		s.mu.Lock()
		for id, sess := range s.sessions {
			if time.Since(sess.lastSeen) > s.ttl {
				delete(s.sessions, id)
			}
		}
		s.mu.Unlock()
	}
}
