package studio

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionIdle is how long an unused session is kept.
const DefaultSessionIdle = 30 * time.Minute

// Service keeps the live studio sessions in memory.
type Service struct {
	gen  Generator
	opts Options
	idle time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates an empty session registry.
func NewService(gen Generator, opts Options, idle time.Duration) *Service {
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	return &Service{
		gen:      gen,
		opts:     opts.withDefaults(),
		idle:     idle,
		sessions: make(map[string]*Session),
	}
}

// CreateSession provisions a fresh session with an empty draft.
func (s *Service) CreateSession(_ context.Context) (*Session, error) {
	session := NewSession(uuid.NewString(), s.gen, s.opts)

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	log.Printf("[studio] session=%s created", session.ID())
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.Touch()
	return session, nil
}

// DeleteSession removes a session and releases everything it holds.
func (s *Service) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	session.Close()
	log.Printf("[studio] session=%s deleted", id)
	return nil
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Reap closes sessions idle since before now minus the idle window. Sessions
// with an open event stream are kept.
func (s *Service) Reap(now time.Time) int {
	cutoff := now.Add(-s.idle)

	var expired []*Session
	s.mu.Lock()
	for id, session := range s.sessions {
		if session.Events().Count() > 0 {
			continue
		}
		if session.LastActive().Before(cutoff) {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		session.Close()
		log.Printf("[studio] session=%s expired", session.ID())
	}
	return len(expired)
}

// Run reaps idle sessions until ctx is done, then closes all sessions.
func (s *Service) Run(ctx context.Context) {
	interval := s.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case now := <-ticker.C:
			s.Reap(now)
		}
	}
}

func (s *Service) closeAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
