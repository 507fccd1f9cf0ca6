package api

import (
	"context"
	"sync"
	"time"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
)

// SessionStore keeps conversation sessions in memory so a client can
// resume one by id on a new connection.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int]*entities.Session
	lastID   int
	timeout  time.Duration

	// OnExpire is called with the id of every session removed by ExpireSessions
	OnExpire func(sessionID int)
}

// NewSessionStore creates a store whose sessions expire after timeout of
// inactivity
func NewSessionStore(timeout time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[int]*entities.Session),
		timeout:  timeout,
	}
}

// Start activates a session for params. A positive resumeID reuses that
// session, creating it under that id when it is unknown. Otherwise a new
// id is allocated.
func (s *SessionStore) Start(params domain.SessionParams, resumeID int) entities.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := resumeID
	if id <= 0 {
		s.lastID++
		id = s.lastID
	} else if id > s.lastID {
		s.lastID = id
	}

	session, exists := s.sessions[id]
	if !exists || !session.IsActive() {
		session = entities.NewSession(params, id)
		s.sessions[id] = session
	} else {
		session.Params = params
	}

	session.Apply(&domain.InitializeResponse{SessionID: id, UserUUID: params.UserUUID})
	return *session
}

// Get returns a copy of an active session
func (s *SessionStore) Get(id int) (entities.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists || !session.IsActive() {
		return entities.Session{}, false
	}
	return *session, true
}

// RecordTranscript stores the transcript of a player's audio turn
func (s *SessionStore) RecordTranscript(id int, resp *domain.TranscriptResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, exists := s.sessions[id]; exists {
		session.RecordTranscript(resp)
	}
}

// RecordResponse accumulates a reply into the session
func (s *SessionStore) RecordResponse(id int, resp *domain.TextResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, exists := s.sessions[id]; exists {
		session.RecordResponse(resp)
	}
}

// Len returns the number of stored sessions
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ExpireSessions terminates and removes sessions idle for longer than the
// store timeout. It returns the number removed.
func (s *SessionStore) ExpireSessions(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.timeout)

	s.mu.Lock()
	var expired []int
	for id, session := range s.sessions {
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return len(expired), err
		}
		if session.LastActiveAt.Before(cutoff) {
			session.Terminate()
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	onExpire := s.OnExpire
	s.mu.Unlock()

	if onExpire != nil {
		for _, id := range expired {
			onExpire(id)
		}
	}
	return len(expired), nil
}
