package worker

import (
	"sync"

	"travelbot/internal/models"
)

// sessionState tracks which sessions have a turn in flight and keeps the last
// snapshot read for each session.
type sessionState struct {
	mu       sync.RWMutex
	inFlight map[int64]struct{}
	sessions map[int64]*models.Session
	history  map[int64][]*models.Message
}

func newSessionState() *sessionState {
	return &sessionState{
		inFlight: make(map[int64]struct{}),
		sessions: make(map[int64]*models.Session),
		history:  make(map[int64][]*models.Message),
	}
}

// begin marks a turn as pending; false means one is already running.
func (s *sessionState) begin(sessionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *sessionState) end(sessionID int64) {
	s.mu.Lock()
	delete(s.inFlight, sessionID)
	s.mu.Unlock()
}

func (s *sessionState) busy(sessionID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inFlight[sessionID]
	return ok
}

func (s *sessionState) setSnapshot(session *models.Session, history []*models.Message) {
	if session == nil {
		return
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.history[session.ID] = history
	s.mu.Unlock()
}

func (s *sessionState) getSnapshot(sessionID int64) (*models.Session, []*models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}
	return session, s.history[sessionID], true
}

// purge drops the cached snapshot. A pending turn stays marked.
func (s *sessionState) purge(sessionID int64) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	delete(s.history, sessionID)
	s.mu.Unlock()
}
