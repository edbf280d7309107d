package assistant

import (
	"log/slog"
	"sync"

	"travelbot/internal/models"
)

type EventType string

const (
	EventMessage    EventType = "message"
	EventReset      EventType = "reset"
	EventModel      EventType = "model"
	EventCredential EventType = "credential"
)

// SessionEvent is published after every session mutation so a shell can
// re-render without polling.
type SessionEvent struct {
	Type       EventType         `json:"type"`
	SessionID  int64             `json:"session_id"`
	Message    *models.Message   `json:"message,omitempty"`
	Messages   []*models.Message `json:"messages,omitempty"`
	Model      string            `json:"model,omitempty"`
	Credential *CredentialStatus `json:"credential,omitempty"`
}

const observerBuffer = 32

type observers struct {
	mu   sync.Mutex
	subs map[int64]map[chan SessionEvent]struct{}
}

func newObservers() *observers {
	return &observers{subs: make(map[int64]map[chan SessionEvent]struct{})}
}

// Subscribe streams events for sessionID until cancel is called or the
// session is deleted. Slow readers miss events rather than block writers.
func (s *Service) Subscribe(sessionID int64) (<-chan SessionEvent, func()) {
	return s.observers.subscribe(sessionID)
}

func (o *observers) subscribe(sessionID int64) (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, observerBuffer)
	o.mu.Lock()
	if o.subs[sessionID] == nil {
		o.subs[sessionID] = make(map[chan SessionEvent]struct{})
	}
	o.subs[sessionID][ch] = struct{}{}
	o.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if set, ok := o.subs[sessionID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(o.subs, sessionID)
				}
			}
		})
	}
	return ch, cancel
}

func (o *observers) notify(ev SessionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping session event for slow subscriber", "session_id", ev.SessionID, "type", ev.Type)
		}
	}
}

func (o *observers) closeSession(sessionID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.subs[sessionID] {
		close(ch)
	}
	delete(o.subs, sessionID)
}
