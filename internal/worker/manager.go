package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"travelbot/internal/models"
	"travelbot/internal/redis"
	"travelbot/internal/service/assistant"
)

var (
	// ErrTurnInFlight rejects a submission while the session's previous turn is pending.
	ErrTurnInFlight = errors.New("a turn is already in progress for this session")
	// ErrDispatcherBusy means the job queue is full.
	ErrDispatcherBusy = errors.New("too many pending turns, try again shortly")
	// ErrManagerClosed is returned for turns submitted during or after shutdown.
	ErrManagerClosed = errors.New("turn manager is shut down")
)

// Conversation is the assistant surface the manager drives.
type Conversation interface {
	RunTurn(ctx context.Context, req assistant.TurnRequest) (*assistant.TurnResult, error)
	GetSessionWithMessages(ctx context.Context, sessionID int64) (*models.Session, []*models.Message, error)
	ResetSession(ctx context.Context, sessionID int64) ([]*models.Message, error)
}

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type turnTask struct {
	ctx      context.Context
	req      assistant.TurnRequest
	resultCh chan workerReturn
}

// Manager serializes turns per session and runs them on the shared pool.
// Session snapshots are cached locally and, when redis is configured, in redis.
type Manager struct {
	conv       Conversation
	dispatcher *Dispatcher
	state      *sessionState
	cache      *stateRedis
	origin     string
	cancel     context.CancelFunc
	closed     atomic.Bool
}

func NewManager(conv Conversation, cfg DispatcherConfig, rdb *redis.Client) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		conv:   conv,
		state:  newSessionState(),
		cache:  newStateCache(rdb),
		origin: uuid.NewString(),
		cancel: cancel,
	}
	m.dispatcher = NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, m, cfg.IdleTimeout)
	m.cache.startListener(ctx, m.applyInvalidation)
	return m
}

// Stream submits a turn and waits for it to finish. The turn keeps running
// if ctx is cancelled after it was queued.
func (m *Manager) Stream(ctx context.Context, req assistant.TurnRequest) (*assistant.TurnResult, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if !m.state.begin(req.SessionID) {
		return nil, ErrTurnInFlight
	}
	defer m.state.end(req.SessionID)

	task := &turnTask{ctx: ctx, req: req, resultCh: make(chan workerReturn, 1)}
	if err := m.dispatcher.Submit(Job{Type: Turn, Task: task}); err != nil {
		return nil, err
	}

	ret := <-task.resultCh
	return ret.result, ret.err
}

// Busy reports whether a turn is pending for sessionID.
func (m *Manager) Busy(sessionID int64) bool {
	return m.state.busy(sessionID)
}

// Snapshot returns the session and its messages, served from cache when possible.
func (m *Manager) Snapshot(ctx context.Context, sessionID int64) (*models.Session, []*models.Message, error) {
	if session, history, ok := m.state.getSnapshot(sessionID); ok {
		return session, history, nil
	}
	if session, history, ok := m.cache.loadSnapshot(ctx, sessionID); ok {
		m.state.setSnapshot(session, history)
		return session, history, nil
	}
	session, history, err := m.conv.GetSessionWithMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	m.state.setSnapshot(session, history)
	m.cache.cacheSnapshot(ctx, session, history)
	return session, history, nil
}

// Reset clears the session history. It is refused while a turn is pending.
func (m *Manager) Reset(ctx context.Context, sessionID int64) ([]*models.Message, error) {
	if !m.state.begin(sessionID) {
		return nil, ErrTurnInFlight
	}
	defer m.state.end(sessionID)

	msgs, err := m.conv.ResetSession(ctx, sessionID)
	m.Purge(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Purge drops cached state for sessionID here and in every other process.
func (m *Manager) Purge(ctx context.Context, sessionID int64) {
	m.state.purge(sessionID)
	m.cache.invalidateSession(ctx, sessionID)
	m.cache.publishInvalidation(ctx, invalidateMessage{Origin: m.origin, SessionID: sessionID, Scope: scopeSession})
}

// Close stops the pool and the invalidation listener.
func (m *Manager) Close() {
	m.closed.Store(true)
	m.cancel()
	m.dispatcher.Stop()
}

func (m *Manager) applyInvalidation(msg invalidateMessage) {
	if msg.Origin == m.origin {
		return
	}
	if msg.Scope == scopeSession {
		m.state.purge(msg.SessionID)
	}
}

func (m *Manager) handleTurn(task *turnTask) {
	if task == nil {
		return
	}
	ctx := context.Background()
	if task.ctx != nil {
		ctx = context.WithoutCancel(task.ctx)
	}
	ret := m.runTurn(ctx, task.req)
	m.Purge(ctx, task.req.SessionID)
	task.resultCh <- ret
}

func (m *Manager) runTurn(ctx context.Context, req assistant.TurnRequest) (ret workerReturn) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("turn panicked", "session_id", req.SessionID, "panic", r)
			ret = workerReturn{err: fmt.Errorf("turn failed: %v", r)}
		}
	}()
	start := time.Now()
	result, err := m.conv.RunTurn(ctx, req)
	slog.Debug("turn finished", "session_id", req.SessionID, "elapsed", time.Since(start), "error", err)
	return workerReturn{result: result, err: err}
}
