package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"travelbot/internal/models"
	"travelbot/internal/redis"
)

const (
	redisInvalidateChannel = "worker:invalidate"
	redisStateTTL          = 30 * time.Minute
)

const scopeSession = "session"

type invalidateMessage struct {
	Origin    string `json:"origin"`
	SessionID int64  `json:"session_id"`
	Scope     string `json:"scope"`
}

type snapshot struct {
	Session  *models.Session   `json:"session"`
	Messages []*models.Message `json:"messages"`
}

// stateRedis shares session snapshots between processes. A nil receiver or a
// nil client turns every method into a no-op.
type stateRedis struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateRedis {
	return &stateRedis{client: client}
}

func historyKey(sessionID int64) string {
	return fmt.Sprintf("worker:history:%d", sessionID)
}

func (r *stateRedis) enabled() bool {
	return r != nil && r.client != nil
}

// startListener feeds invalidations published by other processes to handler
// until ctx is done.
func (r *stateRedis) startListener(ctx context.Context, handler func(invalidateMessage)) {
	if !r.enabled() || handler == nil {
		return
	}
	pubsub, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		slog.Error("worker invalidation subscribe failed", "error", err)
		return
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					slog.Warn("worker invalidation decode failed", "error", err)
					continue
				}
				handler(inv)
			}
		}
	}()
}

func (r *stateRedis) publishInvalidation(ctx context.Context, msg invalidateMessage) {
	if !r.enabled() {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("worker invalidation marshal failed", "error", err)
		return
	}
	if err := r.client.Publish(ctx, redisInvalidateChannel, payload); err != nil {
		slog.Warn("worker publish invalidation failed", "error", err)
	}
}

func (r *stateRedis) cacheSnapshot(ctx context.Context, session *models.Session, history []*models.Message) {
	if !r.enabled() || session == nil || session.ID <= 0 {
		return
	}
	data, err := json.Marshal(snapshot{Session: session, Messages: history})
	if err != nil {
		slog.Warn("worker rdb history marshal failed", "error", err)
		return
	}
	if err := r.client.Set(ctx, historyKey(session.ID), data, redisStateTTL); err != nil {
		slog.Warn("worker rdb history failed", "session_id", session.ID, "error", err)
	}
}

func (r *stateRedis) loadSnapshot(ctx context.Context, sessionID int64) (*models.Session, []*models.Message, bool) {
	if !r.enabled() || sessionID <= 0 {
		return nil, nil, false
	}
	raw, err := r.client.Get(ctx, historyKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			slog.Warn("worker load history rdb failed", "session_id", sessionID, "error", err)
		}
		return nil, nil, false
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		slog.Warn("worker decode history rdb failed", "session_id", sessionID, "error", err)
		return nil, nil, false
	}
	if snap.Session == nil || snap.Session.ID != sessionID {
		return nil, nil, false
	}
	return snap.Session, snap.Messages, true
}

func (r *stateRedis) invalidateSession(ctx context.Context, sessionID int64) {
	if !r.enabled() || sessionID <= 0 {
		return
	}
	if err := r.client.Del(ctx, historyKey(sessionID)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		slog.Warn("worker invalidate session rdb failed", "session_id", sessionID, "error", err)
	}
}
