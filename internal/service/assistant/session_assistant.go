package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"travelbot/internal/credential"
	"travelbot/internal/models"
)

// Greeting is the synthetic first message of every session.
const Greeting = "How may I assist you today?"

// TitleMaxRunes caps the session title taken from the first user utterance.
const TitleMaxRunes = 40

// InitializeSession creates a session holding only the greeting. The process
// default credential, when valid, becomes the session's active credential.
func (s *Service) InitializeSession(ctx context.Context) (*models.Session, []*models.Message, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (title, model_name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		"", models.DefaultModelName, now, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("session id: %w", err)
	}
	greeting, err := insertMessage(ctx, tx, id, models.RoleAssistant, Greeting, now)
	if err != nil {
		return nil, nil, err
	}
	if credential.Valid(s.defaultCredential) {
		if err := s.storeCredential(ctx, tx, id, s.defaultCredential, credential.SourceDefault, now); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit session: %w", err)
	}
	session := &models.Session{ID: id, ModelName: models.DefaultModelName, CreatedAt: now, UpdatedAt: now}
	return session, []*models.Message{greeting}, nil
}

// GetSession returns sql.ErrNoRows for unknown ids.
func (s *Service) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, model_name, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&session.ID, &session.Title, &session.ModelName, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// GetSessionWithMessages returns one session and its ordered messages.
func (s *Service) GetSessionWithMessages(ctx context.Context, sessionID int64) (*models.Session, []*models.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.listMessages(ctx, sessionID)
	if err != nil {
		return session, nil, err
	}
	return session, messages, nil
}

func (s *Service) listMessages(ctx context.Context, sessionID int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AppendMessage stores a message at the end of the session and notifies observers.
func (s *Service) AppendMessage(ctx context.Context, sessionID int64, role models.Role, content string) (*models.Message, error) {
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content cannot be empty")
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	msg, err := insertMessage(ctx, s.db, sessionID, role, content, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	s.observers.notify(SessionEvent{Type: EventMessage, SessionID: sessionID, Message: msg})
	return msg, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, sessionID int64, role models.Role, content string, at time.Time) (*models.Message, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, at,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &models.Message{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: at}, nil
}

// ResetSession replaces the whole history with a fresh greeting. Running it
// twice leaves the same observable state as running it once.
func (s *Service) ResetSession(ctx context.Context, sessionID int64) ([]*models.Message, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, "", now, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reset session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	greeting, err := insertMessage(ctx, tx, sessionID, models.RoleAssistant, Greeting, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reset: %w", err)
	}
	messages := []*models.Message{greeting}
	s.observers.notify(SessionEvent{Type: EventReset, SessionID: sessionID, Messages: messages})
	return messages, nil
}

// SelectModel switches the session to the catalog model called name.
func (s *Service) SelectModel(ctx context.Context, sessionID int64, name string) (models.ModelConfig, error) {
	mc, ok := s.catalog.Lookup(name)
	if !ok {
		return models.ModelConfig{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET model_name = ?, updated_at = ? WHERE id = ?`,
		mc.Name, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return models.ModelConfig{}, fmt.Errorf("select model: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return models.ModelConfig{}, sql.ErrNoRows
	}
	s.observers.notify(SessionEvent{Type: EventModel, SessionID: sessionID, Model: mc.Name})
	return mc, nil
}

// modelFor resolves the session's selected model, falling back to the default
// when the stored name left the catalog.
func (s *Service) modelFor(session *models.Session) (models.ModelConfig, error) {
	if mc, ok := s.catalog.Lookup(session.ModelName); ok {
		return mc, nil
	}
	if mc, ok := s.catalog.Lookup(models.DefaultModelName); ok {
		return mc, nil
	}
	return models.ModelConfig{}, fmt.Errorf("%w: %s", ErrUnknownModel, session.ModelName)
}

// setTitleIfEmpty names the session after its first user utterance.
func (s *Service) setTitleIfEmpty(ctx context.Context, sessionID int64, utterance string) error {
	title := truncateRunes(strings.TrimSpace(utterance), TitleMaxRunes)
	if title == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ? WHERE id = ? AND title = ''`,
		title, sessionID,
	); err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// DeleteSession removes a session with its messages, credential and tokens.
func (s *Service) DeleteSession(ctx context.Context, sessionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM session_credentials WHERE session_id = ?`,
		`DELETE FROM session_tokens WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return fmt.Errorf("delete session data: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	s.observers.closeSession(sessionID)
	return nil
}
