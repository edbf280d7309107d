package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"travelbot/internal/credential"
)

// CredentialStatus describes a session credential without exposing it.
type CredentialStatus struct {
	Set    bool              `json:"set"`
	Source credential.Source `json:"source"`
}

// SetCredential makes token the session's active credential. A malformed
// token returns credential.ErrInvalid and leaves the previous one in place.
func (s *Service) SetCredential(ctx context.Context, sessionID int64, token string) (CredentialStatus, error) {
	if !credential.Valid(token) {
		return CredentialStatus{}, credential.ErrInvalid
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return CredentialStatus{}, err
	}
	previous, _, err := s.ActiveCredential(ctx, sessionID)
	if err != nil {
		return CredentialStatus{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CredentialStatus{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := s.storeCredential(ctx, tx, sessionID, token, credential.SourceCustom, time.Now().UTC()); err != nil {
		return CredentialStatus{}, err
	}
	if err := tx.Commit(); err != nil {
		return CredentialStatus{}, fmt.Errorf("commit credential: %w", err)
	}
	s.forget(previous, token)
	slog.Info("session credential updated", "session_id", sessionID, "credential", credential.Mask(token))
	s.observers.notify(SessionEvent{Type: EventCredential, SessionID: sessionID, Credential: &CredentialStatus{Set: true, Source: credential.SourceCustom}})
	return CredentialStatus{Set: true, Source: credential.SourceCustom}, nil
}

// ActiveCredential returns the session credential and where it came from.
// An empty token with credential.SourceNone means none is configured.
func (s *Service) ActiveCredential(ctx context.Context, sessionID int64) (string, credential.Source, error) {
	var stored, source string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key, source FROM session_credentials WHERE session_id = ?`,
		sessionID,
	).Scan(&stored, &source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", credential.SourceNone, nil
		}
		return "", credential.SourceNone, fmt.Errorf("lookup credential: %w", err)
	}
	token, err := s.cipher.open(stored)
	if err != nil {
		return "", credential.SourceNone, fmt.Errorf("decrypt credential: %w", err)
	}
	return token, credential.Source(source), nil
}

// CredentialStatus reports whether the session has a usable credential.
func (s *Service) CredentialStatus(ctx context.Context, sessionID int64) (CredentialStatus, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return CredentialStatus{}, err
	}
	token, source, err := s.ActiveCredential(ctx, sessionID)
	if err != nil {
		return CredentialStatus{}, err
	}
	if !credential.Valid(token) {
		return CredentialStatus{}, nil
	}
	return CredentialStatus{Set: true, Source: source}, nil
}

// ClearCredential drops a custom credential, falling back to the process
// default when one is available.
func (s *Service) ClearCredential(ctx context.Context, sessionID int64) (CredentialStatus, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return CredentialStatus{}, err
	}
	previous, _, err := s.ActiveCredential(ctx, sessionID)
	if err != nil {
		return CredentialStatus{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CredentialStatus{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_credentials WHERE session_id = ?`, sessionID); err != nil {
		return CredentialStatus{}, fmt.Errorf("delete credential: %w", err)
	}
	status := CredentialStatus{}
	if credential.Valid(s.defaultCredential) {
		if err := s.storeCredential(ctx, tx, sessionID, s.defaultCredential, credential.SourceDefault, time.Now().UTC()); err != nil {
			return CredentialStatus{}, err
		}
		status = CredentialStatus{Set: true, Source: credential.SourceDefault}
	}
	if err := tx.Commit(); err != nil {
		return CredentialStatus{}, fmt.Errorf("commit credential: %w", err)
	}
	s.forget(previous, s.defaultCredential)
	s.observers.notify(SessionEvent{Type: EventCredential, SessionID: sessionID, Credential: &status})
	return status, nil
}

// storeCredential replaces the session credential inside tx. Delete and insert
// keep the statement portable between sqlite and mysql.
func (s *Service) storeCredential(ctx context.Context, tx execer, sessionID int64, token string, source credential.Source, at time.Time) error {
	sealed, err := s.cipher.seal(token)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_credentials WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("replace credential: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_credentials (session_id, api_key, source, updated_at) VALUES (?, ?, ?, ?)`,
		sessionID, sealed, string(source), at,
	); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// forget lets the invoker drop chat models built for a credential that is no
// longer active, unless it is still the current one.
func (s *Service) forget(previous, current string) {
	if previous == "" || previous == current || previous == s.defaultCredential {
		return
	}
	if f, ok := s.invoker.(interface{ Forget(token string) }); ok {
		f.Forget(previous)
	}
}
