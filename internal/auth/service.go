package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"travelbot/internal/redis"
)

var (
	ErrTokenRequired = errors.New("session token required")
	ErrInvalidToken  = errors.New("invalid session token")
	ErrTokenExpired  = errors.New("session token expired")
)

const tokenCachePrefix = "auth:token:"

// Service issues, validates and revokes the tokens that bind a browser to
// its conversation session.
type Service struct {
	db             *sql.DB
	cache          *redis.Client
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service. rdb may be nil.
func NewService(db *sql.DB, rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:             db,
		cache:          rdb,
		tokenTTL:       ttl,
		cookieName:     "travelbot_session",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// IssueToken mints a random token for the session and persists it.
func (s *Service) IssueToken(ctx context.Context, sessionID int64) (string, error) {
	if sessionID <= 0 {
		return "", errors.New("invalid session id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO session_tokens (token, session_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, sessionID, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, token, sessionID, s.tokenTTL)
			return token, nil
		}
	}
	return "", errors.New("could not issue token")
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token exists and has not expired, returning the session id.
func (s *Service) ValidateToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrTokenRequired
	}
	if sessionID, ok := s.cachedToken(ctx, token); ok {
		return sessionID, nil
	}
	var sessionID int64
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, expires_at FROM session_tokens WHERE token = ?`, token,
	).Scan(&sessionID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("lookup token: %w", err)
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE token = ?`, token)
		return 0, ErrTokenExpired
	}
	s.cacheToken(ctx, token, sessionID, remaining)
	return sessionID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	s.uncacheToken(ctx, token)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeSessionTokens removes every token bound to the session.
func (s *Service) RevokeSessionTokens(ctx context.Context, sessionID int64) error {
	if sessionID <= 0 {
		return nil
	}
	if s.cache != nil {
		rows, err := s.db.QueryContext(ctx, `SELECT token FROM session_tokens WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("list session tokens: %w", err)
		}
		var tokens []string
		for rows.Next() {
			var tok string
			if err := rows.Scan(&tok); err == nil {
				tokens = append(tokens, tok)
			}
		}
		rows.Close()
		for _, tok := range tokens {
			s.uncacheToken(ctx, tok)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("revoke session tokens: %w", err)
	}
	return nil
}

// PurgeExpired deletes tokens past their expiry and reports how many were removed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Service) cacheToken(ctx context.Context, token string, sessionID int64, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, tokenCachePrefix+token, sessionID, ttl); err != nil {
		slog.Warn("cache session token", "error", err)
	}
}

func (s *Service) cachedToken(ctx context.Context, token string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	raw, err := s.cache.Get(ctx, tokenCachePrefix+token)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			slog.Warn("read cached session token", "error", err)
		}
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Service) uncacheToken(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, tokenCachePrefix+token); err != nil {
		slog.Warn("drop cached session token", "error", err)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SessionCookieName returns the cookie name storing session tokens.
func (s *Service) SessionCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
