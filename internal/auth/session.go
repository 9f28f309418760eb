package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gautier900/NodeSQL/internal/obs"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	tokenBytes        = 32
)

// SessionManager issues, resolves and revokes opaque bearer tokens. It holds
// no state of its own; every call runs against the SessionStore it is given.
type SessionManager struct {
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

func NewSessionManager(ttl time.Duration, now func() time.Time) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{ttl: ttl, now: now, random: rand.Reader}
}

// Create stores a fresh active session for userID and returns the raw token.
// A digest collision surfaces as ErrConflict; callers may retry.
func (m *SessionManager) Create(ctx context.Context, sessions SessionStore, userID string) (string, time.Time, error) {
	raw := make([]byte, tokenBytes)
	if _, err := io.ReadFull(m.random, raw); err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := m.now().UTC()
	sess := Session{
		TokenHash: HashToken(token),
		UserID:    userID,
		ExpiresAt: now.Add(m.ttl),
		Active:    true,
		CreatedAt: now,
	}
	if err := sessions.Create(ctx, sess); err != nil {
		return "", time.Time{}, err
	}
	return token, sess.ExpiresAt, nil
}

// Resolve maps a bearer token to its identity. Missing, unknown, inactive or
// expired sessions and disabled users all yield ErrUnauthenticated.
func (m *SessionManager) Resolve(ctx context.Context, sessions SessionStore, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.SessionsResolved.WithLabelValues("missing").Inc()
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	now := m.now().UTC()
	id, err := sessions.Resolve(ctx, HashToken(token), now)
	if errors.Is(err, ErrNotFound) {
		obs.SessionsResolved.WithLabelValues("rejected").Inc()
		return Identity{}, fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	}
	if err != nil {
		obs.SessionsResolved.WithLabelValues("error").Inc()
		return Identity{}, err
	}
	if !id.ExpiresAt.After(now) {
		obs.SessionsResolved.WithLabelValues("rejected").Inc()
		return Identity{}, fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	}
	obs.SessionsResolved.WithLabelValues("ok").Inc()
	id.Token = token
	return id, nil
}

// Invalidate deactivates the session behind token. A token whose session is
// already inactive reports ErrNotFound.
func (m *SessionManager) Invalidate(ctx context.Context, sessions SessionStore, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrInvalidInput)
	}
	return sessions.Invalidate(ctx, HashToken(token))
}

// HashToken is the at-rest form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
