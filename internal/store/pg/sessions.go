package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gautier900/NodeSQL/internal/auth"
)

type sessionRepo struct{ scope }

func (r sessionRepo) Create(ctx context.Context, s auth.Session) error {
	_, err := r.q.ExecContext(ctx, `
		insert into sessions (token_hash, user_id, expires_at, active, created_at)
		values ($1, $2, $3, $4, $5)
	`, s.TokenHash, s.UserID, s.ExpiresAt, s.Active, s.CreatedAt)
	return mapWriteError(err)
}

func (r sessionRepo) Resolve(ctx context.Context, tokenHash string, now time.Time) (auth.Identity, error) {
	var id auth.Identity
	err := r.q.QueryRowContext(ctx, `
		select u.id, u.email, u.last_name, u.first_name, s.expires_at
		from sessions s
		join users u on u.id = s.user_id
		where s.token_hash = $1
		  and s.active
		  and s.expires_at > $2
		  and u.active
	`, tokenHash, now).Scan(&id.UserID, &id.Email, &id.LastName, &id.FirstName, &id.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, err
	}
	return id, nil
}

func (r sessionRepo) Invalidate(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := r.q.QueryRowContext(ctx, `
		update sessions set active = false
		where token_hash = $1 and active
		returning user_id
	`, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}
