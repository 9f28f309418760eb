package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gautier900/NodeSQL/internal/audit"
)

type loginLogRepo struct{ scope }

func (r loginLogRepo) Append(ctx context.Context, e *audit.Entry) error {
	_, err := r.q.ExecContext(ctx, `
		insert into login_log (id, user_id, email_attempted, ip, user_agent, success, reason, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, nullString(e.UserID), e.Email, e.IP, e.UserAgent, e.Success, e.Reason, e.OccurredAt)
	return err
}

func (r loginLogRepo) ListForUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	rows, err := r.q.QueryContext(ctx, `
		select id, user_id, email_attempted, ip, user_agent, success, reason, occurred_at
		from login_log
		where user_id = $1
		order by occurred_at desc, id desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query login log: %w", err)
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e   audit.Entry
			uid sql.NullString
		)
		if err := rows.Scan(&e.ID, &uid, &e.Email, &e.IP, &e.UserAgent, &e.Success, &e.Reason, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan login log: %w", err)
		}
		if uid.Valid {
			v := uid.String
			e.UserID = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate login log: %w", err)
	}
	return out, nil
}
