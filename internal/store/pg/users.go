package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/gautier900/NodeSQL/internal/auth"
	"github.com/gautier900/NodeSQL/internal/ids"
)

var userColumns = []string{"id", "email", "password_hash", "last_name", "first_name", "active", "created_at"}

type userRepo struct{ scope }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.LastName, &u.FirstName, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (r userRepo) findBy(ctx context.Context, column, value string) (auth.User, error) {
	query, args, err := r.b.Select(userColumns...).
		From("users").
		Where(sq.Eq{column: value}).
		Limit(1).
		ToSql()
	if err != nil {
		return auth.User{}, fmt.Errorf("build select user sql: %w", err)
	}
	return scanUser(r.q.QueryRowContext(ctx, query, args...))
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	return r.findBy(ctx, "email", email)
}

func (r userRepo) FindByID(ctx context.Context, id string) (auth.User, error) {
	return r.findBy(ctx, "id", id)
}

func (r userRepo) Create(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	query, args, err := r.b.Insert("users").
		Columns("id", "email", "password_hash", "last_name", "first_name").
		Values(ids.New(), nu.Email, nu.PasswordHash, nu.LastName, nu.FirstName).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return auth.User{}, fmt.Errorf("build insert user sql: %w", err)
	}
	u, err := scanUser(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return auth.User{}, mapWriteError(err)
	}
	return u, nil
}

// AssignDefaultRole links a freshly created user to the default role. A
// missing role means the seeds were never applied, which is not the caller's
// fault, so it is reported outside the taxonomy.
func (r userRepo) AssignDefaultRole(ctx context.Context, userID string) error {
	err := assignRole(ctx, r.q, userID, auth.DefaultRole)
	if errors.Is(err, auth.ErrNotFound) {
		return fmt.Errorf("default role %q not provisioned: %v", auth.DefaultRole, err)
	}
	return err
}

func (r userRepo) Update(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	set := map[string]any{}
	if upd.LastName != nil {
		set["last_name"] = *upd.LastName
	}
	if upd.FirstName != nil {
		set["first_name"] = *upd.FirstName
	}
	if upd.Active != nil {
		set["active"] = *upd.Active
	}
	if len(set) == 0 {
		return r.FindByID(ctx, id)
	}
	query, args, err := r.b.Update("users").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return auth.User{}, fmt.Errorf("build update user sql: %w", err)
	}
	return scanUser(r.q.QueryRowContext(ctx, query, args...))
}

func (r userRepo) Delete(ctx context.Context, id string) (auth.DeletedUser, error) {
	var d auth.DeletedUser
	err := r.q.QueryRowContext(ctx, `
		delete from users where id = $1
		returning id, email
	`, id).Scan(&d.ID, &d.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.DeletedUser{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.DeletedUser{}, err
	}
	return d, nil
}

func (r userRepo) ListPage(ctx context.Context, offset, limit int) ([]auth.UserWithRoles, int, error) {
	var total int
	if err := r.q.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query, args, err := r.b.Select(
		"u.id", "u.email", "u.password_hash", "u.last_name", "u.first_name", "u.active", "u.created_at",
		"coalesce(string_agg(r.name, ',' order by r.name), '') as roles",
	).
		From("users u").
		LeftJoin("user_roles ur on ur.user_id = u.id").
		LeftJoin("roles r on r.id = ur.role_id").
		GroupBy("u.id").
		OrderBy("u.created_at desc", "u.id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list users sql: %w", err)
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := []auth.UserWithRoles{}
	for rows.Next() {
		var (
			u     auth.UserWithRoles
			roles string
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.LastName, &u.FirstName, &u.Active, &u.CreatedAt, &roles); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		u.Roles = []string{}
		if roles != "" {
			u.Roles = strings.Split(roles, ",")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return out, total, nil
}
