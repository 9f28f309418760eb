package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/gautier900/NodeSQL/internal/auth"
)

type permissionRepo struct{ scope }

func (r permissionRepo) HasPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	var ok bool
	err := r.q.QueryRowContext(ctx, `
		select exists (
			select 1
			from user_roles ur
			join role_permissions rp on rp.role_id = ur.role_id
			join permissions p on p.id = rp.permission_id
			where ur.user_id = $1 and p.resource = $2 and p.action = $3
		)
	`, userID, resource, action).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return ok, nil
}

func (r permissionRepo) ListForUser(ctx context.Context, userID string) ([]auth.Permission, error) {
	query, args, err := r.b.Select("p.id", "p.name", "p.resource", "p.action", "p.description").
		Distinct().
		From("permissions p").
		Join("role_permissions rp on rp.permission_id = p.id").
		Join("user_roles ur on ur.role_id = rp.role_id").
		Where(sq.Eq{"ur.user_id": userID}).
		OrderBy("p.resource", "p.action").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions sql: %w", err)
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	out := []auth.Permission{}
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return out, nil
}

func (r permissionRepo) Grant(ctx context.Context, role, resource, action string) error {
	roleID, err := roleIDByName(ctx, r.q, role)
	if err != nil {
		return err
	}
	var permID string
	err = r.q.QueryRowContext(ctx, `
		select id from permissions where resource = $1 and action = $2
	`, resource, action).Scan(&permID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: permission %s", auth.ErrNotFound, auth.PermissionKey(resource, action))
	}
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id)
		values ($1, $2)
		on conflict do nothing
	`, roleID, permID)
	return mapWriteError(err)
}

func (r permissionRepo) Revoke(ctx context.Context, role, resource, action string) error {
	res, err := r.q.ExecContext(ctx, `
		delete from role_permissions rp
		using roles r, permissions p
		where rp.role_id = r.id and rp.permission_id = p.id
		  and r.name = $1 and p.resource = $2 and p.action = $3
	`, role, resource, action)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (r permissionRepo) AssignRole(ctx context.Context, userID, role string) error {
	return assignRole(ctx, r.q, userID, role)
}

func (r permissionRepo) RemoveRole(ctx context.Context, userID, role string) error {
	res, err := r.q.ExecContext(ctx, `
		delete from user_roles ur
		using roles r
		where ur.role_id = r.id and ur.user_id = $1 and r.name = $2
	`, userID, role)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func roleIDByName(ctx context.Context, q queryer, name string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `select id from roles where name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: role %s", auth.ErrNotFound, name)
	}
	return id, err
}

// assignRole links userID to the named role; an existing link is kept.
func assignRole(ctx context.Context, q queryer, userID, role string) error {
	roleID, err := roleIDByName(ctx, q, role)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, roleID)
	return mapWriteError(err)
}
