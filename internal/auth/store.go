package auth

import (
	"context"
	"time"

	"github.com/gautier900/NodeSQL/internal/audit"
)

// UserStore is the Credential Store over users and their role links.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	// Create fails with ErrConflict when the email is taken.
	Create(ctx context.Context, u NewUser) (User, error)
	AssignDefaultRole(ctx context.Context, userID string) error
	Update(ctx context.Context, id string, upd UserUpdate) (User, error)
	// Delete cascades role links and sessions.
	Delete(ctx context.Context, id string) (DeletedUser, error)
	ListPage(ctx context.Context, offset, limit int) ([]UserWithRoles, int, error)
}

// SessionStore persists sessions keyed by token digest.
type SessionStore interface {
	// Create fails with ErrConflict on a duplicate digest.
	Create(ctx context.Context, s Session) error
	// Resolve returns the identity for an active, unexpired session whose
	// user is active, or ErrNotFound.
	Resolve(ctx context.Context, tokenHash string, now time.Time) (Identity, error)
	// Invalidate deactivates an active session and returns its user id, or
	// ErrNotFound when no active session matches.
	Invalidate(ctx context.Context, tokenHash string) (string, error)
}

// PermissionStore answers role -> permission questions and mutates grants.
type PermissionStore interface {
	HasPermission(ctx context.Context, userID, resource, action string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]Permission, error)
	Grant(ctx context.Context, role, resource, action string) error
	Revoke(ctx context.Context, role, resource, action string) error
	AssignRole(ctx context.Context, userID, role string) error
	RemoveRole(ctx context.Context, userID, role string) error
}

// Tx groups the stores bound to one unit of work.
type Tx interface {
	Users() UserStore
	Sessions() SessionStore
	Permissions() PermissionStore
	LoginLog() audit.Store
}

// Store is the pooled handle. Its own accessors run in autocommit mode; InTx
// runs fn in a single transaction that commits only when fn returns nil. fn
// must issue its statements with the ctx it is handed, which carries the
// transaction deadline.
type Store interface {
	Tx
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// PermissionCache holds the resolved permission keys of a user. Get returns
// the generation observed before the miss; Set stores under that generation
// so a set computed before an Invalidate is never served after it.
type PermissionCache interface {
	Get(ctx context.Context, userID string) (keys map[string]struct{}, generation int64, ok bool, err error)
	Set(ctx context.Context, userID string, generation int64, keys []string) error
	Invalidate(ctx context.Context) error
}
