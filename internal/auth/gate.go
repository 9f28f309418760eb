package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gautier900/NodeSQL/internal/audit"
	"github.com/gautier900/NodeSQL/internal/obs"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100

	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

// Gate orchestrates registration, login, token authentication, permission
// checks and logout on top of the Store.
type Gate struct {
	store    Store
	hasher   Hasher
	sessions *SessionManager
	resolver *PermissionResolver
	audit    *audit.Log
	logger   *zap.Logger
	validate *validator.Validate

	now        func() time.Time
	sessionTTL time.Duration
	cache      PermissionCache

	// dummyDigest is verified against when the email is unknown so the
	// response time does not reveal which accounts exist.
	dummyDigest string
}

// GateOption configures Gate.
type GateOption func(*Gate)

func WithHasher(h Hasher) GateOption {
	return func(g *Gate) {
		if h != nil {
			g.hasher = h
		}
	}
}

func WithSessionTTL(ttl time.Duration) GateOption {
	return func(g *Gate) {
		if ttl > 0 {
			g.sessionTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

func WithLogger(l *zap.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithPermissionCache enables cached permission checks.
func WithPermissionCache(c PermissionCache) GateOption {
	return func(g *Gate) {
		g.cache = c
	}
}

func WithAuditLog(l *audit.Log) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.audit = l
		}
	}
}

func NewGate(store Store, opts ...GateOption) (*Gate, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	g := &Gate{
		store:      store,
		hasher:     NewBcryptHasher(DefaultBcryptCost),
		logger:     zap.NewNop(),
		validate:   validator.New(),
		now:        time.Now,
		sessionTTL: DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.audit == nil {
		g.audit = audit.New(g.logger, audit.WithClock(g.now))
	}
	g.sessions = NewSessionManager(g.sessionTTL, g.now)
	g.resolver = NewPermissionResolver(g.cache, g.logger)

	digest, err := g.hasher.Hash("timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("auth: prepare hasher: %w", err)
	}
	g.dummyDigest = digest
	return g, nil
}

// RegisterRequest carries registration input. Names are optional.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	LastName  string `json:"nom"`
	FirstName string `json:"prenom"`
}

// Register creates a user holding the default role. The uniqueness check,
// insert and role link share one transaction. Failures are not audited.
func (g *Gate) Register(ctx context.Context, req RegisterRequest) (PublicUser, error) {
	email := normalizeEmail(req.Email)
	if email == "" || strings.TrimSpace(req.Password) == "" {
		return PublicUser{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if err := g.validate.Var(email, "email"); err != nil {
		return PublicUser{}, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if len(req.Password) > maxPasswordBytes {
		return PublicUser{}, fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, maxPasswordBytes)
	}

	var created User
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		users := tx.Users()
		_, err := users.FindByEmail(ctx, email)
		if err == nil {
			return fmt.Errorf("%w: email already registered", ErrConflict)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		digest, err := g.hasher.Hash(req.Password)
		if err != nil {
			return err
		}
		u, err := users.Create(ctx, NewUser{
			Email:        email,
			PasswordHash: digest,
			LastName:     strings.TrimSpace(req.LastName),
			FirstName:    strings.TrimSpace(req.FirstName),
		})
		if err != nil {
			return err
		}
		if err := users.AssignDefaultRole(ctx, u.ID); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return PublicUser{}, g.fail(ctx, "register", err)
	}
	obs.WithContext(ctx, g.logger).Info("user registered",
		zap.String("user_id", created.ID),
		zap.String("email", obs.MaskEmail(created.Email)),
	)
	return created.Public(), nil
}

// Login verifies credentials and opens a session. Every decision, success
// or failure, writes exactly one login log entry in the same transaction; if
// that write fails nothing is committed and ErrInternal is returned.
func (g *Gate) Login(ctx context.Context, email, password string, client ClientInfo) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	var (
		result   LoginResult
		decision error
	)
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		entry := audit.Entry{Email: email, IP: client.IP, UserAgent: client.UserAgent}

		user, err := tx.Users().FindByEmail(ctx, email)
		switch {
		case errors.Is(err, ErrNotFound):
			g.hasher.Verify(password, g.dummyDigest)
			entry.Reason = audit.ReasonUnknownEmail
			decision = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
		case err != nil:
			return err
		case !user.Active:
			entry.UserID = &user.ID
			entry.Reason = audit.ReasonAccountDisabled
			decision = fmt.Errorf("%w: account disabled", ErrForbidden)
		case !g.hasher.Verify(password, user.PasswordHash):
			entry.UserID = &user.ID
			entry.Reason = audit.ReasonBadPassword
			decision = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
		default:
			token, expiresAt, err := g.sessions.Create(ctx, tx.Sessions(), user.ID)
			if err != nil {
				return err
			}
			entry.UserID = &user.ID
			entry.Success = true
			entry.Reason = audit.ReasonLoginOK
			result = LoginResult{Token: token, ExpiresAt: expiresAt, User: user.Public()}
		}

		_, err = g.audit.Record(ctx, tx.LoginLog(), entry)
		return err
	})
	if err != nil {
		return LoginResult{}, g.fail(ctx, "login", err)
	}
	if decision != nil {
		return LoginResult{}, decision
	}
	return result, nil
}

// Authenticate resolves a bearer token to the caller's identity.
func (g *Gate) Authenticate(ctx context.Context, token string) (Identity, error) {
	id, err := g.sessions.Resolve(ctx, g.store.Sessions(), token)
	if err != nil {
		return Identity{}, g.fail(ctx, "authenticate", err)
	}
	return id, nil
}

// Authorize returns nil when one of the caller's roles grants (resource, action).
func (g *Gate) Authorize(ctx context.Context, id Identity, resource, action string) error {
	if strings.TrimSpace(id.UserID) == "" {
		return fmt.Errorf("%w: no identity", ErrUnauthenticated)
	}
	ok, err := g.resolver.HasPermission(ctx, g.store.Permissions(), id.UserID, resource, action)
	if err != nil {
		obs.PermissionChecks.WithLabelValues("error").Inc()
		return g.fail(ctx, "authorize", err)
	}
	if !ok {
		obs.PermissionChecks.WithLabelValues("denied").Inc()
		return fmt.Errorf("%w: missing permission %s", ErrForbidden, PermissionKey(resource, action))
	}
	obs.PermissionChecks.WithLabelValues("allowed").Inc()
	return nil
}

// Logout deactivates the caller's session and records it. A session that is
// already inactive reports ErrNotFound.
func (g *Gate) Logout(ctx context.Context, id Identity, client ClientInfo) error {
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		userID, err := g.sessions.Invalidate(ctx, tx.Sessions(), id.Token)
		if err != nil {
			return err
		}
		_, err = g.audit.Record(ctx, tx.LoginLog(), audit.Entry{
			UserID:    &userID,
			Email:     id.Email,
			IP:        client.IP,
			UserAgent: client.UserAgent,
			Success:   true,
			Reason:    audit.ReasonLogout,
		})
		return err
	})
	return g.fail(ctx, "logout", err)
}

// LoginHistory returns the newest login log entries of userID.
func (g *Gate) LoginHistory(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	entries, err := g.audit.ListForUser(ctx, g.store.LoginLog(), userID, limit)
	if err != nil {
		return nil, g.fail(ctx, "login history", err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return entries, nil
}

func (g *Gate) HasPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	ok, err := g.resolver.HasPermission(ctx, g.store.Permissions(), userID, resource, action)
	if err != nil {
		return false, g.fail(ctx, "has permission", err)
	}
	return ok, nil
}

func (g *Gate) ListPermissions(ctx context.Context, userID string) ([]Permission, error) {
	perms, err := g.resolver.ListPermissions(ctx, g.store.Permissions(), userID)
	if err != nil {
		return nil, g.fail(ctx, "list permissions", err)
	}
	return perms, nil
}

// ListUsers returns one page of users with their role names. page starts at 1.
func (g *Gate) ListUsers(ctx context.Context, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	rows, total, err := g.store.Users().ListPage(ctx, (page-1)*limit, limit)
	if err != nil {
		return Page{}, g.fail(ctx, "list users", err)
	}
	if rows == nil {
		rows = []UserWithRoles{}
	}
	return Page{
		Users:      rows,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// UpdateUser changes profile fields and the active flag. Deactivation makes
// every session of the user unusable.
func (g *Gate) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	upd.LastName = trimPtr(upd.LastName)
	upd.FirstName = trimPtr(upd.FirstName)

	var updated User
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		users := tx.Users()
		if _, err := users.FindByID(ctx, userID); err != nil {
			return err
		}
		u, err := users.Update(ctx, userID, upd)
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return User{}, g.fail(ctx, "update user", err)
	}
	return updated, nil
}

// DeleteUser removes an account other than the caller's own. Role links and
// sessions go with it; login log rows are kept with a null user id.
func (g *Gate) DeleteUser(ctx context.Context, actor Identity, userID string) (DeletedUser, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DeletedUser{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if userID == actor.UserID {
		return DeletedUser{}, fmt.Errorf("%w: cannot delete your own account", ErrForbidden)
	}
	var deleted DeletedUser
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.Users().Delete(ctx, userID)
		if err != nil {
			return err
		}
		deleted = d
		return nil
	})
	if err != nil {
		return DeletedUser{}, g.fail(ctx, "delete user", err)
	}
	log := obs.WithContext(ctx, g.logger)
	if err := g.resolver.Invalidate(ctx); err != nil {
		log.Warn("permission cache invalidation failed", zap.Error(err))
	}
	log.Info("user deleted",
		zap.String("user_id", deleted.ID),
		zap.String("actor_id", actor.UserID),
	)
	return deleted, nil
}

// GrantPermission links (resource, action) to role.
func (g *Gate) GrantPermission(ctx context.Context, role, resource, action string) error {
	if blank(role, resource, action) {
		return fmt.Errorf("%w: role, resource and action are required", ErrInvalidInput)
	}
	return g.mutateGrants(ctx, "grant permission", func(ctx context.Context, p PermissionStore) error {
		return p.Grant(ctx, strings.TrimSpace(role), strings.TrimSpace(resource), strings.TrimSpace(action))
	})
}

// RevokePermission unlinks (resource, action) from role.
func (g *Gate) RevokePermission(ctx context.Context, role, resource, action string) error {
	if blank(role, resource, action) {
		return fmt.Errorf("%w: role, resource and action are required", ErrInvalidInput)
	}
	return g.mutateGrants(ctx, "revoke permission", func(ctx context.Context, p PermissionStore) error {
		return p.Revoke(ctx, strings.TrimSpace(role), strings.TrimSpace(resource), strings.TrimSpace(action))
	})
}

// AssignRole gives userID the named role.
func (g *Gate) AssignRole(ctx context.Context, userID, role string) error {
	if blank(userID, role) {
		return fmt.Errorf("%w: user id and role are required", ErrInvalidInput)
	}
	return g.mutateGrants(ctx, "assign role", func(ctx context.Context, p PermissionStore) error {
		return p.AssignRole(ctx, strings.TrimSpace(userID), strings.TrimSpace(role))
	})
}

// RemoveRole takes the named role away from userID.
func (g *Gate) RemoveRole(ctx context.Context, userID, role string) error {
	if blank(userID, role) {
		return fmt.Errorf("%w: user id and role are required", ErrInvalidInput)
	}
	return g.mutateGrants(ctx, "remove role", func(ctx context.Context, p PermissionStore) error {
		return p.RemoveRole(ctx, strings.TrimSpace(userID), strings.TrimSpace(role))
	})
}

// mutateGrants commits fn and then drops cached grants. The mutation stays
// committed when the cache cannot be invalidated, but the caller is told.
func (g *Gate) mutateGrants(ctx context.Context, op string, fn func(context.Context, PermissionStore) error) error {
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, tx.Permissions())
	})
	if err != nil {
		return g.fail(ctx, op, err)
	}
	if err := g.resolver.Invalidate(ctx); err != nil {
		return g.fail(ctx, op, err)
	}
	return nil
}

// fail passes taxonomy errors through and hides everything else behind
// ErrInternal after logging it.
func (g *Gate) fail(ctx context.Context, op string, err error) error {
	if err == nil || IsKnown(err) {
		return err
	}
	obs.WithContext(ctx, g.logger).Error("auth operation failed",
		zap.String("op", op),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s failed", ErrInternal, op)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
