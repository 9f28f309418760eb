package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gautier900/NodeSQL/internal/audit"
)

// memDB is an in-memory Store used by the package tests. InTx works on a
// snapshot and restores it when fn fails.
type memDB struct {
	users     map[string]User
	userRoles map[string]map[string]struct{}
	roles     map[string]struct{}
	perms     map[string]Permission
	grants    map[string]map[string]struct{}
	sessions  map[string]Session
	logs      []audit.Entry
	seq       int

	failAppend  error
	failResolve error
}

type memStore struct {
	mu sync.Mutex
	db *memDB
}

// seededPermissions mirrors migrations/seeds: every permission goes to admin.
var seededPermissions = []Permission{
	{Name: "users.read", Resource: ResourceUsers, Action: ActionRead},
	{Name: "users.write", Resource: ResourceUsers, Action: ActionWrite},
	{Name: "users.delete", Resource: ResourceUsers, Action: ActionDelete},
	{Name: "roles.write", Resource: ResourceRoles, Action: ActionWrite},
}

func newMemStore() *memStore {
	db := &memDB{
		users:     map[string]User{},
		userRoles: map[string]map[string]struct{}{},
		roles:     map[string]struct{}{"user": {}, "admin": {}},
		perms:     map[string]Permission{},
		grants:    map[string]map[string]struct{}{"user": {}, "admin": {}},
		sessions:  map[string]Session{},
	}
	for _, p := range seededPermissions {
		p.ID = p.Key()
		db.perms[p.Key()] = p
		db.grants["admin"][p.Key()] = struct{}{}
	}
	return &memStore{db: db}
}

func (s *memStore) view(locked bool) *memView {
	return &memView{store: s, locked: locked}
}

func (s *memStore) Users() UserStore             { return s.view(false).Users() }
func (s *memStore) Sessions() SessionStore       { return s.view(false).Sessions() }
func (s *memStore) Permissions() PermissionStore { return s.view(false).Permissions() }
func (s *memStore) LoginLog() audit.Store        { return s.view(false).LoginLog() }

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.db.clone()
	if err := fn(ctx, s.view(true)); err != nil {
		s.db = snap
		return err
	}
	return nil
}

// seedUser inserts an account directly, bypassing the gate.
func (s *memStore) seedUser(email, digest string, active bool, roles ...string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.seq++
	u := User{
		ID:           fmt.Sprintf("u%03d", s.db.seq),
		Email:        email,
		PasswordHash: digest,
		Active:       active,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.db.users[u.ID] = u
	s.db.userRoles[u.ID] = map[string]struct{}{}
	for _, r := range roles {
		s.db.userRoles[u.ID][r] = struct{}{}
	}
	return u
}

func (s *memStore) logsFor(email string) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.db.logs {
		if e.Email == email {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) countSessions(userID string, activeOnly bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.db.sessions {
		if sess.UserID == userID && (!activeOnly || sess.Active) {
			n++
		}
	}
	return n
}

func (db *memDB) clone() *memDB {
	c := *db
	c.users = make(map[string]User, len(db.users))
	for k, v := range db.users {
		c.users[k] = v
	}
	c.userRoles = cloneSets(db.userRoles)
	c.grants = cloneSets(db.grants)
	c.roles = make(map[string]struct{}, len(db.roles))
	for k := range db.roles {
		c.roles[k] = struct{}{}
	}
	c.perms = make(map[string]Permission, len(db.perms))
	for k, v := range db.perms {
		c.perms[k] = v
	}
	c.sessions = make(map[string]Session, len(db.sessions))
	for k, v := range db.sessions {
		c.sessions[k] = v
	}
	c.logs = append([]audit.Entry(nil), db.logs...)
	return &c
}

func cloneSets(in map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(in))
	for k, set := range in {
		inner := make(map[string]struct{}, len(set))
		for v := range set {
			inner[v] = struct{}{}
		}
		out[k] = inner
	}
	return out
}

type memView struct {
	store  *memStore
	locked bool
}

type (
	memUsers    struct{ *memView }
	memSessions struct{ *memView }
	memPerms    struct{ *memView }
	memLogs     struct{ *memView }
)

func (v *memView) Users() UserStore             { return memUsers{v} }
func (v *memView) Sessions() SessionStore       { return memSessions{v} }
func (v *memView) Permissions() PermissionStore { return memPerms{v} }
func (v *memView) LoginLog() audit.Store        { return memLogs{v} }

func (v *memView) db() (*memDB, func()) {
	if v.locked {
		return v.store.db, func() {}
	}
	v.store.mu.Lock()
	return v.store.db, v.store.mu.Unlock
}

func (v memUsers) FindByEmail(_ context.Context, email string) (User, error) {
	db, done := v.db()
	defer done()
	for _, u := range db.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (v memUsers) FindByID(_ context.Context, id string) (User, error) {
	db, done := v.db()
	defer done()
	u, ok := db.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (v memUsers) Create(_ context.Context, nu NewUser) (User, error) {
	db, done := v.db()
	defer done()
	for _, u := range db.users {
		if u.Email == nu.Email {
			return User{}, ErrConflict
		}
	}
	db.seq++
	u := User{
		ID:           fmt.Sprintf("u%03d", db.seq),
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		LastName:     nu.LastName,
		FirstName:    nu.FirstName,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	db.users[u.ID] = u
	db.userRoles[u.ID] = map[string]struct{}{}
	return u, nil
}

func (v memUsers) AssignDefaultRole(ctx context.Context, userID string) error {
	if err := memPerms(v).AssignRole(ctx, userID, DefaultRole); err != nil {
		return fmt.Errorf("default role not provisioned: %v", err)
	}
	return nil
}

func (v memUsers) Update(_ context.Context, id string, upd UserUpdate) (User, error) {
	db, done := v.db()
	defer done()
	u, ok := db.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	db.users[id] = u
	return u, nil
}

func (v memUsers) Delete(_ context.Context, id string) (DeletedUser, error) {
	db, done := v.db()
	defer done()
	u, ok := db.users[id]
	if !ok {
		return DeletedUser{}, ErrNotFound
	}
	delete(db.users, id)
	delete(db.userRoles, id)
	for k, s := range db.sessions {
		if s.UserID == id {
			delete(db.sessions, k)
		}
	}
	for i := range db.logs {
		if db.logs[i].UserID != nil && *db.logs[i].UserID == id {
			db.logs[i].UserID = nil
		}
	}
	return DeletedUser{ID: u.ID, Email: u.Email}, nil
}

func (v memUsers) ListPage(_ context.Context, offset, limit int) ([]UserWithRoles, int, error) {
	db, done := v.db()
	defer done()
	ids := make([]string, 0, len(db.users))
	for id := range db.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []UserWithRoles
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		u := db.users[ids[i]]
		roles := make([]string, 0)
		for r := range db.userRoles[u.ID] {
			roles = append(roles, r)
		}
		sort.Strings(roles)
		out = append(out, UserWithRoles{User: u, Roles: roles})
	}
	return out, len(ids), nil
}

func (v memSessions) Create(_ context.Context, sess Session) error {
	db, done := v.db()
	defer done()
	if _, ok := db.sessions[sess.TokenHash]; ok {
		return ErrConflict
	}
	db.sessions[sess.TokenHash] = sess
	return nil
}

func (v memSessions) Resolve(_ context.Context, tokenHash string, now time.Time) (Identity, error) {
	db, done := v.db()
	defer done()
	if db.failResolve != nil {
		return Identity{}, db.failResolve
	}
	s, ok := db.sessions[tokenHash]
	if !ok || !s.Active || !s.ExpiresAt.After(now) {
		return Identity{}, ErrNotFound
	}
	u, ok := db.users[s.UserID]
	if !ok || !u.Active {
		return Identity{}, ErrNotFound
	}
	return Identity{UserID: u.ID, Email: u.Email, LastName: u.LastName, FirstName: u.FirstName, ExpiresAt: s.ExpiresAt}, nil
}

func (v memSessions) Invalidate(_ context.Context, tokenHash string) (string, error) {
	db, done := v.db()
	defer done()
	s, ok := db.sessions[tokenHash]
	if !ok || !s.Active {
		return "", ErrNotFound
	}
	s.Active = false
	db.sessions[tokenHash] = s
	return s.UserID, nil
}

func (v memPerms) HasPermission(_ context.Context, userID, resource, action string) (bool, error) {
	db, done := v.db()
	defer done()
	key := PermissionKey(resource, action)
	for role := range db.userRoles[userID] {
		if _, ok := db.grants[role][key]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (v memPerms) ListForUser(_ context.Context, userID string) ([]Permission, error) {
	db, done := v.db()
	defer done()
	var out []Permission
	for role := range db.userRoles[userID] {
		for key := range db.grants[role] {
			out = append(out, db.perms[key])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (v memPerms) Grant(_ context.Context, role, resource, action string) error {
	db, done := v.db()
	defer done()
	key := PermissionKey(resource, action)
	if _, ok := db.roles[role]; !ok {
		return ErrNotFound
	}
	if _, ok := db.perms[key]; !ok {
		return ErrNotFound
	}
	db.grants[role][key] = struct{}{}
	return nil
}

func (v memPerms) Revoke(_ context.Context, role, resource, action string) error {
	db, done := v.db()
	defer done()
	key := PermissionKey(resource, action)
	if _, ok := db.grants[role][key]; !ok {
		return ErrNotFound
	}
	delete(db.grants[role], key)
	return nil
}

func (v memPerms) AssignRole(_ context.Context, userID, role string) error {
	db, done := v.db()
	defer done()
	if _, ok := db.roles[role]; !ok {
		return ErrNotFound
	}
	set, ok := db.userRoles[userID]
	if !ok {
		return ErrNotFound
	}
	set[role] = struct{}{}
	return nil
}

func (v memPerms) RemoveRole(_ context.Context, userID, role string) error {
	db, done := v.db()
	defer done()
	if _, ok := db.userRoles[userID][role]; !ok {
		return ErrNotFound
	}
	delete(db.userRoles[userID], role)
	return nil
}

func (v memLogs) Append(_ context.Context, e *audit.Entry) error {
	db, done := v.db()
	defer done()
	if db.failAppend != nil {
		return db.failAppend
	}
	db.logs = append(db.logs, *e)
	return nil
}

func (v memLogs) ListForUser(_ context.Context, userID string, limit int) ([]audit.Entry, error) {
	db, done := v.db()
	defer done()
	var out []audit.Entry
	for i := len(db.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if e := db.logs[i]; e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}
