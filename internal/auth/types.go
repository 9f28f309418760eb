package auth

import "time"

// DefaultRole is granted to every newly registered user.
const DefaultRole = "user"

// User is a row of the users table. PasswordHash never leaves the package
// boundary through JSON.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	LastName     string    `json:"nom"`
	FirstName    string    `json:"prenom"`
	Active       bool      `json:"actif"`
	CreatedAt    time.Time `json:"date_creation"`
}

// PublicUser is the projection returned by registration and login.
type PublicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	LastName  string    `json:"nom"`
	FirstName string    `json:"prenom"`
	CreatedAt time.Time `json:"date_creation"`
}

// Public strips credentials and status.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		LastName:  u.LastName,
		FirstName: u.FirstName,
		CreatedAt: u.CreatedAt,
	}
}

// NewUser carries the fields needed to insert a user.
type NewUser struct {
	Email        string
	PasswordHash string
	LastName     string
	FirstName    string
}

// UserUpdate lists the mutable profile fields; nil means unchanged.
type UserUpdate struct {
	LastName  *string `json:"nom"`
	FirstName *string `json:"prenom"`
	Active    *bool   `json:"actif"`
}

// UserWithRoles is a listing row with aggregated role names.
type UserWithRoles struct {
	User
	Roles []string `json:"roles"`
}

// DeletedUser summarizes a removed account.
type DeletedUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Permission is a named (resource, action) capability granted through roles.
type Permission struct {
	ID          string `json:"-"`
	Name        string `json:"nom"`
	Resource    string `json:"ressource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// Key returns the "resource:action" form used by caches.
func (p Permission) Key() string {
	return PermissionKey(p.Resource, p.Action)
}

// PermissionKey joins resource and action.
func PermissionKey(resource, action string) string {
	return resource + ":" + action
}

// Session is a persisted bearer session. Only the SHA-256 digest of the
// token is stored.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	Active    bool
	CreatedAt time.Time
}

// Identity is the result of resolving a bearer token.
type Identity struct {
	UserID    string    `json:"id"`
	Email     string    `json:"email"`
	LastName  string    `json:"nom"`
	FirstName string    `json:"prenom"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClientInfo describes where a login attempt came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      PublicUser `json:"user"`
}

// Page is one page of the user listing.
type Page struct {
	Users      []UserWithRoles `json:"users"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	Total      int             `json:"total"`
	TotalPages int             `json:"totalPages"`
}
