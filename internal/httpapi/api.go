package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gautier900/NodeSQL/internal/audit"
	"github.com/gautier900/NodeSQL/internal/auth"
	"github.com/gautier900/NodeSQL/internal/obs"
)

// Gate is the slice of *auth.Gate the HTTP layer drives.
type Gate interface {
	Register(ctx context.Context, req auth.RegisterRequest) (auth.PublicUser, error)
	Login(ctx context.Context, email, password string, client auth.ClientInfo) (auth.LoginResult, error)
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
	Authorize(ctx context.Context, id auth.Identity, resource, action string) error
	Logout(ctx context.Context, id auth.Identity, client auth.ClientInfo) error
	LoginHistory(ctx context.Context, userID string, limit int) ([]audit.Entry, error)

	HasPermission(ctx context.Context, userID, resource, action string) (bool, error)
	ListPermissions(ctx context.Context, userID string) ([]auth.Permission, error)
	ListUsers(ctx context.Context, page, limit int) (auth.Page, error)
	UpdateUser(ctx context.Context, userID string, upd auth.UserUpdate) (auth.User, error)
	DeleteUser(ctx context.Context, actor auth.Identity, userID string) (auth.DeletedUser, error)

	GrantPermission(ctx context.Context, role, resource, action string) error
	RevokePermission(ctx context.Context, role, resource, action string) error
	AssignRole(ctx context.Context, userID, role string) error
	RemoveRole(ctx context.Context, userID, role string) error
}

var _ Gate = (*auth.Gate)(nil)

// ReadyProbe reports whether backing services answer.
type ReadyProbe func(ctx context.Context) error

// API is the HTTP layer.
type API struct {
	gate       Gate
	ready      ReadyProbe
	logger     *zap.Logger
	version    string
	rateBurst  int
	ratePerSec int
	maxBody    int64
	trusted    []netip.Prefix
}

type Option func(*API)

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithReadyProbe(p ReadyProbe) Option {
	return func(a *API) { a.ready = p }
}

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithTrustedProxies lists the peers allowed to report the client address
// through X-Forwarded-For.
func WithTrustedProxies(p []netip.Prefix) Option {
	return func(a *API) { a.trusted = p }
}

// WithRateLimit sets the per-IP token bucket applied to the auth endpoints.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

func New(gate Gate, opts ...Option) *API {
	a := &API{
		gate:       gate,
		logger:     zap.NewNop(),
		version:    "dev",
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(ClientIP(a.trusted))
	r.Use(Logging(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(obs.Instrument)

	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(MaxBodyBytes(a.maxBody))
		r.Get("/health", a.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(a.rateBurst, a.ratePerSec))
			r.Post("/auth/register", a.handleRegister)
			r.Post("/auth/login", a.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Post("/auth/logout", a.handleLogout)
			r.Get("/auth/me", a.handleMe)

			r.Route("/users", func(r chi.Router) {
				r.With(a.requirePermission(auth.ResourceUsers, auth.ActionRead)).Get("/", a.handleListUsers)

				r.Route("/{id}", func(r chi.Router) {
					r.Use(requireUserID)
					r.With(a.requirePermission(auth.ResourceUsers, auth.ActionWrite)).Put("/", a.handleUpdateUser)
					r.With(a.requirePermission(auth.ResourceUsers, auth.ActionDelete)).Delete("/", a.handleDeleteUser)
					r.Get("/permissions", a.handleUserPermissions)
					r.Get("/permissions/{resource}/{action}", a.handleUserPermissionCheck)
					r.Get("/login-history", a.handleLoginHistory)

					r.Group(func(r chi.Router) {
						r.Use(a.requirePermission(auth.ResourceRoles, auth.ActionWrite))
						r.Post("/roles", a.handleAssignRole)
						r.Delete("/roles/{role}", a.handleRemoveRole)
					})
				})
			})

			r.Route("/roles/{role}/permissions", func(r chi.Router) {
				r.Use(a.requirePermission(auth.ResourceRoles, auth.ActionWrite))
				r.Post("/", a.handleGrantPermission)
				r.Delete("/{resource}/{action}", a.handleRevokePermission)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			obs.WithContext(r.Context(), a.logger).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "unavailable",
				"database": "down",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": "up",
		"version":  a.version,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeGateError maps the auth taxonomy onto HTTP statuses.
func writeGateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{IP: clientIP(r), UserAgent: r.UserAgent()}
}
