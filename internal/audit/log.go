package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gautier900/NodeSQL/internal/ids"
	"github.com/gautier900/NodeSQL/internal/obs"
)

// Reasons recorded on login log entries.
const (
	ReasonUnknownEmail    = "unknown email"
	ReasonAccountDisabled = "account disabled"
	ReasonBadPassword     = "bad password"
	ReasonLoginOK         = "login ok"
	ReasonLogout          = "logout"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Entry is one immutable login_log row. UserID is nil when the attempted
// email matched no account, or after the account was deleted.
type Entry struct {
	ID         string    `json:"id"`
	UserID     *string   `json:"user_id"`
	Email      string    `json:"email_attempted"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"timestamp"`
}

// Store persists entries. Implementations never update or delete rows.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListForUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// Log records login attempts through whichever Store the caller hands in, so
// the write joins the caller's transaction.
type Log struct {
	logger       *zap.Logger
	now          func() time.Time
	defaultLimit int
}

// Option configures Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithDefaultLimit overrides the history size used when callers pass no limit.
func WithDefaultLimit(n int) Option {
	return func(l *Log) {
		if n > 0 && n <= MaxLimit {
			l.defaultLimit = n
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{logger: logger, now: time.Now, defaultLimit: DefaultLimit}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends entry to store. A failed append is returned to the caller,
// which must abort the surrounding transaction.
func (l *Log) Record(ctx context.Context, store Store, entry Entry) (Entry, error) {
	if store == nil {
		return Entry{}, errors.New("audit: store is required")
	}
	entry.Reason = strings.TrimSpace(entry.Reason)
	if entry.Reason == "" {
		return Entry{}, errors.New("audit: reason is required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = l.now().UTC()
	}
	if err := store.Append(ctx, &entry); err != nil {
		return Entry{}, fmt.Errorf("append login log: %w", err)
	}

	outcome := "failure"
	if entry.Success {
		outcome = "success"
	}
	obs.LoginAttempts.WithLabelValues(outcome, entry.Reason).Inc()

	fields := []zap.Field{
		zap.String("entry_id", entry.ID),
		zap.Bool("success", entry.Success),
		zap.String("reason", entry.Reason),
		zap.String("email", obs.MaskEmail(entry.Email)),
		zap.String("ip", obs.MaskIP(entry.IP)),
	}
	if entry.UserID != nil {
		fields = append(fields, zap.String("user_id", *entry.UserID))
	}
	obs.WithContext(ctx, l.logger).Info("login attempt recorded", fields...)
	return entry, nil
}

// ListForUser returns entries newest first, at most limit of them. limit <= 0
// selects the default, and anything above MaxLimit is clamped.
func (l *Log) ListForUser(ctx context.Context, store Store, userID string, limit int) ([]Entry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("audit: user id is required")
	}
	if limit <= 0 {
		limit = l.defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return store.ListForUser(ctx, userID, limit)
}
