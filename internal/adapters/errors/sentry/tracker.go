package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

const defaultFlushTimeout = 2 * time.Second

// Tracker implements error tracking via Sentry
type Tracker struct {
	hub *sentry.Hub
}

// New initializes the Sentry client and returns a tracker bound to its hub
func New(dsn, environment, release string) (*Tracker, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, errors.Wrap(err, "sentry init")
	}

	return &Tracker{hub: sentry.CurrentHub()}, nil
}

// CaptureError sends an error, tagged with the chat turn found in ctx
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		applyTurn(ctx, scope)
		scope.SetTags(tags)
	})

	hub.CaptureException(err)
	return nil
}

// CaptureMessage sends a message to Sentry
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		applyTurn(ctx, scope)
		scope.SetTags(tags)
		scope.SetLevel(convertLevel(level))
	})

	hub.CaptureMessage(message)
	return nil
}

// SetUser associates the hub scope with a user
func (t *Tracker) SetUser(_ context.Context, userID string, email string, username string) {
	t.hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: userID, Email: email, Username: username})
	})
}

// AddBreadcrumb records a pipeline step on the hub
func (t *Tracker) AddBreadcrumb(_ context.Context, message string, category string, level errors.Level, data map[string]interface{}) {
	t.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Message:  message,
		Category: category,
		Level:    convertLevel(level),
		Data:     data,
	}, nil)
}

// Flush waits for pending events, bounded by the ctx deadline
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := defaultFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !t.hub.Flush(timeout) {
		return errors.Wrap(errors.ErrTimeout, "sentry flush")
	}
	return nil
}

func applyTurn(ctx context.Context, scope *sentry.Scope) {
	sessionID, userID := errors.TurnFromContext(ctx)
	if sessionID != "" {
		scope.SetTag("session_id", sessionID)
	}
	if userID != "" {
		scope.SetUser(sentry.User{ID: userID})
	}
}

func convertLevel(level errors.Level) sentry.Level {
	switch level {
	case errors.LevelDebug:
		return sentry.LevelDebug
	case errors.LevelWarning:
		return sentry.LevelWarning
	case errors.LevelError:
		return sentry.LevelError
	case errors.LevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}
