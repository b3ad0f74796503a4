package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

type recordingTracker struct {
	captured []error
	sessions []string
}

func (r *recordingTracker) CaptureError(ctx context.Context, err error, _ map[string]string) error {
	r.captured = append(r.captured, err)
	sessionID, _ := errors.TurnFromContext(ctx)
	r.sessions = append(r.sessions, sessionID)
	return nil
}

func (r *recordingTracker) CaptureMessage(context.Context, string, errors.Level, map[string]string) error {
	return nil
}

func (r *recordingTracker) SetUser(context.Context, string, string, string) {}

func (r *recordingTracker) AddBreadcrumb(context.Context, string, string, errors.Level, map[string]interface{}) {
}

func (r *recordingTracker) Flush(context.Context) error { return nil }

func TestErrorwForwardsErrorValue(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracker := &recordingTracker{}
	log := &Logger{SugaredLogger: zap.New(core).Sugar(), errorTracker: tracker}

	log.With("component", "usage").Errorw("persist failed", "session_id", "s-1", "error", errors.ErrUnavailable)

	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, "usage", logs.All()[0].ContextMap()["component"])
	if assert.Len(t, tracker.captured, 1) {
		assert.True(t, errors.Is(tracker.captured[0], errors.ErrUnavailable))
	}
}

func TestErrorwContextPassesTurnToTracker(t *testing.T) {
	tracker := &recordingTracker{}
	log := &Logger{SugaredLogger: zap.NewNop().Sugar(), errorTracker: tracker}
	ctx := errors.WithTurn(context.Background(), "s-42", "u-7")

	log.ErrorwContext(ctx, "persist failed", "error", errors.ErrUnavailable)
	log.ErrorwContext(ctx, "no error value", "session_id", "s-42")

	assert.Equal(t, []string{"s-42"}, tracker.sessions)
}

func TestWithFieldsKeepsTracker(t *testing.T) {
	tracker := &recordingTracker{}
	log := (&Logger{SugaredLogger: zap.NewNop().Sugar(), errorTracker: tracker}).WithFields(map[string]interface{}{
		"turn": "m-1",
	})

	log.Errorf("finalize failed: %s", "boom")

	assert.Len(t, tracker.captured, 1)
}
