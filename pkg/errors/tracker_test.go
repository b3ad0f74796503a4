package errors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnContextRoundTrip(t *testing.T) {
	ctx := WithTurn(context.Background(), "session-7", "user-3")

	sessionID, userID := TurnFromContext(ctx)
	assert.Equal(t, "session-7", sessionID)
	assert.Equal(t, "user-3", userID)

	sessionID, userID = TurnFromContext(context.Background())
	assert.Empty(t, sessionID)
	assert.Empty(t, userID)
}
