package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInitIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}

func TestRecordPersist(t *testing.T) {
	before := testutil.ToFloat64(TurnsPersisted.WithLabelValues("fallback", "error"))

	RecordPersist("fallback", 10*time.Millisecond, errors.New("disk full"))

	assert.Equal(t, before+1, testutil.ToFloat64(TurnsPersisted.WithLabelValues("fallback", "error")))
}

func TestRecordTurnSkipsZeroCounts(t *testing.T) {
	before := testutil.ToFloat64(Tokens.WithLabelValues("test-model", "total"))

	RecordTurn("test-model", "success", 500, 120, 620)
	RecordTurn("test-model", "error", 0, 0, 0)

	assert.Equal(t, before+620, testutil.ToFloat64(Tokens.WithLabelValues("test-model", "total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(TurnStatus.WithLabelValues("test-model", "error")))
}

func TestRecordTokensSavedIgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(TokensSaved.WithLabelValues("limiting"))

	RecordTokensSaved("limiting", 0)
	RecordTokensSaved("limiting", 1200)

	assert.Equal(t, before+1200, testutil.ToFloat64(TokensSaved.WithLabelValues("limiting")))
}
