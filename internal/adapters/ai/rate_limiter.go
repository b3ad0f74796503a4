package ai

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/pkg/errors"
)

// RateLimitedCompleter bounds request rate and per-call latency of another completer.
// Summaries are optional, so callers waiting on the limiter give up with the context.
type RateLimitedCompleter struct {
	next    conversation.Completer
	limiter *rate.Limiter
	timeout time.Duration
}

// NewRateLimitedCompleter allows reqPerMinute calls with a burst of a tenth of that (at least one).
// A non-positive rate disables limiting.
func NewRateLimitedCompleter(next conversation.Completer, reqPerMinute int, timeout time.Duration) *RateLimitedCompleter {
	limit := rate.Inf
	burst := 1
	if reqPerMinute > 0 {
		limit = rate.Limit(float64(reqPerMinute) / 60.0)
		burst = reqPerMinute / 10
		if burst < 1 {
			burst = 1
		}
	}

	return &RateLimitedCompleter{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

// Complete waits for a token, then calls the wrapped completer under the per-call timeout
func (c *RateLimitedCompleter) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "summary rate limiter")
	}
	return c.next.Complete(ctx, prompt, maxOutputTokens)
}

// Limit returns the configured rate in requests per minute
func (c *RateLimitedCompleter) Limit() float64 {
	return float64(c.limiter.Limit()) * 60
}
