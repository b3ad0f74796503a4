package consumers

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/emirks/tercihify-chat/internal/events"
	"github.com/emirks/tercihify-chat/internal/metrics"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// MessageReader is the kafka consumer as seen by this package
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// EventStore buffers usage events into the warehouse
type EventStore interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
	Store(ctx context.Context, event events.TurnCompletedEvent) error
}

// UsageEventConsumer reads turn events from Kafka and writes them to ClickHouse in batches.
// This keeps the chat request path independent of the warehouse.
type UsageEventConsumer struct {
	consumer MessageReader
	store    EventStore
	log      *logger.Logger

	processTimeout time.Duration
	stopTimeout    time.Duration

	processed atomic.Int64
	failed    atomic.Int64
}

// NewUsageEventConsumer creates a new usage event consumer
func NewUsageEventConsumer(consumer MessageReader, store EventStore, log *logger.Logger) *UsageEventConsumer {
	return &UsageEventConsumer{
		consumer:       consumer,
		store:          store,
		log:            log.With("component", "usage_event_consumer"),
		processTimeout: 5 * time.Second,
		stopTimeout:    10 * time.Second,
	}
}

// Start consumes until ctx is cancelled. The batch writer is flushed and the reader closed on exit.
func (c *UsageEventConsumer) Start(ctx context.Context) error {
	c.log.Info("Starting usage event consumer")

	c.store.Start(ctx)

	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Errorw("Failed to close usage event consumer", "error", err)
		}
	}()

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
		defer cancel()
		if err := c.store.Stop(stopCtx); err != nil {
			c.log.Errorw("Failed to stop usage event batch writer", "error", err)
		}
		c.log.Infow("Usage event consumer stopped",
			"processed", c.processed.Load(),
			"failed", c.failed.Load(),
		)
	}()

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Reader might be closed during shutdown
			c.log.Debugw("Failed to read usage event", "error", err)
			continue
		}

		// The current message gets its own deadline so shutdown does not drop it halfway
		processCtx, cancel := context.WithTimeout(context.Background(), c.processTimeout)
		if err := c.handle(processCtx, msg); err != nil {
			c.failed.Add(1)
			c.log.Errorw("Failed to handle usage event",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		} else {
			c.processed.Add(1)
		}
		cancel()

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *UsageEventConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var event events.TurnCompletedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		metrics.EventsConsumed.WithLabelValues("decode_error").Inc()
		return errors.Wrap(err, "unmarshal turn completed event")
	}

	if err := c.store.Store(ctx, event); err != nil {
		metrics.EventsConsumed.WithLabelValues("store_error").Inc()
		return errors.Wrapf(err, "failed to store usage event %s", event.ID)
	}

	metrics.EventsConsumed.WithLabelValues("success").Inc()
	c.log.Debugw("Usage event buffered",
		"session_id", event.SessionID,
		"model", event.Model,
		"tokens", event.TotalTokens,
	)
	return nil
}

// Stats returns processed and failed message counts
func (c *UsageEventConsumer) Stats() (processed, failed int64) {
	return c.processed.Load(), c.failed.Load()
}
