package events

import (
	"context"

	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// MessageProducer is the transport the publisher writes to (kafka.Producer)
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// Publisher publishes usage events to Kafka
type Publisher struct {
	producer MessageProducer
	topic    string
	log      *logger.Logger
}

// NewPublisher creates a new event publisher. An empty topic uses TopicTurnCompleted.
func NewPublisher(producer MessageProducer, topic string, log *logger.Logger) *Publisher {
	if topic == "" {
		topic = TopicTurnCompleted
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		log:      log.With("component", "usage_event_publisher"),
	}
}

// PublishTurnCompleted publishes a turn completed event keyed by session,
// so a session's turns stay ordered within one partition
func (p *Publisher) PublishTurnCompleted(ctx context.Context, event TurnCompletedEvent) error {
	if err := p.producer.Publish(ctx, p.topic, event.SessionID, event); err != nil {
		return errors.Wrapf(err, "publish turn completed for session %s", event.SessionID)
	}

	p.log.Debugw("Published turn completed event",
		"session_id", event.SessionID,
		"message_id", event.MessageID,
		"total_tokens", event.TotalTokens,
	)
	return nil
}
