package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/emirks/tercihify-chat/pkg/logger"
)

// Producer publishes JSON events, one writer per topic
type Producer struct {
	mu           sync.Mutex
	writers      map[string]*kafka.Writer
	brokers      []string
	async        bool
	writeTimeout time.Duration
	log          *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers      []string
	Async        bool
	WriteTimeout time.Duration
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Producer{
		writers:      make(map[string]*kafka.Writer),
		brokers:      cfg.Brokers,
		async:        cfg.Async,
		writeTimeout: cfg.WriteTimeout,
		log:          logger.Get().With("component", "kafka_producer"),
	}
}

func (p *Producer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  p.async,
		WriteTimeout:           p.writeTimeout,
		AllowAutoTopicCreation: true,
	}
	p.writers[topic] = w
	return w
}

// Publish JSON-encodes event and writes it to topic. Messages with the same key
// (the chat session) land on the same partition.
func (p *Producer) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("Failed to publish", "topic", topic, "key", key, "error", err)
		return err
	}

	p.log.Debugw("Published", "topic", topic, "key", key, "bytes", len(data))
	return nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorf("Failed to close writer for %s: %v", topic, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
