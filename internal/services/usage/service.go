package usage

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/internal/events"
	"github.com/emirks/tercihify-chat/internal/metrics"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// Persister is any durable usage store: the table-backed repository or the file store
type Persister interface {
	Persist(ctx context.Context, log *usage.Log) error
}

// EventPublisher publishes TurnCompleted events
type EventPublisher interface {
	PublishTurnCompleted(ctx context.Context, event events.TurnCompletedEvent) error
}

// ServiceConfig controls persistence
type ServiceConfig struct {
	PersistTimeout time.Duration
	CaptureContent bool
}

// Service persists finalized turn logs. It is the Sink of every accumulator it creates.
type Service struct {
	primary   Persister
	fallback  Persister
	publisher EventPublisher
	cache     QueryCache
	cfg       ServiceConfig
	log       *logger.Logger
}

// ServiceOption configures optional collaborators
type ServiceOption func(*Service)

// WithFallback sets the store used when the primary store fails
func WithFallback(p Persister) ServiceOption {
	return func(s *Service) {
		s.fallback = p
	}
}

// WithEventPublisher publishes a TurnCompleted event after each persisted turn
func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithCacheInvalidation drops cached analytics after each persisted turn
func WithCacheInvalidation(c QueryCache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// NewService creates a new usage service
func NewService(primary Persister, cfg ServiceConfig, log *logger.Logger, opts ...ServiceOption) *Service {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	s := &Service{
		primary: primary,
		cfg:     cfg,
		log:     log.With("component", "usage_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewAccumulator returns a request-scoped accumulator that saves through this service
func (s *Service) NewAccumulator(opts ...AccumulatorOption) *Accumulator {
	base := []AccumulatorOption{
		WithCaptureContent(s.cfg.CaptureContent),
		WithAccumulatorLogger(s.log),
	}
	return NewAccumulator(s, append(base, opts...)...)
}

// Save persists a finalized log. A failing primary store falls back to the secondary one;
// an error is returned only when the turn could not be stored anywhere.
func (s *Service) Save(ctx context.Context, log *usage.Log) error {
	if log == nil {
		return errors.Wrap(errors.ErrInvalidInput, "nil usage log")
	}

	if err := s.persist(ctx, log); err != nil {
		return err
	}

	metrics.RecordTurn(log.Model, string(log.Status), log.PromptTokens, log.CompletionTokens, log.TotalTokens)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warnw("Failed to invalidate analytics cache", "error", err)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTurnCompleted(ctx, events.NewTurnCompletedEvent(log)); err != nil {
			metrics.EventsPublished.WithLabelValues("error").Inc()
			s.log.Warnw("Failed to publish turn completed event",
				"session_id", log.SessionID,
				"error", err,
			)
		} else {
			metrics.EventsPublished.WithLabelValues("success").Inc()
		}
	}

	s.log.Debugw("Usage log saved",
		"session_id", log.SessionID,
		"message_id", log.MessageID,
		"model", log.Model,
		"steps", len(log.Steps),
		"total_tokens", log.TotalTokens,
		"request_size", humanize.Bytes(uint64(log.RequestSize)),
		"response_size", humanize.Bytes(uint64(log.ResponseSize)),
	)
	return nil
}

func (s *Service) persist(ctx context.Context, log *usage.Log) error {
	persistCtx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	start := time.Now()
	err := s.primary.Persist(persistCtx, log)
	metrics.RecordPersist("primary", time.Since(start), err)
	if err == nil {
		return nil
	}

	s.log.ErrorwContext(ctx, "Failed to persist usage log",
		"session_id", log.SessionID,
		"message_id", log.MessageID,
		"error", err,
	)
	if s.fallback == nil {
		return errors.Wrap(err, "persist usage log")
	}

	fallbackCtx, cancelFallback := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancelFallback()

	start = time.Now()
	fallbackErr := s.fallback.Persist(fallbackCtx, log)
	metrics.RecordPersist("fallback", time.Since(start), fallbackErr)
	if fallbackErr != nil {
		s.log.ErrorwContext(ctx, "Fallback usage store failed too",
			"session_id", log.SessionID,
			"error", fallbackErr,
		)
		multi := &errors.MultiError{}
		multi.Add(errors.Wrap(err, "primary store"))
		multi.Add(errors.Wrap(fallbackErr, "fallback store"))
		return multi.ToError()
	}

	s.log.Warnw("Usage log written to fallback store", "session_id", log.SessionID)
	return nil
}
