package bootstrap

import (
	"context"
	"sync"

	chclient "github.com/emirks/tercihify-chat/internal/adapters/clickhouse"
	"github.com/emirks/tercihify-chat/internal/adapters/config"
	"github.com/emirks/tercihify-chat/internal/adapters/kafka"
	pgclient "github.com/emirks/tercihify-chat/internal/adapters/postgres"
	redisclient "github.com/emirks/tercihify-chat/internal/adapters/redis"
	"github.com/emirks/tercihify-chat/internal/api"
	analyticsapi "github.com/emirks/tercihify-chat/internal/api/analytics"
	"github.com/emirks/tercihify-chat/internal/api/health"
	"github.com/emirks/tercihify-chat/internal/consumers"
	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/internal/events"
	chrepo "github.com/emirks/tercihify-chat/internal/repository/clickhouse"
	"github.com/emirks/tercihify-chat/internal/repository/filestore"
	pgrepo "github.com/emirks/tercihify-chat/internal/repository/postgres"
	redisrepo "github.com/emirks/tercihify-chat/internal/repository/redis"
	"github.com/emirks/tercihify-chat/internal/services/turn"
	usagesvc "github.com/emirks/tercihify-chat/internal/services/usage"
	"github.com/emirks/tercihify-chat/internal/workers"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure (ClickHouse and Redis are optional)
	DB    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Services    *Services
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups the usage stores
type Repositories struct {
	Usage          *pgrepo.UsageRepository
	Rollups        *pgrepo.RollupRepository
	Files          *filestore.Store             // nil when the fallback is disabled
	Events         *chrepo.UsageEventRepository // nil without ClickHouse
	AnalyticsCache *redisrepo.AnalyticsCache    // nil without Redis
}

// Adapters groups external adapters
type Adapters struct {
	KafkaProducer    *kafka.Producer
	UsageConsumer    *kafka.Consumer
	EventPublisher   *events.Publisher
	SummaryCompleter conversation.Completer
}

// Services groups the usage accounting services
type Services struct {
	Cleaner    *conversation.ContentCleaner
	Limiter    *conversation.ConversationLimiter
	Summarizer *conversation.ConversationSummarizer
	Usage      *usagesvc.Service
	Analytics  *usagesvc.Analytics
	Pipeline   *turn.Pipeline
}

// Application groups the HTTP surface
type Application struct {
	HTTPServer       *api.Server
	HealthHandler    *health.Handler
	AnalyticsHandler *analyticsapi.Handler
}

// Background groups background processing components
type Background struct {
	WorkerScheduler    *workers.Scheduler
	UsageEventConsumer *consumers.UsageEventConsumer
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Services:    &Services{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order.
// Panics on any initialization error (fail-fast at startup).
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
	c.MustInitApplication()
	c.MustInitBackground()
}

// Start starts the HTTP server, the event consumer and the workers
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Background.UsageEventConsumer != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := c.Background.UsageEventConsumer.Start(c.Context); err != nil && c.Context.Err() == nil {
				c.Log.Errorw("Usage event consumer failed", "error", err)
			}
		}()
		c.Log.Info("✓ Usage event consumer started")
	}

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	c.Cancel()

	c.Lifecycle.Shutdown(
		c.WG,
		c.Application.HTTPServer,
		c.Background.WorkerScheduler,
		c.Adapters.UsageConsumer,
		c.Adapters.KafkaProducer,
		c.DB,
		c.CH,
		c.Redis,
		c.ErrorTracker,
		c.Log,
	)
}
