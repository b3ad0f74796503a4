package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/emirks/tercihify-chat/internal/adapters/ai"
	chclient "github.com/emirks/tercihify-chat/internal/adapters/clickhouse"
	"github.com/emirks/tercihify-chat/internal/adapters/config"
	errnoop "github.com/emirks/tercihify-chat/internal/adapters/errors/noop"
	"github.com/emirks/tercihify-chat/internal/adapters/errors/sentry"
	"github.com/emirks/tercihify-chat/internal/adapters/kafka"
	pgclient "github.com/emirks/tercihify-chat/internal/adapters/postgres"
	redisclient "github.com/emirks/tercihify-chat/internal/adapters/redis"
	"github.com/emirks/tercihify-chat/internal/api"
	analyticsapi "github.com/emirks/tercihify-chat/internal/api/analytics"
	"github.com/emirks/tercihify-chat/internal/api/health"
	"github.com/emirks/tercihify-chat/internal/consumers"
	"github.com/emirks/tercihify-chat/internal/conversation"
	"github.com/emirks/tercihify-chat/internal/events"
	"github.com/emirks/tercihify-chat/internal/metrics"
	chrepo "github.com/emirks/tercihify-chat/internal/repository/clickhouse"
	"github.com/emirks/tercihify-chat/internal/repository/filestore"
	pgrepo "github.com/emirks/tercihify-chat/internal/repository/postgres"
	redisrepo "github.com/emirks/tercihify-chat/internal/repository/redis"
	"github.com/emirks/tercihify-chat/internal/services/turn"
	usagesvc "github.com/emirks/tercihify-chat/internal/services/usage"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	metrics.Init()
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure opens the usage database and the optional ClickHouse and Redis connections
func (c *Container) MustInitInfrastructure() {
	var err error

	c.Log.Infow("Connecting to usage database...", "driver", c.Config.Postgres.Driver)
	c.DB, err = pgclient.NewClient(c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect usage database: %v", err)
	}
	if c.Config.Postgres.Migrate {
		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		err = pgrepo.Migrate(ctx, c.DB.DB())
		cancel()
		if err != nil {
			c.Log.Fatalf("failed to migrate usage schema: %v", err)
		}
	}
	c.Log.Info("✓ Usage database connected")

	if c.Config.ClickHouse.Enabled {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		err = chrepo.Migrate(ctx, c.CH.Conn())
		cancel()
		if err != nil {
			c.Log.Fatalf("failed to migrate clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	}

	// Redis only backs the analytics cache, so an outage degrades to uncached reads
	if c.Config.Redis.Enabled {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(c.Config.Redis)
		if err != nil {
			c.Log.Warnw("Redis unavailable, analytics cache disabled", "addr", c.Config.Redis.Addr(), "error", err)
			c.Redis = nil
		} else {
			c.Log.Info("✓ Redis connected")
		}
	}
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories initializes the usage stores
func (c *Container) MustInitRepositories() {
	db := c.DB.DB()
	c.Repos.Usage = pgrepo.NewUsageRepository(db)
	c.Repos.Rollups = pgrepo.NewRollupRepository(db)

	if c.Config.Usage.FallbackEnabled {
		files, err := filestore.New(c.Config.Usage.FallbackDir, c.Log)
		if err != nil {
			c.Log.Fatalf("failed to open usage file store: %v", err)
		}
		c.Repos.Files = files
	}

	if c.CH != nil {
		c.Repos.Events = chrepo.NewUsageEventRepository(c.CH.Conn(), chrepo.UsageEventRepositoryConfig{
			BatchSize:     c.Config.ClickHouse.BatchSize,
			FlushInterval: c.Config.ClickHouse.FlushInterval,
		}, c.Log)
	}

	if c.Redis != nil {
		c.Repos.AnalyticsCache = redisrepo.NewAnalyticsCache(c.Redis, c.Config.Usage.AnalyticsCacheTTL)
	}

	metrics.RegisterStoreCollector(metrics.NewStoreCollector(c.Log, db))

	c.Log.Infow("✓ Repositories initialized",
		"file_store", c.Repos.Files != nil,
		"warehouse", c.Repos.Events != nil,
		"analytics_cache", c.Repos.AnalyticsCache != nil,
	)
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes Kafka and the summary completer
func (c *Container) MustInitAdapters() {
	if c.Config.Kafka.Enabled {
		c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
		c.Adapters.EventPublisher = events.NewPublisher(c.Adapters.KafkaProducer, c.Config.Kafka.UsageTopic, c.Log)

		// The warehouse consumer only makes sense with somewhere to write
		if c.Repos.Events != nil {
			c.Adapters.UsageConsumer = provideKafkaConsumer(c.Config, c.Config.Kafka.UsageTopic, c.Log)
		}
	}

	if c.Config.Usage.SummarizationEnabled {
		completer, err := ai.NewCompleter(c.Context, ai.CompleterConfig{
			Provider:          ai.ProviderName(c.Config.AI.SummaryProvider),
			Model:             c.Config.AI.SummaryModel,
			OpenAIKey:         c.Config.AI.OpenAIKey,
			GeminiKey:         c.Config.AI.GeminiKey,
			AnthropicKey:      c.Config.AI.AnthropicKey,
			RequestsPerMinute: c.Config.AI.SummaryRequestsPerMinute,
			Timeout:           c.Config.AI.SummaryTimeout,
		})
		if err != nil {
			// Without a completer the summarizer falls back to the original messages
			c.Log.Warnw("Summary completer unavailable", "provider", c.Config.AI.SummaryProvider, "error", err)
		} else {
			c.Adapters.SummaryCompleter = completer
			c.Log.Infow("✓ Summary completer initialized",
				"provider", c.Config.AI.SummaryProvider,
				"model", c.Config.AI.SummaryModel,
			)
		}
	}
}

// ========================================
// Phase 5: Services
// ========================================

// MustInitServices wires conversation shaping, usage persistence and analytics
func (c *Container) MustInitServices() {
	usageCfg := c.Config.Usage

	c.Services.Cleaner = conversation.NewContentCleaner(conversation.DefaultEstimator)
	c.Services.Limiter = conversation.NewConversationLimiter(
		conversation.WithMaxTokens(usageCfg.MaxContextTokens),
		conversation.WithSystemMessagePreservation(usageCfg.PreserveSystemMessages),
	)
	c.Services.Summarizer = provideSummarizer(c.Config, c.Adapters.SummaryCompleter, c.Log)

	var serviceOpts []usagesvc.ServiceOption
	if c.Repos.Files != nil {
		serviceOpts = append(serviceOpts, usagesvc.WithFallback(c.Repos.Files))
	}
	if c.Adapters.EventPublisher != nil {
		serviceOpts = append(serviceOpts, usagesvc.WithEventPublisher(c.Adapters.EventPublisher))
	}
	if c.Repos.AnalyticsCache != nil {
		serviceOpts = append(serviceOpts, usagesvc.WithCacheInvalidation(c.Repos.AnalyticsCache))
	}
	c.Services.Usage = usagesvc.NewService(c.Repos.Usage, usagesvc.ServiceConfig{
		PersistTimeout: usageCfg.PersistTimeout,
		CaptureContent: usageCfg.CaptureContent,
	}, c.Log, serviceOpts...)

	analyticsOpts := []usagesvc.AnalyticsOption{usagesvc.WithRollups(c.Repos.Rollups)}
	if c.Repos.Files != nil {
		analyticsOpts = append(analyticsOpts, usagesvc.WithSessionStore(c.Repos.Files))
	}
	if c.Repos.Events != nil {
		analyticsOpts = append(analyticsOpts, usagesvc.WithWarehouse(c.Repos.Events))
	}
	if c.Repos.AnalyticsCache != nil {
		analyticsOpts = append(analyticsOpts, usagesvc.WithQueryCache(c.Repos.AnalyticsCache))
	}
	c.Services.Analytics = usagesvc.NewAnalytics(c.Repos.Usage, c.Log, analyticsOpts...)

	c.Services.Pipeline = turn.NewPipeline(
		c.Services.Usage,
		c.Services.Cleaner,
		c.Services.Limiter,
		c.Services.Summarizer,
		c.Log,
	)

	c.Log.Infow("✓ Services initialized",
		"max_context_tokens", c.Services.Limiter.MaxTokens(),
		"summarization", usageCfg.SummarizationEnabled,
	)
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication builds the health checks, the analytics API and the HTTP server
func (c *Container) MustInitApplication() {
	// Workers are registered before the health handler so it can report them
	c.Background.WorkerScheduler = provideWorkers(c.Config, c.Repos.Rollups, c.Log)

	healthOpts := []health.Option{
		health.WithCheck("usage_db", c.DB.Health),
		health.WithWorkers(c.Background.WorkerScheduler),
	}
	if c.CH != nil {
		healthOpts = append(healthOpts, health.WithCheck("clickhouse", c.CH.Health))
	}
	if c.Redis != nil {
		healthOpts = append(healthOpts, health.WithCheck("redis", c.Redis.Health))
	}
	c.Application.HealthHandler = health.New(c.Log, c.Config.App.Name, c.Config.App.Version, healthOpts...)

	c.Application.AnalyticsHandler = analyticsapi.NewHandler(c.Services.Analytics, c.Log)
	router := api.NewRouter(c.Log)
	c.Application.AnalyticsHandler.RegisterRoutes(router)

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:         c.Config.HTTP.Port,
		ServiceName:  c.Config.App.Name,
		Version:      c.Config.App.Version,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, c.Application.HealthHandler, router, c.Log)

	c.Log.Infow("✓ HTTP server configured", "port", c.Config.HTTP.Port, "checks", c.Application.HealthHandler.Components())
}

// ========================================
// Phase 7: Background Processing
// ========================================

// MustInitBackground wires the warehouse consumer
func (c *Container) MustInitBackground() {
	if c.Adapters.UsageConsumer != nil && c.Repos.Events != nil {
		c.Background.UsageEventConsumer = consumers.NewUsageEventConsumer(c.Adapters.UsageConsumer, c.Repos.Events, c.Log)
	}

	c.Log.Infow("✓ Background processing initialized",
		"workers", len(c.Background.WorkerScheduler.GetWorkers()),
		"warehouse_consumer", c.Background.UsageEventConsumer != nil,
	)
}

// ========================================
// Providers
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Async:        false,
		WriteTimeout: 5 * time.Second,
	})
	log.Infow("✓ Kafka producer initialized", "brokers", cfg.Kafka.Brokers)
	return producer
}

func provideKafkaConsumer(cfg *config.Config, topic string, log *logger.Logger) *kafka.Consumer {
	if topic == "" {
		topic = events.TopicTurnCompleted
	}
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: fmt.Sprintf("%s-warehouse", cfg.Kafka.GroupID),
		Topic:   topic,
	})
	log.Infow("✓ Kafka consumer initialized", "topic", topic)
	return consumer
}

func provideSummarizer(cfg *config.Config, completer conversation.Completer, log *logger.Logger) *conversation.ConversationSummarizer {
	opts := []conversation.SummarizerOption{conversation.WithSummarizerLogger(log)}
	if cfg.Usage.SummarizationEnabled {
		opts = append(opts, conversation.WithSummaryPolicy(conversation.ThresholdPolicy{
			TriggerTokens:      cfg.Usage.SummaryTriggerTokens,
			KeepRecentMessages: cfg.Usage.KeepRecentMessages,
		}))
	}

	return conversation.NewConversationSummarizer(conversation.SummarizerConfig{
		MaxTokens:          cfg.Usage.MaxContextTokens,
		KeepRecentMessages: cfg.Usage.KeepRecentMessages,
		SummaryModel:       cfg.AI.SummaryModel,
		MaxSummaryTokens:   cfg.Usage.SummaryMaxOutputTokens,
	}, completer, opts...)
}
