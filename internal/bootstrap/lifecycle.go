package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "github.com/emirks/tercihify-chat/internal/adapters/clickhouse"
	"github.com/emirks/tercihify-chat/internal/adapters/kafka"
	pgclient "github.com/emirks/tercihify-chat/internal/adapters/postgres"
	redisclient "github.com/emirks/tercihify-chat/internal/adapters/redis"
	"github.com/emirks/tercihify-chat/internal/api"
	"github.com/emirks/tercihify-chat/internal/workers"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
	httpTimeout     time.Duration
	drainTimeout    time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
		httpTimeout:     10 * time.Second,
		// covers the consumer's final batch flush
		drainTimeout: 15 * time.Second,
	}
}

// Shutdown performs coordinated cleanup in this order:
// 1. No new requests accepted
// 2. Workers finish cleanly
// 3. The Kafka consumer unblocks and its goroutine drains the batch writer
// 4. Producer closes after in-flight turns are published
// 5. Logs and errors flushed
// 6. Database connections last
func (l *Lifecycle) Shutdown(
	wg *sync.WaitGroup,
	httpServer *api.Server,
	workerScheduler *workers.Scheduler,
	usageConsumer *kafka.Consumer,
	kafkaProducer *kafka.Producer,
	dbClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/7] Stopping HTTP server...")
	if httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, l.httpTimeout)
		if err := httpServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		} else {
			log.Info("✓ HTTP server stopped")
		}
		httpCancel()
	}

	log.Info("[2/7] Stopping background workers...")
	if workerScheduler != nil {
		if err := workerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// The consumer goroutine closes its reader itself once ctx is cancelled;
	// closing here as well unblocks a ReadMessage stuck on the network.
	log.Info("[3/7] Closing Kafka consumer...")
	if usageConsumer != nil {
		if err := usageConsumer.Close(); err != nil {
			log.Warnw("Kafka consumer close failed", "error", err)
		}
	}

	log.Info("[4/7] Waiting for background goroutines...")
	l.waitForGoroutines(wg, l.drainTimeout, log)

	log.Info("[5/7] Closing Kafka producer...")
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	log.Info("[6/7] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, errorTracker, log)
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	}

	log.Info("[7/7] Closing database connections...")
	l.closeDatabases(dbClient, chClient, redisClient, log)

	log.Info("✅ Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	dbClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var errs errors.MultiError

	if dbClient != nil {
		if err := dbClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "usage db"))
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "clickhouse"))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "redis"))
		}
	}

	if errs.HasErrors() {
		log.Errorw("Database close errors", "error", errs.ToError())
	} else {
		log.Info("✓ Database connections closed")
	}
}
