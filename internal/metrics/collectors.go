package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/emirks/tercihify-chat/pkg/logger"
)

// StoreCollector reports 24h usage straight from the usage store at scrape time
type StoreCollector struct {
	log *logger.Logger
	db  *sqlx.DB
	now func() time.Time

	turns24h    *prometheus.Desc
	tokens24h   *prometheus.Desc
	sessions24h *prometheus.Desc
}

// NewStoreCollector creates a collector over the usage tables
func NewStoreCollector(log *logger.Logger, db *sqlx.DB) *StoreCollector {
	return &StoreCollector{
		log: log.With("component", "store_collector"),
		db:  db,
		now: time.Now,

		turns24h: prometheus.NewDesc(
			"chat_usage_store_turns_24h",
			"Turns persisted in the last 24 hours",
			nil, nil,
		),
		tokens24h: prometheus.NewDesc(
			"chat_usage_store_tokens_24h",
			"Total tokens persisted in the last 24 hours",
			nil, nil,
		),
		sessions24h: prometheus.NewDesc(
			"chat_usage_store_sessions_24h",
			"Distinct sessions active in the last 24 hours",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.turns24h
	ch <- c.tokens24h
	ch <- c.sessions24h
}

// Collect implements prometheus.Collector
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var row struct {
		Turns    int64 `db:"turns"`
		Tokens   int64 `db:"tokens"`
		Sessions int64 `db:"sessions"`
	}
	since := c.now().Add(-24 * time.Hour).UnixMilli()
	query := c.db.Rebind(`
		SELECT COUNT(*) AS turns,
		       COALESCE(SUM(total_tokens), 0) AS tokens,
		       COUNT(DISTINCT session_id) AS sessions
		FROM chat_usage_logs
		WHERE created_at_ms >= ?`)

	if err := c.db.GetContext(ctx, &row, query, since); err != nil {
		c.log.Warnw("Failed to collect store metrics", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.turns24h, prometheus.GaugeValue, float64(row.Turns))
	ch <- prometheus.MustNewConstMetric(c.tokens24h, prometheus.GaugeValue, float64(row.Tokens))
	ch <- prometheus.MustNewConstMetric(c.sessions24h, prometheus.GaugeValue, float64(row.Sessions))
}

// RegisterStoreCollector registers the collector with the default registry
func RegisterStoreCollector(collector *StoreCollector) {
	prometheus.MustRegister(collector)
}
