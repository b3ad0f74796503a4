package main

import (
	"context"
	"flag"
	"time"

	"github.com/emirks/tercihify-chat/internal/adapters/config"
	pgclient "github.com/emirks/tercihify-chat/internal/adapters/postgres"
	"github.com/emirks/tercihify-chat/internal/conversation"
	pgrepo "github.com/emirks/tercihify-chat/internal/repository/postgres"
	"github.com/emirks/tercihify-chat/internal/services/turn"
	usagesvc "github.com/emirks/tercihify-chat/internal/services/usage"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

func main() {
	sessions := flag.Int("sessions", 5, "Number of demo chat sessions")
	turns := flag.Int("turns", 4, "Turns per session")
	seed := flag.Int64("seed", 42, "Random seed for token counts and tool calls")
	dryRun := flag.Bool("dry-run", false, "Validate flags and config without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()

	demo := demoConfig{Sessions: *sessions, Turns: *turns, Seed: *seed}
	log.Infow("Starting usage seeder",
		"driver", cfg.Postgres.Driver,
		"sessions", demo.Sessions,
		"turns", demo.Turns,
		"dry_run", *dryRun,
	)

	if err := demo.Validate(); err != nil {
		log.Fatalf("Invalid seeder flags: %v", err)
	}
	if *dryRun {
		log.Info("✅ Dry-run mode: flags and config validated")
		return
	}

	client, err := pgclient.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := pgrepo.Migrate(ctx, client.DB()); err != nil {
		log.Fatalf("Failed to migrate usage schema: %v", err)
	}

	service := usagesvc.NewService(pgrepo.NewUsageRepository(client.DB()), usagesvc.ServiceConfig{
		PersistTimeout: cfg.Usage.PersistTimeout,
		CaptureContent: cfg.Usage.CaptureContent,
	}, log)
	limiter := conversation.NewConversationLimiter(
		conversation.WithMaxTokens(cfg.Usage.MaxContextTokens),
		conversation.WithSystemMessagePreservation(cfg.Usage.PreserveSystemMessages),
	)
	pipeline := turn.NewPipeline(service, nil, limiter, nil, log)

	count, err := seedDemoTurns(ctx, pipeline, demo)
	if err != nil {
		log.Fatalf("Seeding stopped after %d turns: %v", count, err)
	}

	rows, err := pgrepo.NewRollupRepository(client.DB()).UpsertDailyModelRollups(ctx, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		log.Warnw("Failed to refresh today's rollups", "error", err)
	}

	log.Infow("✅ Demo usage seeded", "turns", count, "rollup_rows", rows)
}
