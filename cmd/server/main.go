package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/matthewbaird/entitykit/internal/activity"
	"github.com/matthewbaird/entitykit/internal/config"
	"github.com/matthewbaird/entitykit/internal/eventbus"
	"github.com/matthewbaird/entitykit/internal/logger"
	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/seed"
	"github.com/matthewbaird/entitykit/internal/server"
	"github.com/matthewbaird/entitykit/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "error", err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
	sentry.Flush(2 * time.Second)
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		return err
	}
	log := logger.Init(logger.Options{Dev: cfg.LogDev, SentryDSN: cfg.SentryDSN})

	reg, err := schema.LoadFile(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	table, err := policy.LoadFile(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if cfg.DefaultPolicy != "" {
		table = table.WithDefault(cfg.DefaultPolicy)
	}
	log.Info("catalogue loaded",
		"types", len(reg.Types()),
		"rules", table.Len(),
		"default_policy", table.Default())

	bus := eventbus.New(cfg.EventsBuffer, log)
	bus.Subscribe("log", eventbus.NewLogConsumer(log))
	feed := activity.NewMemoryStore(cfg.ActivityCapacity)
	bus.Subscribe("activity", activity.NewIndexer(feed))
	bus.Start(ctx)
	defer bus.Stop()

	st, err := store.Open(ctx, cfg.DatabaseURL, reg, store.WithPublisher(bus), store.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info("database migrated successfully")

	if cfg.Seed {
		if err := seed.Demo(ctx, st, log); err != nil {
			return err
		}
	}

	return server.Run(ctx, server.Config{
		Port:      cfg.Port,
		Store:     st,
		Evaluator: policy.NewEvaluator(table, policy.WithRegistry(reg)),
		Bus:       bus,
		Activity:  feed,
		Logger:    log,

		AllowedOrigins: cfg.EventsOrigins,
	})
}
