package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"tripflow/internal/availability"
	"tripflow/internal/config"
	"tripflow/internal/eventbus"
	"tripflow/internal/logger"
	"tripflow/internal/matching"
	"tripflow/internal/orchestrator"
	"tripflow/internal/store/postgres"
)

// run wires the orchestrator service and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logger.New("orchestrator")
	ctx = logger.WithCorrelationID(ctx, "startup-001")

	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	if err := postgres.Migrate(cfg, log); err != nil {
		log.Error(ctx, "db_migrate_failed", "Failed to apply database migrations", err, nil)
		return err
	}

	pool, err := postgres.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	bus, err := eventbus.ConnectRabbit(ctx, eventbus.RabbitOptions{
		URL:            cfg.AMQPURL(),
		Producer:       cfg.Service.Name,
		PublishTimeout: cfg.Bus.PublishTimeout,
		HandlerTimeout: cfg.Bus.HandlerTimeout,
		RequeueBackoff: cfg.Bus.RequeueBackoff,
		Prefetch:       cfg.Bus.Prefetch,
	}, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer bus.Close()

	orch := orchestrator.New(log, bus, postgres.New(pool), availability.NewTracker(), matching.NewEngine(), orchestrator.Options{
		Group:          cfg.Service.Name,
		SearchRadiusKM: cfg.Matching.RadiusKM,
		PoolLimit:      cfg.Matching.PoolLimit,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := orch.Run(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		// periodic counter dump keeps dropped/requeued envelopes observable
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				log.Info(gctx, "counters", "Lifecycle and bus counters", map[string]any{
					"orchestrator": orch.Metrics().Snapshot(),
					"bus":          bus.Counters().Snapshot(),
				})
			}
		}
	})

	log.Info(ctx, "service_started", "Trip orchestrator is running", map[string]any{
		"search_radius_km": cfg.Matching.RadiusKM,
		"pool_limit":       cfg.Matching.PoolLimit,
	})

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		log.Error(ctx, "service_failed", "Trip orchestrator stopped with error", err, nil)
		return err
	}

	log.Info(ctx, "shutdown_complete", "Trip orchestrator stopped", nil)
	return nil
}
