package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	pgstore "dossier/internal/aggregate/store/postgres"
	"dossier/internal/correlation"
	evidencestore "dossier/internal/evidence/store"
	"dossier/internal/feature"
	"dossier/internal/lock"
	"dossier/internal/platform/config"
	"dossier/internal/platform/httpserver"
	"dossier/internal/platform/kafka"
	"dossier/internal/platform/metrics"
	"dossier/internal/platform/postgres"
	"dossier/internal/platform/redis"
	"dossier/internal/position"
	"dossier/internal/processor"
	procmetrics "dossier/internal/processor/metrics"
	"dossier/internal/queue"
)

const shutdownTimeout = 10 * time.Second

func newWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the queue processors and the ops listener until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
				cfg.Worker.Count = n
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWork(ctx, cfg, log)
		},
	}
	cmd.Flags().Int("workers", 0, "Number of processors (overrides worker.count).")
	return cmd
}

func runWork(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb == nil {
		return errors.New("redis.url is required for the queue")
	}
	defer rdb.Close()

	platformMetrics := metrics.New()
	processorMetrics := procmetrics.New()
	gate := feature.NewStatic(cfg.Features...)

	checks := map[string]httpserver.HealthCheck{
		"postgres": postgres.Health(db),
		"redis":    rdb.Health,
	}

	var notifier processor.Notifier
	if gate.IsEnabled(feature.Correlation) {
		client, err := kafka.NewClient(cfg.Kafka)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := kafka.EnsureTopics(ctx, client, cfg.Kafka); err != nil {
			log.WarnContext(ctx, "correlation topic provisioning failed", "error", err)
		}
		kn, err := correlation.NewKafka(client, cfg.Kafka.CorrelationTopic,
			correlation.WithLogger(log),
			correlation.WithStateChange(func(open bool) { platformMetrics.SetBreakerOpen("correlation", open) }),
		)
		if err != nil {
			return err
		}
		notifier = kn
		checks["kafka"] = kafka.Health(client)
	}

	store := pgstore.New(db)
	evidence := evidencestore.NewPostgres(db)
	q := queue.NewRedis(rdb.Client, queue.WithKey(cfg.Worker.QueueKey))
	locker := lock.NewRedis(rdb.Client, lock.WithTTL(cfg.Worker.LockTTL))

	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.Worker.Count {
		p, err := processor.New(q, evidence, store,
			processor.WithNotifier(notifier),
			processor.WithGate(gate),
			processor.WithLocker(locker),
			processor.WithPollInterval(cfg.Worker.PollInterval),
			processor.WithProcessTimeout(cfg.Worker.ProcessTimeout),
			processor.WithPositionerOptions(
				position.WithWindowSize(cfg.Positioner.WindowSize),
				position.WithMinimumDwell(cfg.Positioner.MinimumDwell),
				position.WithMaximumRadius(cfg.Positioner.MaximumRadius),
			),
			processor.WithAggregatorOptions(position.WithSearchRadius(cfg.Positioner.MaximumRadius)),
			processor.WithLogger(log.With("worker", i)),
			processor.WithMetrics(processorMetrics),
		)
		if err != nil {
			return fmt.Errorf("create processor: %w", err)
		}
		g.Go(func() error {
			platformMetrics.WorkerStarted()
			defer platformMetrics.WorkerStopped()
			return p.Run(gctx)
		})
	}

	srv := httpserver.New(cfg.Ops.Addr, httpserver.OpsRouter(log, prometheus.DefaultGatherer, checks, platformMetrics))
	g.Go(func() error {
		log.InfoContext(gctx, "ops listener started", "addr", cfg.Ops.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.InfoContext(ctx, "dossier workers running", "workers", cfg.Worker.Count, "features", cfg.Features)
	return g.Wait()
}
