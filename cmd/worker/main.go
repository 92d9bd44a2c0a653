package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/jobrunner/internal/config"
	"github.com/edvin/jobrunner/internal/logging"
	"github.com/edvin/jobrunner/internal/metrics"
	"github.com/edvin/jobrunner/internal/setup"
	"github.com/edvin/jobrunner/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := setup.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize runtime")
	}
	defer rt.Close()
	metrics.RegisterPgxPoolMetrics(rt.Pool)

	conn, err := amqp.Dial(cfg.BrokerURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open broker channel")
	}

	executor := worker.NewExecutor(rt.Registry, rt.Services.JobResult, rt.Services.JobLog,
		rt.Locker, rt.Events, logger)
	consumer := worker.NewConsumer(ch, executor, worker.ConsumerConfig{
		Queues:             cfg.WorkerQueues,
		Concurrency:        cfg.WorkerConcurrency,
		PrefetchMultiplier: cfg.PrefetchMultiplier,
	}, logger)

	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Strs("queues", cfg.WorkerQueues).
			Int("concurrency", cfg.WorkerConcurrency).
			Msg("starting worker")
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("worker failed")
	}
	logger.Info().Msg("worker stopped")
}
