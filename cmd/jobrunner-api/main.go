package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/edvin/jobrunner/internal/api"
	"github.com/edvin/jobrunner/internal/config"
	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/db"
	"github.com/edvin/jobrunner/internal/dispatch"
	"github.com/edvin/jobrunner/internal/logging"
	"github.com/edvin/jobrunner/internal/metrics"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/scheduler"
	"github.com/edvin/jobrunner/internal/setup"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-api-key" {
		createAPIKey(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := setup.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize runtime")
	}
	defer rt.Close()
	metrics.RegisterPgxPoolMetrics(rt.Pool)

	brokerConn, err := amqp.Dial(cfg.BrokerURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer brokerConn.Close()
	brokerCh, err := brokerConn.Channel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open broker channel")
	}

	brokerBackend := dispatch.NewBrokerBackend(brokerCh, logger)
	if err := declareQueues(ctx, rt.Services.Queue, brokerBackend); err != nil {
		logger.Fatal().Err(err).Msg("failed to declare broker queues")
	}

	backends := []dispatch.Backend{brokerBackend}
	if cfg.PodTemplatePath != "" {
		podBackend, err := buildPodBackend(ctx, cfg, rt)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure pod backend")
		}
		backends = append(backends, podBackend)
	}

	dispatcher := dispatch.NewDispatcher(rt.Registry, rt.Services.Queue, rt.Services.JobResult,
		rt.Services.JobLog, rt.Locker, rt.Events, logger, backends...)

	heartbeat := scheduler.NewRedisHeartbeat(rt.Redis, cfg.SchedulerHeartbeatTTL)
	sched := scheduler.New(rt.Services.ScheduledRun, dispatcher, rt.Services.Queue,
		heartbeat, rt.Services.JobResult, rt.Events, cfg.SchedulerTick, logger)

	srv := api.NewServer(api.Deps{
		Logger:     logger,
		Pool:       rt.Pool,
		Services:   rt.Services,
		Registry:   rt.Registry,
		Dispatcher: dispatcher,
		Files:      rt.Files,
		ReadyChecks: map[string]api.ReadyCheck{
			"db": func(ctx context.Context) error { return rt.Pool.Ping(ctx) },
			"redis": func(ctx context.Context) error {
				return rt.Redis.Ping(ctx).Err()
			},
			"broker": func(context.Context) error {
				if brokerConn.IsClosed() {
					return fmt.Errorf("broker connection closed")
				}
				return nil
			},
		},
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Dur("tick", cfg.SchedulerTick).Msg("starting scheduler")
		if err := sched.Run(gctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// declareQueues ensures every worker-pool queue in the directory exists
// on the broker before anything is dispatched to it.
func declareQueues(ctx context.Context, queues *core.QueueService, backend *dispatch.BrokerBackend) error {
	all, err := queues.List(ctx)
	if err != nil {
		return err
	}
	for _, q := range all {
		if q.BackendType != model.BackendWorkerPool {
			continue
		}
		if err := backend.DeclareQueue(q.Name); err != nil {
			return err
		}
	}
	return nil
}

func buildPodBackend(ctx context.Context, cfg *config.Config, rt *setup.Runtime) (*dispatch.PodBackend, error) {
	podCfg, err := dispatch.LoadPodConfig(cfg.PodTemplatePath)
	if err != nil {
		return nil, err
	}

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}

	return dispatch.NewPodBackend(ctx, client, podCfg, rt.Services.JobResult, rt.Services.JobLog,
		rt.Locker, rt.Events, rt.Logger), nil
}

func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	name := fs.String("name", "", "Name for the API key (required)")
	user := fs.String("user", "", "User the key belongs to (required)")
	groups := fs.String("groups", "", "Comma-separated approver groups")
	fs.Parse(args)

	if *name == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "error: --name and --user are required")
		fmt.Fprintln(os.Stderr, "usage: jobrunner-api create-api-key --name <name> --user <user> [--groups a,b]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	var groupList []string
	if *groups != "" {
		for _, g := range strings.Split(*groups, ",") {
			if g = strings.TrimSpace(g); g != "" {
				groupList = append(groupList, g)
			}
		}
	}

	svc := core.NewAPIKeyService(pool)
	key, rawKey, err := svc.Create(ctx, *name, *user, groupList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created successfully.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  User:   %s\n", key.UserName)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key - it will not be shown again.\n")
}
