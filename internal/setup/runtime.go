// Package setup wires the shared runtime used by every binary: database
// pool, Redis client, event publisher, services, job registry, lock and
// file store.
package setup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edvin/jobrunner/internal/config"
	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/db"
	"github.com/edvin/jobrunner/internal/events"
	"github.com/edvin/jobrunner/internal/filestore"
	"github.com/edvin/jobrunner/internal/jobs"
	"github.com/edvin/jobrunner/internal/lock"
	"github.com/edvin/jobrunner/internal/registry"
)

// eventsChannel is the Redis pub/sub channel lifecycle events go out on.
const eventsChannel = "jobrunner:events"

// inventoryObjectTypes are the object types the shipped backup job
// snapshots.
var inventoryObjectTypes = []string{"device", "circuit", "site"}

// Runtime bundles the shared infrastructure of one process.
type Runtime struct {
	Cfg      *config.Config
	Logger   zerolog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Services *core.Services
	Registry *registry.Registry
	Locker   *lock.Locker
	Events   *events.Publisher
	Files    *filestore.Store
}

// NewRuntime connects everything and registers the shipped job bodies.
// The registry is synced to the database so freshly added jobs appear
// disabled and vanished jobs are flagged not-installed.
func NewRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	publisher := events.NewPublisher(logger,
		events.NewLogSink(logger),
		events.NewRedisBus(redisClient, eventsChannel),
	)

	services := core.NewServices(pool, publisher)

	files := filestore.New(filestore.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}, logger)

	reg := registry.New(services.JobDefinition, services.ObjectRef)
	err = jobs.RegisterAll(reg, jobs.Deps{
		Objects:     services.ObjectRef,
		Snapshots:   files,
		ObjectTypes: inventoryObjectTypes,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("register jobs: %w", err)
	}
	if err := reg.Refresh(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sync job registry: %w", err)
	}

	return &Runtime{
		Cfg:      cfg,
		Logger:   logger,
		Pool:     pool,
		Redis:    redisClient,
		Services: services,
		Registry: reg,
		Locker:   lock.New(redisClient),
		Events:   publisher,
		Files:    files,
	}, nil
}

// Close releases the runtime's connections.
func (r *Runtime) Close() {
	r.Pool.Close()
	_ = r.Redis.Close()
}
