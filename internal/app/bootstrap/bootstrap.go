package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	distributionbatch "scholarshipboard/contexts/scholarship-fund/distribution-batch-service"
	identityadapter "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/identity"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/memory"
	postgresadapter "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/postgres"
	redisadapter "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/redis"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application/commands"
	workerapp "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application/workers"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
	contractsv1 "scholarshipboard/contracts/gen/events/v1"
	"scholarshipboard/internal/platform/cache"
	"scholarshipboard/internal/platform/config"
	"scholarshipboard/internal/platform/db"
	"scholarshipboard/internal/platform/httpserver"
	"scholarshipboard/internal/platform/messaging"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const presenceRetention = 10 * time.Minute

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	redis    *redis.Client
	jobs     []periodicJob
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres  *db.Postgres
	redis     *redis.Client
	publisher publisherCloser
	jobs      []periodicJob
	logger    *slog.Logger
}

type publisherCloser interface {
	ports.EventPublisher
	Close() error
}

// periodicJob is one background cycle run on its own ticker. A failed cycle
// is logged and retried on the next tick.
type periodicJob struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int, error)
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, "api")
	ctx := context.Background()

	app := &APIApp{logger: logger}
	deps := distributionbatch.Dependencies{
		Quorum:         cfg.ApprovalQuorum,
		PresenceWindow: cfg.PresenceWindow,
		PollMaxWait:    cfg.PollMaxWait,
		PollInterval:   cfg.PollRecheckInterval,
		Logger:         logger,
	}

	var localStore *memory.Store
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		logger.Warn("POSTGRES_DSN is empty, using the in-memory store",
			"event", "bootstrap_in_memory_store",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
		localStore = memory.NewStore(nil)
		if cfg.DevSeed {
			seedDevStore(localStore, strings.TrimSpace(cfg.JWTSecret) == "", logger)
		}
		deps.Batches = localStore
		deps.Approvals = localStore
		deps.Execution = localStore
		deps.Comments = localStore
		deps.Members = localStore
		deps.Auth = localStore
		deps.Clock = localStore
		deps.IDGen = localStore

		// No worker can read this process's outbox, so relay it here.
		bus, err := newLoggingBus(ctx, logger)
		if err != nil {
			return nil, err
		}
		relay := workerapp.OutboxRelay{
			Outbox:    localStore,
			Publisher: bus,
			Clock:     localStore,
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		}
		app.jobs = append(app.jobs, periodicJob{name: "outbox_relay", interval: cfg.OutboxPollInterval, run: relay.RunOnce})
	} else {
		pg, err := connectPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		app.postgres = pg
		repo := postgresadapter.NewRepository(pg.DB, logger)
		deps.Batches = repo
		deps.Approvals = repo
		deps.Execution = repo
		deps.Comments = repo
		deps.Members = repo
		deps.Clock = postgresadapter.SystemClock{}
		deps.IDGen = postgresadapter.UUIDGenerator{}
	}

	if strings.TrimSpace(cfg.JWTSecret) != "" {
		verifier, err := identityadapter.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		deps.Auth = verifier
	} else {
		logger.Warn("JWT_SECRET is empty, only tokens registered on the in-memory store authenticate",
			"event", "bootstrap_jwt_disabled",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		client, err := cache.Connect(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.redis = client
		deps.Presence = redisadapter.NewPresenceTracker(client, cfg.ServiceName+":presence", logger)
	} else {
		presence := localStore
		if presence == nil {
			presence = memory.NewStore(nil)
		}
		deps.Presence = presence
		sweeper := workerapp.PresenceSweeper{
			Presence:  presence,
			Clock:     deps.Clock,
			Retention: presenceRetention,
			Logger:    logger,
		}
		app.jobs = append(app.jobs, periodicJob{name: "presence_sweeper", interval: time.Minute, run: sweeper.RunOnce})
	}

	module := distributionbatch.NewModule(deps)
	module.Store = localStore
	app.server = httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort),
		httpserver.WithPollWait(cfg.PollMaxWait),
		httpserver.WithTrustedProxies(cfg.TrustedProxies),
	)
	return app, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, "worker")
	ctx := context.Background()
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := connectPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &WorkerApp{postgres: pg, logger: logger}

	if strings.TrimSpace(cfg.NATSURL) != "" {
		publisher, err := messaging.NewNATSPublisher(messaging.NATSConfig{
			URL:           cfg.NATSURL,
			Name:          cfg.ServiceName + "-worker",
			SubjectPrefix: cfg.NATSSubject,
		}, logger)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.publisher = publisher
	} else {
		bus, err := newLoggingBus(ctx, logger)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.publisher = bus
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	relay := workerapp.OutboxRelay{
		Outbox:    repo,
		Publisher: app.publisher,
		Clock:     postgresadapter.SystemClock{},
		BatchSize: cfg.OutboxBatchSize,
		Logger:    logger,
	}
	app.jobs = append(app.jobs, periodicJob{name: "outbox_relay", interval: cfg.OutboxPollInterval, run: relay.RunOnce})

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		client, err := cache.Connect(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.redis = client
		sweeper := workerapp.PresenceSweeper{
			Presence:  redisadapter.NewPresenceTracker(client, cfg.ServiceName+":presence", logger),
			Clock:     postgresadapter.SystemClock{},
			Retention: presenceRetention,
			Logger:    logger,
		}
		app.jobs = append(app.jobs, periodicJob{name: "presence_sweeper", interval: time.Minute, run: sweeper.RunOnce})
	}
	return app, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"background_jobs", len(a.jobs),
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.server.Run(groupCtx)
	})
	for _, job := range a.jobs {
		group.Go(func() error {
			return runPeriodic(groupCtx, job, a.logger)
		})
	}
	return group.Wait()
}

func (a *APIApp) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.postgres != nil {
		errs = append(errs, a.postgres.Close())
	}
	return errors.Join(errs...)
}

func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"jobs", len(w.jobs),
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, job := range w.jobs {
		group.Go(func() error {
			return runPeriodic(groupCtx, job, w.logger)
		})
	}
	return group.Wait()
}

func (w *WorkerApp) Close() error {
	var errs []error
	if w.publisher != nil {
		errs = append(errs, w.publisher.Close())
	}
	if w.redis != nil {
		errs = append(errs, w.redis.Close())
	}
	if w.postgres != nil {
		errs = append(errs, w.postgres.Close())
	}
	return errors.Join(errs...)
}

func runPeriodic(ctx context.Context, job periodicJob, logger *slog.Logger) error {
	interval := job.interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := job.run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("background job cycle failed",
				"event", "bootstrap_job_cycle_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"job", job.name,
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newLogger(cfg config.Config, process string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(handler).With("service", cfg.ServiceName, "process", process)
	slog.SetDefault(logger)
	return logger
}

func connectPostgres(ctx context.Context, cfg config.Config, logger *slog.Logger) (*db.Postgres, error) {
	pg, err := db.Connect(cfg.PostgresDSN, db.Options{
		MaxOpenConns:    cfg.PostgresMaxOpen,
		MaxIdleConns:    cfg.PostgresMaxIdle,
		ConnMaxLifetime: cfg.PostgresMaxLife,
	})
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		logger.Info("database migrations applied",
			"event", "bootstrap_migrations_applied",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return pg, nil
}

// newLoggingBus returns an in-process bus with a subscriber per batch event
// type that records each delivery.
func newLoggingBus(ctx context.Context, logger *slog.Logger) (*messaging.Bus, error) {
	bus := messaging.NewBus(logger)
	topics := []string{
		commands.EventBatchCreated,
		commands.EventBatchApproved,
		commands.EventBatchDistributed,
	}
	for _, topic := range topics {
		err := bus.Subscribe(ctx, topic, func(_ context.Context, event contractsv1.Envelope) error {
			logger.Info("batch event delivered",
				"event", "bootstrap_batch_event_delivered",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"event_id", event.EventID,
				"event_type", event.EventType,
			)
			return nil
		})
		if err != nil {
			logger.Error("bus subscription failed",
				"event", "bootstrap_bus_subscribe_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"topic", topic,
				"error", err.Error(),
			)
			_ = bus.Close()
			return nil, err
		}
	}
	return bus, nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
