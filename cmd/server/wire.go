package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"

	"olympus/internal/audit"
	"olympus/internal/commerce"
	commercemetrics "olympus/internal/commerce/metrics"
	commerceservice "olympus/internal/commerce/service"
	orderstore "olympus/internal/commerce/store/order"
	"olympus/internal/eventbus"
	busmetrics "olympus/internal/eventbus/metrics"
	"olympus/internal/eventbus/outbox"
	pgstore "olympus/internal/eventbus/store/postgres"
	redisstore "olympus/internal/eventbus/store/redis"
	kafkatransport "olympus/internal/eventbus/transport/kafka"
	"olympus/internal/eventbus/transport/memory"
	"olympus/internal/identity"
	identitymetrics "olympus/internal/identity/metrics"
	"olympus/internal/identity/password"
	identityservice "olympus/internal/identity/service"
	"olympus/internal/identity/store/refreshguard"
	"olympus/internal/identity/store/revocation"
	sessionstore "olympus/internal/identity/store/session"
	"olympus/internal/identity/store/tenantguard"
	userstore "olympus/internal/identity/store/user"
	"olympus/internal/identity/token"
	"olympus/internal/platform/config"
	"olympus/internal/platform/kafka"
	platformmetrics "olympus/internal/platform/metrics"
	"olympus/internal/platform/postgres"
	platformredis "olympus/internal/platform/redis"
	"olympus/internal/policy"
	policymetrics "olympus/internal/policy/metrics"
	"olympus/internal/tenant"
	tenantmetrics "olympus/internal/tenant/metrics"
	tenantservice "olympus/internal/tenant/service"
	tenantstore "olympus/internal/tenant/store/tenant"
	"olympus/migrations"
	"olympus/pkg/platform/circuit"
	"olympus/pkg/platform/middleware/ratelimit"
	"olympus/pkg/platform/retry"
)

const revocationPurgeInterval = 15 * time.Minute

// backends holds the optional external clients. Nil fields fall back to the
// in-memory implementations.
type backends struct {
	db       *sql.DB
	pool     *pgxpool.Pool
	redis    *platformredis.Client
	producer *kgo.Client
	consumer *kgo.Client
	log      *slog.Logger
}

func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{log: log}
	if cfg.Postgres.Enabled() {
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		b.db = db
		if cfg.Postgres.AutoMigrate {
			if err := migrations.Apply(ctx, db); err != nil {
				b.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		pool, err := postgres.OpenPool(ctx, cfg.Postgres)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.pool = pool
	}

	client, err := platformredis.New(ctx, cfg.Redis, platformredis.WithLogger(log))
	if err != nil {
		b.Close()
		return nil, err
	}
	b.redis = client

	if cfg.EventBus.Transport == "kafka" {
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.producer = producer
		if err := kafka.EnsureTopics(ctx, producer, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor,
			cfg.Kafka.Topic, cfg.Kafka.DeadLetterTopic); err != nil {
			b.Close()
			return nil, err
		}
		consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topic)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.consumer = consumer
	}
	return b, nil
}

// Health pings every configured backend.
func (b *backends) Health(ctx context.Context) error {
	var errs []error
	if b.db != nil {
		if err := b.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if b.producer != nil {
		if err := kafka.Ping(ctx, b.producer); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the database and cache clients. Kafka clients belong to the
// bus transport and close with it.
func (b *backends) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			b.log.Warn("close postgres", "error", err)
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.log.Warn("close redis", "error", err)
		}
	}
}

type app struct {
	registry    *prometheus.Registry
	httpMetrics *platformmetrics.Metrics
	tenants     *tenant.Service
	identity    *identity.Service
	orders      *commerce.Service
	revocations identityservice.RevocationList
	bus         *eventbus.Bus
	trail       *audit.Recorder
	relay       *outbox.Relay
	authLimiter ratelimit.Limiter
	background  []func(ctx context.Context) error
}

func buildApp(cfg *config.Config, infra *backends, log *slog.Logger) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.httpMetrics = platformmetrics.New(a.registry)
	identityMetrics := identitymetrics.New(a.registry)
	busMetrics := busmetrics.New(a.registry)

	// The outbox doubles as the unit-of-work runner so that state changes and
	// their events commit together.
	var (
		events   outbox.Store
		tenants  tenantservice.TenantStore
		users    tenantguard.UserStore
		sessions tenantguard.SessionStore
		orders   commerceservice.OrderStore
	)
	if infra.db != nil {
		events = outbox.NewPostgres(infra.db)
		tenants = tenantstore.NewPostgres(infra.db)
		users = userstore.NewPostgres(infra.db)
		sessions = sessionstore.NewPostgres(infra.db)
		orders = orderstore.NewPostgres(infra.db)
	} else {
		events = outbox.NewMemory()
		tenants = tenantstore.NewInMemory()
		users = userstore.NewInMemory()
		sessions = sessionstore.NewInMemory()
		orders = orderstore.NewInMemory()
	}

	a.tenants = tenant.NewService(tenants,
		tenantservice.WithLogger(log),
		tenantservice.WithMetrics(tenantmetrics.New(a.registry)),
		tenantservice.WithOutbox(events),
		tenantservice.WithTx(events),
	)
	checker := tenant.NewActiveChecker(a.tenants)
	engine := policy.NewEngine(checker,
		policy.WithLogger(log),
		policy.WithMetrics(policymetrics.New(a.registry)),
		policy.WithOverrides(userstore.NewOverrides(users)),
	)

	a.revocations = a.revocationList(cfg, infra, identityMetrics)
	a.authLimiter = a.rateLimiter(cfg, infra)
	var guard identityservice.RefreshGuard = refreshguard.NewInMemory()
	if infra.redis != nil {
		guard = refreshguard.NewRedis(infra.redis.Client)
	}

	tokens, err := token.New(token.Config{
		SigningKey:        cfg.Auth.SigningKey,
		RefreshSigningKey: cfg.Auth.RefreshSigningKey,
		Issuer:            cfg.Auth.Issuer,
		AccessTTL:         cfg.Auth.AccessTTL,
		RefreshTTL:        cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Auth.Argon2.Memory,
		Iterations:  cfg.Auth.Argon2.Iterations,
		Parallelism: cfg.Auth.Argon2.Parallelism,
		SaltLength:  cfg.Auth.Argon2.SaltLength,
		KeyLength:   cfg.Auth.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	retryPolicy := retry.Policy{
		MaxAttempts:     cfg.EventBus.MaxAttempts,
		InitialInterval: cfg.EventBus.InitialBackoff,
		MaxInterval:     cfg.EventBus.MaxBackoff,
		Multiplier:      2,
		Jitter:          0.2,
	}

	a.identity, err = identity.NewService(
		tenantguard.NewUsers(users, checker),
		tenantguard.NewSessions(sessions, checker),
		a.tenants, tokens, hasher,
		identityservice.Config{
			LockoutThreshold: cfg.Auth.LockoutThreshold,
			LockDuration:     cfg.Auth.LockDuration,
			RefreshLockTTL:   cfg.Auth.RefreshLockTTL,
		},
		identityservice.WithLogger(log),
		identityservice.WithMetrics(identityMetrics),
		identityservice.WithOutbox(events),
		identityservice.WithTx(events),
		identityservice.WithRevocationList(a.revocations),
		identityservice.WithRefreshGuard(guard),
		identityservice.WithAuthorizer(engine),
		identityservice.WithRetryPolicy(retry.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("identity service: %w", err)
	}

	a.orders, err = commerce.NewService(orders, a.tenants, engine,
		commerceservice.WithLogger(log),
		commerceservice.WithMetrics(commercemetrics.New(a.registry)),
		commerceservice.WithOutbox(events),
		commerceservice.WithTx(events),
		commerceservice.WithRetryPolicy(retry.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("commerce service: %w", err)
	}

	a.bus = newBus(cfg, infra, log, busMetrics, retryPolicy)
	a.trail = audit.NewRecorder(audit.NewMemoryStore(0), log)
	if err := a.trail.Attach(a.bus); err != nil {
		return nil, err
	}
	a.relay = outbox.NewRelay(events, a.bus,
		outbox.WithRelayLogger(log),
		outbox.WithRelayMetrics(busMetrics),
		outbox.WithBatchSize(cfg.EventBus.OutboxBatchSize),
		outbox.WithInterval(cfg.EventBus.OutboxPollInterval),
	)
	return a, nil
}

// revocationList prefers Redis, then Postgres, then process memory. The
// Postgres list needs a periodic purge; Redis expires keys on its own.
func (a *app) revocationList(cfg *config.Config, infra *backends, m *identitymetrics.Metrics) identityservice.RevocationList {
	switch {
	case infra.redis != nil:
		return revocation.NewRedis(infra.redis.Client, revocation.WithLatencyObserver(m.RevocationLatency))
	case infra.db != nil:
		list := revocation.NewPostgres(infra.db)
		a.background = append(a.background, func(ctx context.Context) error {
			purgeRevocations(ctx, list, infra.log)
			return nil
		})
		return list
	default:
		return revocation.NewInMemory(time.Now)
	}
}

// rateLimiter shares the credential endpoint budget through Redis when it is
// configured. Nil disables throttling.
func (a *app) rateLimiter(cfg *config.Config, infra *backends) ratelimit.Limiter {
	if cfg.Auth.RateLimit <= 0 {
		return nil
	}
	if infra.redis != nil {
		return ratelimit.NewRedisWindow(infra.redis.Client, cfg.Auth.RateLimit, cfg.Auth.RateLimitWindow)
	}
	window := ratelimit.NewSlidingWindow(cfg.Auth.RateLimit, cfg.Auth.RateLimitWindow)
	a.background = append(a.background, func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.Auth.RateLimitWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				window.Sweep()
			}
		}
	})
	return window
}

func purgeRevocations(ctx context.Context, list *revocation.Postgres, log *slog.Logger) {
	ticker := time.NewTicker(revocationPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := list.PurgeExpired(ctx)
			if err != nil {
				log.ErrorContext(ctx, "purge expired revocations", "error", err)
				continue
			}
			if n > 0 {
				log.DebugContext(ctx, "purged expired revocations", "count", n)
			}
		}
	}
}

func newBus(cfg *config.Config, infra *backends, log *slog.Logger, m *busmetrics.Metrics, policy retry.Policy) *eventbus.Bus {
	bc := cfg.EventBus
	var transport eventbus.Transport
	if infra.producer != nil {
		transport = kafkatransport.New(infra.producer, infra.consumer, cfg.Kafka.Topic, cfg.Kafka.DeadLetterTopic)
	} else {
		transport = memory.NewTransport(memory.NewLog(), cfg.App.Name)
	}

	opts := []eventbus.Option{
		eventbus.WithLogger(log),
		eventbus.WithMetrics(m),
		eventbus.WithRetryPolicy(policy),
		eventbus.WithBreaker(circuit.New("eventbus-publish",
			circuit.WithFailureThreshold(bc.BreakerThreshold),
			circuit.WithCooldown(bc.BreakerCooldown),
		)),
		eventbus.WithDedupRetention(bc.DedupRetention),
		eventbus.WithLanes(bc.Lanes),
		eventbus.WithBatchSize(bc.BatchSize),
		eventbus.WithPollInterval(bc.PollInterval),
	}
	switch {
	case infra.redis != nil:
		opts = append(opts,
			eventbus.WithDedupStore(redisstore.NewDedup(infra.redis.Client)),
			eventbus.WithLedger(redisstore.NewLedger(infra.redis.Client, bc.DedupRetention)),
		)
	case infra.pool != nil:
		opts = append(opts, eventbus.WithLedger(pgstore.NewLedger(infra.pool)))
	}
	if infra.pool != nil {
		opts = append(opts, eventbus.WithDeadLetterStore(pgstore.NewDeadLetters(infra.pool)))
	}
	return eventbus.New(transport, opts...)
}
