package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/rinta-toyoda/retailer-agent-project/internal/api/http"
	"github.com/rinta-toyoda/retailer-agent-project/internal/client/payment"
	"github.com/rinta-toyoda/retailer-agent-project/internal/config"
	eventkafka "github.com/rinta-toyoda/retailer-agent-project/internal/event/kafka"
	"github.com/rinta-toyoda/retailer-agent-project/internal/metrics"
	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/internal/repository/memory"
	mongorepo "github.com/rinta-toyoda/retailer-agent-project/internal/repository/mongo"
	pgrepo "github.com/rinta-toyoda/retailer-agent-project/internal/repository/postgres"
	"github.com/rinta-toyoda/retailer-agent-project/internal/service"
	"github.com/rinta-toyoda/retailer-agent-project/migrations"
	platformhealth "github.com/rinta-toyoda/retailer-agent-project/platform/health/http"
	platformlogging "github.com/rinta-toyoda/retailer-agent-project/platform/logging"
	platformobservability "github.com/rinta-toyoda/retailer-agent-project/platform/observability"
	"github.com/rinta-toyoda/retailer-agent-project/platform/shutdown"
)

const serviceName = "storefront"

// App содержит все зависимости storefront
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *shutdown.Manager

	sweeper    *service.ExpirySweeper
	dispatcher *eventkafka.OutboxDispatcher

	// workCtx живёт до хука "workers"
	workCtx     context.Context
	stopWorkers context.CancelFunc
}

// stores набор репозиториев, выбранный по STORAGE_DRIVER и LEDGER_BACKEND
type stores struct {
	items        repository.InventoryRepository
	reservations repository.ReservationRepository
	carts        repository.CartRepository
	catalog      repository.CatalogRepository
	orders       repository.OrderRepository
	outbox       repository.OutboxRepository
}

// Build создаёт и настраивает все зависимости.
// При ошибке уже открытые соединения закрываются.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: serviceName,
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	cfg.Log(logger)

	shutdownMgr := shutdown.New(cfg.ShutdownTimeout, logger)
	a := &App{cfg: cfg, logger: logger, shutdownMgr: shutdownMgr}
	if err := a.build(ctx); err != nil {
		_ = shutdownMgr.Shutdown()
		platformlogging.Sync(logger)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	otelShutdown, err := platformobservability.Init(ctx, platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           serviceName,
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return fmt.Errorf("failed to init otel: %w", err)
	}
	a.shutdownMgr.Add("otel", otelShutdown)

	readiness := platformhealth.NewReadiness(2 * time.Second)

	st, err := a.openStores(ctx, readiness)
	if err != nil {
		return err
	}

	if cfg.SeedDemoData {
		if err := seedDemoData(ctx, logger, st); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	gateway, err := a.paymentGateway(ctx, readiness)
	if err != nil {
		return err
	}

	inventory := service.NewInventoryService(logger.Named("ledger"), st.items, st.reservations, service.InventoryOptions{
		ReservationTTL: cfg.ReservationTTL,
		Outbox:         st.outbox,
		LowStockTopic:  cfg.Kafka.InventoryTopic,
		Metrics:        m,
	})
	checkout := service.NewCheckoutService(logger.Named("checkout"), service.CheckoutDeps{
		Carts:        st.carts,
		Reservations: st.reservations,
		Orders:       st.orders,
		Ledger:       inventory,
		Payments:     gateway,
	}, service.CheckoutOptions{
		PaymentTimeout: cfg.Payment.Timeout,
		CheckoutTopic:  cfg.Kafka.CheckoutTopic,
		Metrics:        m,
	})
	carts := service.NewCartService(logger.Named("cart"), st.carts, st.catalog)

	a.sweeper = service.NewExpirySweeper(logger.Named("sweeper"), st.reservations, inventory, m,
		cfg.SweepInterval, cfg.SweepBatchSize)

	if cfg.Kafka.Enabled {
		writer := eventkafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.WriteTimeout)
		a.dispatcher = eventkafka.NewOutboxDispatcher(logger.Named("outbox"), st.outbox, writer, m, eventkafka.DispatcherConfig{
			BatchSize:  cfg.Outbox.BatchSize,
			Interval:   cfg.Outbox.Interval,
			MaxRetries: cfg.Outbox.MaxRetries,
			Backoff:    cfg.Outbox.Backoff,
		})
		a.shutdownMgr.Add("kafka-writer", shutdown.CloseFunc(a.dispatcher))
	}

	// воркеры останавливаются после HTTP сервера, но до закрытия соединений
	a.workCtx, a.stopWorkers = context.WithCancel(context.Background())
	a.shutdownMgr.Add("workers", func(context.Context) error {
		a.stopWorkers()
		return nil
	})

	handler := httpapi.NewHandler(logger.Named("http"), checkout, carts, inventory)
	router := httpapi.NewRouter(handler, httpapi.RouterDeps{
		Readiness:  readiness,
		Gatherer:   registry,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})

	a.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	a.shutdownMgr.Add("http-server", shutdown.ShutdownHTTPServer(a.httpServer))
	// первым делом /health начинает отвечать 503
	a.shutdownMgr.Add("readiness", readiness.SetNotServing)

	return nil
}

// openStores подключает хранилища. Mongo заменяет только ledger и резервы,
// корзины, заказы и outbox остаются в основном хранилище.
func (a *App) openStores(ctx context.Context, readiness *platformhealth.Readiness) (stores, error) {
	cfg := a.cfg
	var st stores

	switch cfg.StorageDriver {
	case config.DriverMemory:
		a.logger.Warn("Using in-memory storage, data is lost on restart")
		repo := memory.NewMemoryRepository()
		st = stores{items: repo, reservations: repo, carts: repo, catalog: repo, orders: repo, outbox: repo}
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return stores{}, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		a.shutdownMgr.Add("postgres", shutdown.ClosePool(pool))
		if err := pool.Ping(ctx); err != nil {
			return stores{}, fmt.Errorf("failed to ping postgres: %w", err)
		}
		if err := runMigrations(ctx, cfg.PostgresDSN); err != nil {
			return stores{}, err
		}
		a.logger.Info("Connected to PostgreSQL")
		readiness.AddCheck("postgres", pool.Ping)

		repo := pgrepo.NewRepository(pool)
		st = stores{items: repo, reservations: repo, carts: repo, catalog: repo, orders: repo, outbox: repo}
	}

	if cfg.LedgerBackend == config.DriverMongo {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return stores{}, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		a.shutdownMgr.Add("mongo", shutdown.DisconnectMongo(client))
		if err := client.Ping(ctx, nil); err != nil {
			return stores{}, fmt.Errorf("failed to ping mongo: %w", err)
		}
		ledger := mongorepo.NewRepository(client, cfg.MongoDatabase)
		if err := ledger.EnsureIndexes(ctx); err != nil {
			return stores{}, fmt.Errorf("failed to ensure mongo indexes: %w", err)
		}
		a.logger.Info("Connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		readiness.AddCheck("mongo", func(ctx context.Context) error { return client.Ping(ctx, nil) })

		st.items = ledger
		st.reservations = ledger
	}
	return st, nil
}

func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migrations connection: %w", err)
	}
	defer db.Close()

	if err := migrations.Up(ctx, db); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// paymentGateway собирает фейковый шлюз за circuit breaker-ом
func (a *App) paymentGateway(ctx context.Context, readiness *platformhealth.Readiness) (service.PaymentGateway, error) {
	cfg := a.cfg

	var store payment.SessionStore
	switch cfg.Payment.SessionStore {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		a.shutdownMgr.Add("redis", shutdown.CloseFunc(client))
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		a.logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
		readiness.AddCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
		store = payment.NewRedisSessionStore(client, a.logger.Named("payment-sessions"))
	default:
		store = payment.NewMemorySessionStore()
	}

	dummy := payment.NewDummyGateway(a.logger.Named("payment"), store, payment.DummyConfig{
		DeclineRate:     cfg.Payment.DeclineRate,
		Latency:         cfg.Payment.Latency,
		SessionTTL:      cfg.Payment.SessionTTL,
		CheckoutBaseURL: cfg.Payment.CheckoutBaseURL,
	})
	return payment.NewBreakerGateway(dummy, a.logger.Named("payment-breaker"), payment.BreakerConfig{
		MaxFailures: cfg.Payment.BreakerMaxFailures,
		OpenTimeout: cfg.Payment.BreakerOpenTimeout,
	}), nil
}

// Run запускает HTTP сервер и фоновые воркеры, блокируется до graceful shutdown.
// Падение любого из них тоже запускает shutdown.
func (a *App) Run(ctx context.Context) error {
	defer platformlogging.Sync(a.logger)

	g, gctx := errgroup.WithContext(a.workCtx)

	g.Go(func() error {
		a.logger.Info("Storefront HTTP server starting", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.sweeper.Start(gctx)
	})
	if a.dispatcher != nil {
		g.Go(func() error {
			return a.dispatcher.Start(gctx)
		})
	}

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(gctx, stop)
	defer unregister()

	shutdownErr := a.shutdownMgr.Wait(waitCtx)
	return errors.Join(g.Wait(), shutdownErr)
}
