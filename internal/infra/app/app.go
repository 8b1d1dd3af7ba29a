package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/authprovider"
	"github.com/wre314954-sudo/wirenew/internal/infra/config"
	"github.com/wre314954-sudo/wirenew/internal/infra/database"
	kafkainfra "github.com/wre314954-sudo/wirenew/internal/infra/kafka"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
	redisinfra "github.com/wre314954-sudo/wirenew/internal/infra/redis"
	"github.com/wre314954-sudo/wirenew/internal/infra/security"
	"github.com/wre314954-sudo/wirenew/internal/infra/telemetry"
	postgresrepo "github.com/wre314954-sudo/wirenew/internal/repository/postgres"
	redisrepo "github.com/wre314954-sudo/wirenew/internal/repository/redis"
	transportgrpc "github.com/wre314954-sudo/wirenew/internal/transport/grpc"
	grpcinterceptors "github.com/wre314954-sudo/wirenew/internal/transport/grpc/interceptors"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/handlers"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/middleware"
	"github.com/wre314954-sudo/wirenew/internal/transport/http/routes"
	"github.com/wre314954-sudo/wirenew/internal/transport/relay"
	"github.com/wre314954-sudo/wirenew/internal/usecase"
)

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	tracer     *telemetry.TracerProvider
	devices    *usecase.Registry
	grpcServer *transportgrpc.Server
	grpcAddr   string

	mu    sync.Mutex
	ready bool
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{
		cfg:      cfg,
		logger:   log,
		grpcAddr: fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
	}
	if err := a.init(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, cfg.App.Env, log)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		a.tracer = tp
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool
	if err := database.EnsureSchema(ctx, pool, log); err != nil {
		return err
	}
	repos := postgresrepo.NewRepositories(pool)

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.redis = redisClient
	if err := prometheus.Register(redisClient.Collector()); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("register session store metrics: %w", err)
		}
	}

	events := a.newEventPublisher()

	hasher, err := security.NewPasswordHasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return fmt.Errorf("configure argon2: %w", err)
	}

	bearer, err := security.NewBearerIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.BearerTTL)
	if err != nil {
		return fmt.Errorf("init bearer issuer: %w", err)
	}

	authMetrics, err := telemetry.NewAuthMetrics(telemetry.AuthMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init grpc metrics: %w", err)
	}

	provider := authprovider.NewProvider(repos.Credentials, hasher, bearer, events, log)
	deviceStores := redisrepo.NewDeviceStoreRepository(redisClient.Client(), redisClient.Keyspace())

	devices, err := usecase.NewRegistry(usecase.RegistryDeps{
		Stores: deviceStores.ForDevice,
		Authenticators: func(deviceID string, store port.KeyValueStore) usecase.DeviceAuthenticator {
			return provider.ForDevice(deviceID, store)
		},
		Profiles: repos.Profiles,
		Events:   events,
		Notifier: handlers.NewLoggingNotificationDispatcher(log, cfg.App.Env == "development"),
		Observer: authMetrics,
		Logger:   log,
	}, settingsFrom(cfg.Auth))
	if err != nil {
		return fmt.Errorf("init device registry: %w", err)
	}
	a.devices = devices

	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "storefront:rate-limit",
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	var relayPinger handlers.RelayPinger
	if cfg.Relay.StoreURL != "" {
		relayClient, err := relay.NewClient(cfg.Relay.StoreURL, cfg.Relay.Timeout, log)
		if err != nil {
			return fmt.Errorf("init store relay: %w", err)
		}
		relayPinger = relayClient
	}

	grpcSrv, err := transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Bearer:         bearer,
		AdminAccountID: cfg.Auth.AdminAccountID,
		Metrics:        grpcMetrics,
		Tracing:        grpcinterceptors.NewTracing(grpcinterceptors.TracingOptions{TracerProvider: a.tracer.Provider(), Propagators: otel.GetTextMapPropagator()}),
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("init grpc server: %w", err)
	}
	a.grpcServer = grpcSrv

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Devices:     devices,
		Bearer:      bearer,
		Relay:       relayPinger,
		HTTPMetrics: httpMetrics,
		Database:    database.NewReadiness(pool),
		Cache:       redisClient,
		Ready:       a.isReady,
	})

	if cfg.Auth.AdminAccountID == "" {
		log.Warn("auth.admin_account_id is empty; every admin login will be rejected")
	}
	return nil
}

func (a *Application) newEventPublisher() port.EventPublisher {
	log := a.logger
	if len(a.cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(log)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(log)
	}
	a.producer = producer
	log.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, log)
}

func settingsFrom(cfg config.AuthSettings) usecase.Settings {
	return usecase.Settings{
		TestCode:          cfg.TestCode,
		CodeLength:        cfg.CodeLength,
		CodeTTL:           cfg.CodeTTL,
		MaxAttempts:       cfg.MaxAttempts,
		PhonePattern:      cfg.PhonePattern,
		MinPasswordLength: cfg.MinPasswordLength,
		MinPasswordScore:  cfg.MinPasswordScore,
		AdminAccountID:    cfg.AdminAccountID,
	}
}

func (a *Application) isReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

func (a *Application) setReady(ready bool) {
	a.mu.Lock()
	a.ready = ready
	a.mu.Unlock()
	if a.grpcServer != nil {
		a.grpcServer.SetServing(ready)
	}
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close(context.Background())

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go a.devices.Run(pruneCtx, a.cfg.Auth.DevicePruneInterval, a.cfg.Auth.DeviceIdleTimeout)

	grpcErrCh := make(chan error, 1)
	lis, err := net.Listen("tcp", a.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
	go func() {
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.logger.Error("gRPC server error", zap.Error(err))
			grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
		}
	}()
	defer a.grpcServer.GracefulStop()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting storefront identity API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()
	a.setReady(true)

	select {
	case <-ctx.Done():
		a.setReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-grpcErrCh:
		return err
	}
}

// close releases resources in reverse order of construction. It tolerates partial initialisation.
func (a *Application) close(ctx context.Context) {
	if a.devices != nil {
		a.devices.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
}
