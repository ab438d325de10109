package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"room-broker/internal/broker"
	"room-broker/internal/config"
	"room-broker/internal/domain"
	"room-broker/internal/handler"
	"room-broker/internal/messaging"
	"room-broker/internal/middleware"
	"room-broker/internal/observability"
	"room-broker/internal/presence"
	"room-broker/internal/registry"
	"room-broker/internal/repository"
	"room-broker/internal/repository/badgerstore"
	"room-broker/internal/repository/memory"
	"room-broker/internal/repository/postgres"
	"room-broker/internal/repository/sqlitestore"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting room broker",
		slog.String("environment", cfg.Environment),
		slog.String("store_driver", cfg.StoreDriver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handler.Check{}

	store, closers, err := openStore(ctx, cfg, checks)
	if err != nil {
		slog.Error("failed to open message store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeAll(closers)

	opts := []broker.Option{
		broker.WithSendBuffer(cfg.SessionSendBuffer),
		broker.WithSendRate(cfg.SessionSendRate, cfg.SessionSendBurst),
	}

	var rmq *messaging.RabbitMQ
	if cfg.RabbitMQURL != "" {
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		rmq, err = messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()
		opts = append(opts, broker.WithEventPublisher(rmq))
		checks["rabbitmq"] = handler.CheckRabbitMQ(rmq)
		slog.Info("connected to rabbitmq")
	}

	if cfg.RedisURL != "" {
		client, err := presence.NewRedisClient(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer client.Close()
		tracker := presence.NewRedisTracker(client)
		opts = append(opts, broker.WithPresenceTracker(tracker))
		checks["redis"] = handler.CheckRedis(tracker)
		slog.Info("connected to redis")
	}

	b := broker.New(store, registry.New(), opts...)

	if rmq != nil {
		if err := messaging.NewInboundConsumer(rmq, b).Start(ctx); err != nil {
			slog.Error("failed to start inbound consumer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("inbound consumer started")
	}

	limiter := middleware.NewRateLimiter(cfg.HTTPRateLimit, cfg.HTTPRateBurst)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, b, limiter, checks),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("room broker listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	// Stop admitting inbound messages before sessions go away
	cancel()

	// Hijacked websocket connections are not tracked by srv.Shutdown
	if err := b.Shutdown(shutdownCtx); err != nil {
		slog.Error("broker shutdown error", slog.String("error", err.Error()))
	}

	slog.Info("server stopped gracefully")
}

func newRouter(cfg *config.Config, b *broker.Broker, limiter *middleware.RateLimiter, checks map[string]handler.Check) http.Handler {
	roomHandler := handler.NewRoomHandler(b)
	wsHandler := handler.NewWebSocketHandler(b, cfg.Origins())

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogContext)
	r.Use(middleware.CORS(cfg.Origins()))
	r.Use(middleware.Metrics())
	r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig(cfg.ValidateRequests())))

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())
		r.Use(middleware.Identity())

		r.Get("/api/v1/rooms/{room_id}/messages", roomHandler.GetMessages)
		r.Get("/api/v1/rooms/{room_id}/presence", roomHandler.GetPresence)
		r.Get("/ws/rooms/{room_id}", wsHandler.HandleConnection)
	})

	return r
}

// requestLogContext copies chi's request id into the logging context
func requestLogContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(observability.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// openStore builds the configured MessageStore, wrapped for metrics, and
// registers its readiness checks. Closers run in order on shutdown.
func openStore(ctx context.Context, cfg *config.Config, checks map[string]handler.Check) (domain.MessageStore, []io.Closer, error) {
	var (
		store   domain.MessageStore
		closers []io.Closer
	)

	switch cfg.StoreDriver {
	case config.DriverMemory:
		store = memory.NewMessageStore()

	case config.DriverPostgres:
		db, err := config.NewPostgresConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		pgStore, err := postgres.NewMessageStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		store = pgStore
		closers = append(closers, db)
		checks["database"] = handler.CheckDatabase(db)
		slog.Info("connected to postgresql")

	case config.DriverBadger:
		db, err := badgerstore.Open(cfg.BadgerPath, cfg.LogLevel == "debug")
		if err != nil {
			return nil, nil, err
		}
		store = badgerstore.NewMessageStore(db)
		slog.Info("opened badger store", slog.String("path", cfg.BadgerPath))

	case config.DriverSQLite:
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sqlStore := sqlitestore.NewMessageStore(db)
		if err := sqlStore.Migrate(ctx); err != nil {
			_ = sqlStore.Close()
			return nil, nil, err
		}
		store = sqlStore
		slog.Info("opened sqlite store", slog.String("path", cfg.SQLitePath))

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	instrumented := repository.Instrument(store, cfg.StoreDriver)
	checks["store"] = handler.CheckStore(instrumented)

	// The store goes first so its statements close before the pool
	return instrumented, append([]io.Closer{instrumented}, closers...), nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}
