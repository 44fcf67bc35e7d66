package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eventpay/backend/internal/audit"
	"github.com/eventpay/backend/internal/config"
	"github.com/eventpay/backend/internal/database"
	"github.com/eventpay/backend/internal/handlers"
	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/logging"
	mW "github.com/eventpay/backend/internal/middleware"
	"github.com/eventpay/backend/internal/services"
)

// @title Event Payments API
// @version 1.0
// @description Cashless payments for event venues
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, health, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	loc, err := cfg.Engine.Location()
	if err != nil {
		return err
	}

	opts := []services.EngineOption{
		services.WithLogger(logger.Named("engine")),
		services.WithAuditLogger(audit.NewLogger(logger)),
		services.WithLocation(loc),
		services.WithRetryPolicy(services.RetryPolicy{
			MaxAttempts:     cfg.Engine.MaxAttempts,
			InitialInterval: cfg.Engine.RetryInitial,
			MaxInterval:     cfg.Engine.RetryMax,
		}),
	}

	redisClient := database.InitRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, services.WithPublisher(services.NewRedisEventPublisher(redisClient, cfg.Redis.Queue)))
	}

	engine := services.NewTransactionEngine(store, opts...)
	customers := services.NewCustomerService(store,
		services.WithCustomerLogger(logger.Named("customers")),
		services.WithCustomerRetryPolicy(services.RetryPolicy{
			MaxAttempts:     cfg.Engine.MaxAttempts,
			InitialInterval: cfg.Engine.RetryInitial,
			MaxInterval:     cfg.Engine.RetryMax,
		}),
		services.WithCommitHook(engine.NotifyCommitted),
	)

	router := handlers.NewRouter(handlers.RouterConfig{
		Engine:         engine,
		Customers:      customers,
		Authenticator:  mW.NewAuthenticator(cfg.JWT.SecretKey, logger.Named("auth")),
		Logger:         logger.Named("http"),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         health,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log.Environment, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return logger.With(zap.String("host", host)), nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Store, func() error, func(), error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, data will not survive a restart")
		return ledger.NewMemoryStore(cfg.Engine.MemoryLockLimit), nil, func() {}, nil
	}

	db, err := database.InitDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, cfg.Database.Name, logger); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
	}

	return ledger.NewPostgresStore(db, cfg.Database.LockTimeout), db.Ping, func() { db.Close() }, nil
}
