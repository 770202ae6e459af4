package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shoplane/inventory-service/config"
	"github.com/shoplane/inventory-service/pkg/broker"
	"github.com/shoplane/inventory-service/pkg/cache"
	"github.com/shoplane/inventory-service/pkg/database/postgres"
	"github.com/shoplane/inventory-service/pkg/logger"
	"github.com/shoplane/inventory-service/pkg/search"

	"github.com/shoplane/inventory-service/internal/alert"
	alertRepoPkg "github.com/shoplane/inventory-service/internal/alert/repository"
	invHandlerPkg "github.com/shoplane/inventory-service/internal/inventory/handler"
	invListenerPkg "github.com/shoplane/inventory-service/internal/inventory/listener"
	invRepoPkg "github.com/shoplane/inventory-service/internal/inventory/repository"
	invSweeperPkg "github.com/shoplane/inventory-service/internal/inventory/sweeper"
	invUCPkg "github.com/shoplane/inventory-service/internal/inventory/usecase"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load() // Load .env file if it exists
	cfg := config.LoadEnv()

	// 2. Initialize Logger
	logConfig := &logger.ZapLoggerConfig{
		IsDevelopment:     false,
		Encoding:          "json",
		Level:             "info",
		DisableCaller:     false,
		DisableStacktrace: false,
	}
	if cfg.Server.AppEnv == "development" || cfg.Server.AppEnv == "dev" {
		logConfig.IsDevelopment = true
		logConfig.Encoding = "console"
		logConfig.Level = "debug"
	}

	appLogger := logger.NewZapLogger(logConfig)
	defer appLogger.Sync()

	// 3. Connect to Database
	db, err := postgres.NewPostgres(&postgres.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		DBName:          cfg.Postgres.DBName,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Postgres.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Postgres.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		appLogger.Fatal("Could not connect to database", zap.Error(err))
	}
	defer db.Close()
	appLogger.Info("Connected to PostgreSQL database", zap.String("db_name", cfg.Postgres.DBName))

	// 4. Initialize Repositories
	invRepo := invRepoPkg.NewPGRepository(db)
	alertRepo := alertRepoPkg.NewPGRepository(db)

	// 5. Initialize Redis (per-key locks + summary cache)
	redisClient, err := cache.NewRedisClient(&cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		appLogger.Fatal("Could not connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// 5.5 Initialize Kafka
	orderConsumer := broker.NewConsumer(&broker.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.OrdersTopic,
		GroupID: cfg.Kafka.GroupID,
	})
	defer orderConsumer.Close()

	alertProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic)
	defer alertProducer.Close()
	appLogger.Info("Connected to Kafka",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("orders_topic", cfg.Kafka.OrdersTopic),
		zap.String("alerts_topic", cfg.Kafka.AlertsTopic),
	)

	// 5.8 Initialize Elasticsearch (movement audit search)
	esClient, err := search.NewClient(&search.Config{
		Addresses: cfg.Elastic.Addresses,
		Username:  cfg.Elastic.Username,
		Password:  cfg.Elastic.Password,
	})
	if err != nil {
		appLogger.Warn("Could not connect to Elasticsearch (movement search will fall back to DB)", zap.Error(err))
		esClient = nil
	} else {
		appLogger.Info("Connected to Elasticsearch", zap.Strings("addresses", cfg.Elastic.Addresses))
	}

	// 6. Initialize Alerting + Reconciliation Engine
	notifier := alert.NewNotifier(alertRepo, alertProducer, appLogger, cfg.Inventory.AlertCooldown)

	invUC := invUCPkg.NewInventoryUseCase(invRepo, redisClient, redisClient, esClient, notifier, appLogger, invUCPkg.Options{
		DefaultReservationTTL: cfg.Inventory.ReservationTTL,
		LockTTL:               cfg.Inventory.LockTTL,
		LockRetries:           cfg.Inventory.LockRetries,
		LockRetryInterval:     cfg.Inventory.LockRetryInterval,
		SummaryCacheTTL:       cfg.Inventory.SummaryCacheTTL,
	})

	// 6.5 Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := invSweeperPkg.NewSweeper(invRepo, invUC, appLogger, cfg.Inventory.SweepInterval, cfg.Inventory.SweepBatchSize)
	go sweeper.Start(ctx)

	orderListener := invListenerPkg.NewOrderListener(orderConsumer, invUC, appLogger)
	go orderListener.Start(ctx)

	// 7. Start HTTP Server
	port := cfg.Server.HTTPPort
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	httpServer := &http.Server{
		Addr:    port,
		Handler: invHandlerPkg.NewServer(invUC, appLogger).Handler(),
	}

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("port", port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("failed to serve", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("forced shutdown", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
