// main.go
package main

import (
	"context"
	"log"
	"time"

	"clinic-scheduling/cmd"
	"clinic-scheduling/internal/data/repository"
	"clinic-scheduling/internal/notify"
	"clinic-scheduling/internal/wire"
	"clinic-scheduling/migrations"
	"clinic-scheduling/pkg/database"
	"clinic-scheduling/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
	)

	if config.App.MigrateOnStart {
		if err := migrate(config.Database); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Initialize all repositories
	repos := repository.NewRepository(db, repository.Options{
		Tx: database.TxOptions{
			LockTimeout: config.Database.LockTimeout,
			Timeout:     config.Database.TxTimeout,
		},
		SlotBatchSize: config.Scheduling.SlotBatchSize,
	}, logger)

	dispatcher, closeDispatcher := newDispatcher(config.Kafka, logger)
	defer closeDispatcher()

	rdb := newRedis(config.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Wire all dependencies
	app := wire.Wiring(wire.Dependencies{
		Repo:       repos,
		DB:         db,
		Dispatcher: dispatcher,
		Redis:      rdb,
		Registry:   registry,
	}, config, logger)

	// Start server
	logger.Info("Starting HTTP server", zap.String("port", config.App.Port))

	if err := cmd.APIServer(app.Router, config.App.Port, app.Service.Booking.Wait, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}
}

func migrate(config utils.DatabaseConfig) error {
	migrator, err := database.NewMigrator(config.DSN(), migrations.FS)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return migrator.Up()
}

// newDispatcher publishes to Kafka when brokers are configured, otherwise
// notifications are only logged.
func newDispatcher(config utils.KafkaConfig, logger *zap.Logger) (notify.Dispatcher, func()) {
	if len(config.Brokers) == 0 {
		logger.Info("Kafka not configured, notifications are logged only")
		return notify.NewLogDispatcher(logger), func() {}
	}

	kafka, err := notify.NewKafkaDispatcher(config.Brokers, config.TopicPrefix, logger)
	if err != nil {
		logger.Warn("Kafka unavailable, notifications are logged only", zap.Error(err))
		return notify.NewLogDispatcher(logger), func() {}
	}

	return kafka, func() {
		if err := kafka.Close(); err != nil {
			logger.Warn("Failed to close Kafka producer", zap.Error(err))
		}
	}
}

func newRedis(config utils.RedisConfig, logger *zap.Logger) *redis.Client {
	if config.Addr == "" {
		logger.Info("Redis not configured, idempotency keys are ignored")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, idempotency keys are ignored", zap.Error(err))
		client.Close()
		return nil
	}

	logger.Info("Redis connected", zap.String("addr", config.Addr))
	return client
}
