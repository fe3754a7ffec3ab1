package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dungeon-server/internal/ai"
	"dungeon-server/internal/balance"
	"dungeon-server/internal/catalog"
	"dungeon-server/internal/config"
	"dungeon-server/internal/database"
	"dungeon-server/internal/event"
	"dungeon-server/internal/handler"
	"dungeon-server/internal/lock"
	"dungeon-server/internal/logger"
	"dungeon-server/internal/messaging"
	"dungeon-server/internal/middleware"
	"dungeon-server/internal/repository"
	"dungeon-server/internal/service"
	"dungeon-server/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Загрузка .env (если есть)
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger())
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting dungeon-server...")
	cfg.LogSummary(appLogger)

	// --- Хранилище ---
	repo, closeStore, err := setupStore(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize dungeon store", zap.Error(err))
	}
	defer closeStore()

	// --- Блокировка забега ---
	locker, closeLocker := setupLocker(cfg, appLogger)
	defer closeLocker()

	// --- Уведомления ---
	publisher, closePublisher, err := setupPublisher(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize dungeon update publisher", zap.Error(err))
	}
	defer closePublisher()

	// --- Каталоги ---
	catalogs, err := catalog.LoadDefault()
	if err != nil {
		appLogger.Fatal("Failed to load catalogs", zap.Error(err))
	}

	// --- LLM ---
	strategyClient, err := ai.NewAIClient(ai.ClientConfig{
		Type:    cfg.AIClientType,
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.LLMModelStrategy,
		Timeout: cfg.AITimeout,
	}, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create strategy AI client", zap.Error(err))
	}
	composerClient, err := ai.NewAIClient(ai.ClientConfig{
		Type:    cfg.AIClientType,
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.LLMModelComposer,
		Timeout: cfg.AITimeout,
	}, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create composer AI client", zap.Error(err))
	}

	oracle := strategy.NewStrategyOracle(strategyClient, strategy.Config{
		Model:              cfg.LLMModelStrategy,
		Timeout:            cfg.AITimeout,
		FallbackMultiplier: cfg.LLMFallbackMultiplier,
	}, appLogger)
	composer := event.NewEventComposer(
		composerClient,
		catalogs.Rewards,
		catalogs.Scenarios,
		ai.NewTokenCounter(cfg.LLMModelComposer, appLogger),
		event.Config{
			Model:             cfg.LLMModelComposer,
			Timeout:           cfg.AITimeout,
			FallbackChoices:   cfg.EventFallbackChoices,
			MemoryTokenBudget: cfg.PromptMemoryTokenBudget,
		},
		appLogger,
	)
	placer := balance.NewMonsterPlacer(cfg.Placer(), appLogger)

	dungeonService := service.NewDungeonService(service.Deps{
		Repo:      repo,
		Locker:    locker,
		Publisher: publisher,
		Catalogs:  catalogs,
		Oracle:    oracle,
		Composer:  composer,
		Placer:    placer,
	}, appLogger)

	dungeonHandler, err := handler.NewDungeonHandler(dungeonService, appLogger, cfg.InterServiceJWTSecret)
	if err != nil {
		appLogger.Fatal("Failed to create dungeon handler", zap.Error(err))
	}

	// --- HTTP сервер ---
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.RequestID())
	e.Use(middleware.EchoZapLogger(appLogger))
	e.Use(echoMiddleware.Recover())

	dungeonHandler.RegisterRoutes(e)

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server gracefully stopped")
}

func setupStore(cfg *config.Config, logger *zap.Logger) (repository.DungeonRepository, func(), error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn("Using in-memory dungeon store, data will be lost on restart")
		return repository.NewMemoryDungeonRepository(logger), func() {}, nil
	}

	dbCfg := cfg.Database()
	if err := database.NewMigrator(dbCfg.DSN(), logger).Up(); err != nil {
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := database.NewPool(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewPgDungeonRepository(pool, logger), pool.Close, nil
}

func setupLocker(cfg *config.Config, logger *zap.Logger) (lock.RunLocker, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR is empty, using in-process run lock")
		return lock.NewMemoryLocker(cfg.RunLockWait), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close Redis client", zap.Error(err))
		}
	}
	return lock.NewRedisLocker(client, cfg.RunLockTTL, cfg.RunLockWait, logger), closeFn
}

func setupPublisher(cfg *config.Config, logger *zap.Logger) (messaging.DungeonPublisher, func(), error) {
	if cfg.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL is empty, dungeon updates will not be published")
		return messaging.NewNopPublisher(logger), func() {}, nil
	}
	conn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := conn.Close(); err != nil {
			logger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}
	publisher, err := messaging.NewRabbitMQDungeonPublisher(conn, cfg.DungeonUpdatesQueue, logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return publisher, closeFn, nil
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ")
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}
