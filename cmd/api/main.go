package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beds4crew/internal/api"
	"beds4crew/internal/availability"
	"beds4crew/internal/broker/kafka"
	"beds4crew/internal/cache"
	"beds4crew/internal/config"
	"beds4crew/internal/database"
	"beds4crew/internal/events"
	"beds4crew/internal/logging"
	"beds4crew/internal/metrics"
	"beds4crew/internal/models"
	"beds4crew/internal/service"
	"beds4crew/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	properties, err := loadProperties(&logger)
	if err != nil {
		return err
	}

	db, err := initDatabase(ctx, cfg, properties, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	indexes, unread := initCaches(ctx, cfg, redisClient, &logger)

	eventBus := events.NewEventBus(logging.Component(&logger, "events"))
	sink, sinkCloser, err := initSink(cfg, &logger)
	if err != nil {
		return err
	}
	if sinkCloser != nil {
		defer (func() { _ = sinkCloser.Close() })()
	}
	startNotifications(ctx, cfg, db, sink, redisClient, eventBus, &logger)

	bookingService := service.NewBookingService(db, indexes, unread, eventBus, service.Options{
		IndexBuildTimeout: cfg.Booking.IndexBuildTimeout,
		MaxBookingDays:    cfg.Booking.MaxBookingDays,
		AllowPastStart:    cfg.Booking.AllowPastStart,
		CacheTTL:          cfg.Cache.TTL,
	}, logging.Component(&logger, "booking"))

	startMetrics(ctx, cfg, &logger)
	startBackups(ctx, cfg, &logger)

	grpcServer, err := api.NewGRPCServer(&cfg.API, db, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	go grpcServer.WatchHealth(ctx, 0)

	httpServer := api.NewHTTPServer(cfg.API, bookingService, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadProperties reads the seed fixtures. A missing file seeds nothing.
func loadProperties(logger *zerolog.Logger) ([]models.Property, error) {
	propertiesPath := os.Getenv("PROPERTIES_PATH")
	if propertiesPath == "" {
		propertiesPath = "configs/properties.yaml"
	}
	data, err := os.ReadFile(propertiesPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("properties_path", propertiesPath).Msg("no seed properties file")
		return nil, nil
	}
	if err != nil {
		logger.Error().Err(err).Str("properties_path", propertiesPath).Msg("read properties")
		return nil, err
	}

	var fixtures struct {
		Properties []models.Property `yaml:"properties"`
	}
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		logger.Error().Err(err).Str("properties_path", propertiesPath).Msg("parse properties")
		return nil, err
	}
	return fixtures.Properties, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, properties []models.Property, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger, database.WithBusyTimeout(cfg.Database.BusyTimeout))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	created, err := db.SeedProperties(ctx, properties)
	if err != nil {
		_ = db.Close()
		logger.Error().Err(err).Msg("seed properties")
		return nil, err
	}
	if created > 0 {
		logger.Info().Int("created", created).Msg("seed properties loaded")
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := cache.NewRedisClient(cfg.Redis)
	if err := cache.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initCaches returns in-process stores, fronted by Redis when it is reachable.
func initCaches(
	ctx context.Context,
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) (cache.Store[*availability.Index], cache.Store[int]) {
	memIndexes := cache.NewMemory[*availability.Index](cfg.Cache.TTL, time.Now)
	memUnread := cache.NewMemory[int](cfg.Cache.TTL, time.Now)
	cacheLogger := logging.Component(logger, "cache")
	go memIndexes.Run(ctx, cfg.Cache.SweepInterval, cacheLogger)
	go memUnread.Run(ctx, cfg.Cache.SweepInterval, cacheLogger)

	if redisClient == nil {
		return memIndexes, memUnread
	}
	indexes := cache.NewFailover[*availability.Index](
		cache.NewRedis[*availability.Index](redisClient, cfg.Cache.KeyPrefix, cfg.Cache.TTL), memIndexes, cacheLogger)
	unread := cache.NewFailover[int](
		cache.NewRedis[int](redisClient, cfg.Cache.KeyPrefix, cfg.Cache.TTL), memUnread, cacheLogger)
	return indexes, unread
}

// initSink picks Kafka when brokers are configured, otherwise events are only logged.
func initSink(cfg *config.Config, logger *zerolog.Logger) (worker.Sink, io.Closer, error) {
	if !cfg.Notifications.Enabled || len(cfg.Notifications.Kafka.Brokers) == 0 {
		return worker.NewLogSink(logging.Component(logger, "notifications")), nil, nil
	}

	producer, err := kafka.NewProducer(cfg.Notifications.Kafka.Brokers, cfg.Notifications.Kafka.Topic, nil)
	if err != nil {
		logger.Error().Err(err).Strs("brokers", cfg.Notifications.Kafka.Brokers).Msg("kafka producer")
		return nil, nil, err
	}
	logger.Info().Str("topic", cfg.Notifications.Kafka.Topic).Msg("kafka producer connected")
	return producer, producer, nil
}

func startNotifications(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	sink worker.Sink,
	redisClient *redis.Client,
	eventBus *events.EventBus,
	logger *zerolog.Logger,
) {
	retry := worker.RetryPolicyFromConfig(cfg.Notifications.Retry)
	notifier := worker.NewNotificationWorker(db, sink, redisClient, retry, logging.Component(logger, "notifications"),
		worker.WithQueueSize(cfg.Notifications.QueueSize),
		worker.WithPollInterval(cfg.Notifications.PollInterval),
		worker.WithKeyPrefix(cfg.Cache.KeyPrefix),
	)
	events.Forward(eventBus, notifier)
	go notifier.Start(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startBackups(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Backup.Enabled {
		return
	}
	backups := database.NewBackupService(cfg.Database.Path, cfg.Backup, logging.Component(logger, "backup"))
	go backups.Start(ctx)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
