package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/api"
	"github.com/hla-match-prediction/internal/config"
	"github.com/hla-match-prediction/internal/database"
	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/frequencies"
	"github.com/hla-match-prediction/internal/metrics"
	"github.com/hla-match-prediction/internal/service"
	"github.com/hla-match-prediction/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, configManager, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) error {
	cfg := configManager.GetConfig()

	// Run migrations before serving
	migrator, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}
	if err := migrator.Up(); err != nil {
		migrator.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := migrator.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close migration connection")
	}

	db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	store, err := frequencies.NewPostgresStore(db)
	if err != nil {
		db.Close()
		return err
	}
	defer store.Close()

	opts := []api.Option{
		api.WithGatherer(prometheus.DefaultGatherer),
		api.WithRequestTimeout(cfg.MatchPrediction.BatchTimeout),
		api.WithHealthCheck("database", store.Health),
	}

	dictionary, closeDictionary, err := newDictionary(cfg, logger, &opts)
	if err != nil {
		return err
	}
	defer closeDictionary()

	predictor := service.NewMatchProbabilityService(dictionary, store, cfg.MatchPrediction, metrics.New(), logger)
	server := api.NewServer(cfg.Server, predictor, store, logger, opts...)

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting HLA match prediction server")

	return server.Start(ctx)
}

// newDictionary picks the static dictionary when a file is configured,
// otherwise the HTTP dictionary service with an optional Redis cache
func newDictionary(cfg *domain.Config, logger *logrus.Logger, opts *[]api.Option) (domain.HlaMetadataDictionary, func(), error) {
	if cfg.Dictionary.StaticFile != "" {
		dictionary, err := external.LoadStaticDictionary(cfg.Dictionary.StaticFile)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("nomenclature_version", dictionary.Version()).Info("Using static HLA dictionary")
		return dictionary, func() {}, nil
	}

	var cache external.ResolutionCache
	closeCache := func() {}
	if cfg.Cache.RedisURL != "" {
		redisCache, err := external.NewRedisResolutionCache(cfg.Cache)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create dictionary cache: %w", err)
		}
		cache = redisCache
		closeCache = func() {
			if err := redisCache.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close dictionary cache")
			}
		}
		*opts = append(*opts, api.WithHealthCheck("cache", redisCache.Ping))
	}

	logger.WithField("base_url", cfg.Dictionary.BaseURL).Info("Using HLA dictionary service")
	return external.NewDictionaryClient(cfg.Dictionary, cache, logger), closeCache, nil
}
