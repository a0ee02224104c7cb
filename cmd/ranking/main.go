package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gartstein/priority/internal/priority/auth"
	"github.com/gartstein/priority/internal/priority/cache"
	"github.com/gartstein/priority/internal/priority/config"
	"github.com/gartstein/priority/internal/priority/controller"
	"github.com/gartstein/priority/internal/priority/db"
	"github.com/gartstein/priority/internal/priority/events"
	"github.com/gartstein/priority/internal/priority/handlers"
	"github.com/gartstein/priority/internal/priority/ingest"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	configPath := pflag.String("config", config.DefaultPath, "path to the YAML config file")
	pflag.Parse()

	logger := initLogger()
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := initRecordSource(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize record source", zap.Error(err))
	}
	defer closeSource()

	var opts []controller.Option
	rankedCache, err := initCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize ranking cache", zap.Error(err))
	}
	opts = append(opts, controller.WithCache(rankedCache))

	rankingSvc, err := controller.NewRankingService(cfg.Service(), source, logger, opts...)
	if err != nil {
		logger.Fatal("failed to initialize ranking service", zap.Error(err))
	}
	rankingSvc.LoadModel()

	rankingHandler := handlers.NewRankingHandler(rankingSvc, logger)

	if cfg.KafkaEnabled() {
		consumer := events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, logger)
		svcHandler := events.ServiceHandler(rankingSvc, logger)
		consumer.RegisterHandler(func(ctx context.Context, event events.Event) error {
			err := svcHandler(ctx, event)
			rankingHandler.SyncHealth()
			return err
		})
		consumer.Start(ctx)
		defer consumer.Close()
	}

	// Initialize auth interceptor
	authInterceptor := auth.NewAuthInterceptor(cfg.JWTSecret)
	server := handlers.NewServer(cfg.GRPCPort, cfg.HTTPPort, logger, grpc.UnaryInterceptor(authInterceptor.Unary()))
	server.RegisterGRPCHandler(rankingHandler)
	if err := server.RegisterHTTPHandlers(rankingHandler, cfg.JWTSecret); err != nil {
		logger.Fatal("Failed to register HTTP handlers", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
		server.Stop()
		<-errCh
	}
	logger.Info("Servers stopped properly")
}

// initLogger initializes a Zap production logger.
func initLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger
}

// initRecordSource prefers configured CSV exports and otherwise shares one
// open record store handle with every extraction pass.
func initRecordSource(cfg *config.Config, logger *zap.Logger) (controller.RecordSource, func(), error) {
	if cfg.Data.EquipmentCSV != "" {
		logger.Info("Serving records from CSV", zap.String("equipment", cfg.Data.EquipmentCSV))
		return ingest.CSVSource{
			EquipmentPath:    cfg.Data.EquipmentCSV,
			RelationshipPath: cfg.Data.RelationshipCSV,
		}, func() {}, nil
	}

	dbConf := cfg.DB("")
	repo, err := db.NewRepository(dbConf)
	if err != nil {
		return nil, nil, err
	}
	closeRepo := func() {
		if err := repo.Close(); err != nil {
			logger.Error("failed to close record store", zap.Error(err))
		}
	}
	return db.NewLoader(dbConf, repo, logger), closeRepo, nil
}

// initCache uses Redis when configured and an in-process cache otherwise.
func initCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (controller.RankedListCache, error) {
	client, err := cache.NewRedisClient(ctx, cfg.Cache())
	if err != nil {
		return nil, err
	}
	if client == nil {
		return cache.NewMemory(), nil
	}
	logger.Info("Using Redis ranking cache", zap.String("addr", cfg.Redis.Addr))
	return cache.NewRedis(client, cfg.Redis.Prefix, cfg.Redis.TTL, logger), nil
}
