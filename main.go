package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"travelbot/internal/api"
	"travelbot/internal/auth"
	"travelbot/internal/config"
	"travelbot/internal/logger"
	"travelbot/internal/models"
	"travelbot/internal/redis"
	"travelbot/internal/service/ai"
	"travelbot/internal/service/assistant"
	"travelbot/internal/storage"
	"travelbot/internal/worker"

	"github.com/gin-gonic/gin"
)

const tokenPurgeInterval = time.Hour

func main() {
	cfg, err := config.Load(os.Getenv("TRAVELBOT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		log.Fatalf("setup logger: %v", err)
	}
	defer logCloser.Close()

	dbType := cfg.BasicConfig.Database
	slog.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	extra := make([]models.ModelConfig, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		extra = append(extra, models.NewModelConfig(m.Name, m.Provider, m.Identifier))
	}
	catalog, err := models.NewCatalog(extra...)
	if err != nil {
		log.Fatalf("build model catalog: %v", err)
	}

	assistantService, err := assistant.NewService(db, catalog, ai.NewInvoker(cfg), assistant.Options{
		DefaultCredential: cfg.Replicate.APIKey,
		TurnTimeout:       time.Duration(cfg.BasicConfig.TurnTimeout) * time.Second,
	})
	if err != nil {
		log.Fatalf("init assistant service: %v", err)
	}
	if !assistantService.HasDefaultCredential() {
		slog.Warn("no default Replicate credential; sessions must supply their own")
	}

	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.SessionTTL)*time.Hour)
	purgeCtx, purgeCancel := context.WithCancel(context.Background())
	defer purgeCancel()
	go purgeExpiredTokens(purgeCtx, authService)

	workers := worker.NewManager(assistantService, worker.DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}, rdb)
	defer workers.Close()

	handlers := api.NewHandler(assistantService, authService, workers, cfg.BasicConfig.AllowedOrigins)

	router := gin.New()
	router.Use(logger.Middleware(), gin.Recovery())
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	slog.Info("listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func purgeExpiredTokens(ctx context.Context, svc *auth.Service) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				slog.Warn("purge expired session tokens", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("purged expired session tokens", "count", n)
			}
		}
	}
}
