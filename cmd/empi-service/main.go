package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DevFaso/hms-sub003/pkg/api"
	"github.com/DevFaso/hms-sub003/pkg/authority"
	"github.com/DevFaso/hms-sub003/pkg/common/config"
	"github.com/DevFaso/hms-sub003/pkg/common/database"
	"github.com/DevFaso/hms-sub003/pkg/common/kafka"
	"github.com/DevFaso/hms-sub003/pkg/common/logger"
	"github.com/DevFaso/hms-sub003/pkg/empi"
)

func main() {
	logger.Init()
	cfg := config.Load()

	var store empi.Store
	if cfg.StoreDriver == "memory" {
		logger.Log.Warn("using in-memory store, data will not survive a restart")
		store = empi.NewMemoryStore()
	} else {
		db, err := database.GetPostgres()
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		repo := empi.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate empi tables")
		}
		store = repo
	}

	catalog, err := authority.Load(cfg.AuthorityCatalogPath)
	if err != nil {
		logger.Log.WithError(err).Warn("failed to load authority catalog, using defaults")
	}

	generator := empi.NewGenerator(cfg.EMPINumberPrefix, cfg.EMPINumberSuffixLen, cfg.EMPIGenerateAttempts, store.EMPINumberExists)

	var notifier empi.Notifier = empi.NoopNotifier{}
	if cfg.EMPIEventsEnabled {
		producer := kafka.NewProducer(cfg.EMPIEventTopic)
		defer producer.Close()
		notifier = empi.NewKafkaNotifier(producer)
	}

	var cache empi.ViewCache = empi.NoopViewCache{}
	if cfg.StoreDriver != "memory" {
		cache = empi.NewRedisViewCache(database.GetRedis(), cfg.EMPICacheTTL)
	}

	svc := empi.NewService(store, generator, notifier, cache, catalog)
	handler := api.NewIdentityHandler(svc)

	var auth *api.OIDCAuthenticator
	if cfg.OIDCIssuer != "" {
		auth, err = api.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to configure OIDC authenticator")
		}
	}

	router := api.NewRouter(handler, auth, cfg.APIRateLimitRPS, cfg.APIRateLimitBurst)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("EMPI Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down EMPI Service...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("failed to close redis")
	}

	logger.Log.Info("EMPI Service stopped")
}
