package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/api"
	"github.com/david/bid-tracker/internal/auth"
	"github.com/david/bid-tracker/internal/config"
	"github.com/david/bid-tracker/internal/db"
	"github.com/david/bid-tracker/internal/ingest"
	"github.com/david/bid-tracker/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zap.L().Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.Store)
	if err != nil {
		zap.L().Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close() //nolint:errcheck

	runner, err := ingest.Setup(store, cfg.Ingest.SourcesFile, ingest.FetchConfig{
		TimeoutSeconds: cfg.Fetch.TimeoutSecs,
		MaxRetries:     cfg.Fetch.MaxRetries,
		DelayMillis:    cfg.Fetch.DelayMillis,
		UserAgent:      cfg.Fetch.UserAgent,
	}, ingest.WithHistoryRetention(cfg.Ingest.HistoryRetention))
	if err != nil {
		zap.L().Fatal("failed to load sources", zap.Error(err))
	}

	authService, err := auth.NewService(auth.Config{
		Username:     cfg.Auth.Username,
		PasswordHash: cfg.Auth.PasswordHash,
		JWTSecret:    cfg.Auth.JWTSecret,
		TokenTTL:     cfg.Auth.TokenTTL(),
	})
	if err != nil {
		zap.L().Fatal("failed to init auth", zap.Error(err))
	}

	metrics.Init()
	srv := api.NewServer(store, authService, runner, api.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		RunTimeout:  time.Duration(cfg.Ingest.RunTimeoutMins) * time.Minute,
		SourcesFile: cfg.Ingest.SourcesFile,
	})

	port := strconv.Itoa(cfg.Server.Port)
	go func() {
		zap.L().Info("server starting", zap.String("port", port))
		if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("shutdown failed", zap.Error(err))
	}
}
