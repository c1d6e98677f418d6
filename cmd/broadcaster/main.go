package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/broadcast"
	"github.com/Yimsu/node-auction/internal/config"
	redisclient "github.com/Yimsu/node-auction/internal/redis"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("starting broadcaster", zap.String("addr", cfg.HTTPAddr))

	subscriber, err := redisclient.NewSubscriber(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer subscriber.Close()

	hub := broadcast.NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := subscriber.SubscribeAll(ctx); err != nil {
		logger.Fatal("failed to subscribe to bid events", zap.Error(err))
	}

	// Drain Redis Pub/Sub into the hub
	messages := make(chan *redisclient.Message, 256)
	go func() {
		if err := subscriber.Listen(ctx, messages); err != nil && ctx.Err() == nil {
			logger.Error("subscriber stopped", zap.Error(err))
		}
	}()
	go func() {
		for msg := range messages {
			hub.Publish(msg.ItemID, msg.Payload)
		}
	}()

	handler := broadcast.NewHandler(hub, logger)
	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     handler.SetupRoutes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("broadcaster listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("broadcaster stopped gracefully")
}
