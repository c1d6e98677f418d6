package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/auction"
	"github.com/Yimsu/node-auction/internal/config"
	"github.com/Yimsu/node-auction/internal/events"
	"github.com/Yimsu/node-auction/internal/handlers"
	"github.com/Yimsu/node-auction/internal/ledger"
	redisclient "github.com/Yimsu/node-auction/internal/redis"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("starting auctiond", zap.String("addr", cfg.HTTPAddr))

	// Ledger (system of record)
	pg, err := ledger.NewPostgres(cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.InitSchema(context.Background()); err != nil {
		logger.Fatal("failed to initialize schema", zap.Error(err))
	}

	// Hot-path bid guard and realtime transport
	redis, err := redisclient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	natsConn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsConn.Close()

	publisher, err := events.NewPublisher(natsConn, redis, logger)
	if err != nil {
		logger.Fatal("failed to create event publisher", zap.Error(err))
	}

	// Lifecycle engine
	settler := auction.NewSettler(pg, logger)
	scheduler := auction.NewScheduler(settler.Settle, logger)
	defer scheduler.Stop()

	// Repair anything missed while the process was down, and re-arm
	// timers, before accepting bid traffic.
	sweeper := auction.NewSweeper(pg, settler, scheduler, cfg.SweepParallelism, logger)
	if err := sweeper.Run(context.Background()); err != nil {
		logger.Fatal("reconciliation sweep failed", zap.Error(err))
	}

	engine := auction.NewEngine(pg, redis, publisher, scheduler, logger)

	handler := handlers.NewHandler(engine, logger)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("auctiond listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped gracefully")
}
