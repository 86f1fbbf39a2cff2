package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/api"
	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/queue"
	"github.com/a1j9o94/jobagent/internal/ratelimit"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/transport"
	"github.com/a1j9o94/jobagent/internal/worker"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}

	stepQueue := queue.NewFromConfig(cfg)
	tr := transport.NewFromConfig(cfg)
	defer func() { _ = tr.Close() }()
	enq := worker.NewEnqueuer(cfg, st, stepQueue)

	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewIngestLimiter(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill)

	server := api.New(cfg, st, enq, stepQueue, tr, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) *zap.Logger {
	if cfg.Env == "production" {
		log, _ := zap.NewProduction()
		return log
	}
	log, _ := zap.NewDevelopment()
	return log
}
