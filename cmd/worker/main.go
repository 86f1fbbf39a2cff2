package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/drafting"
	"github.com/a1j9o94/jobagent/internal/llm"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/notify"
	"github.com/a1j9o94/jobagent/internal/pipeline"
	"github.com/a1j9o94/jobagent/internal/queue"
	"github.com/a1j9o94/jobagent/internal/reconciler"
	"github.com/a1j9o94/jobagent/internal/scoring"
	"github.com/a1j9o94/jobagent/internal/storage"
	"github.com/a1j9o94/jobagent/internal/store"
	"github.com/a1j9o94/jobagent/internal/telemetry"
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

	uploader, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatal("init artifact storage", zap.Error(err))
	}

	var notifier notify.Notifier = &notify.LogNotifier{Log: log}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg)
		if err != nil {
			log.Warn("telegram init failed, logging notifications instead", zap.Error(err))
		} else {
			notifier = tg
		}
	}

	rec := reconciler.New(cfg, st, tr, notifier, log)

	schedule := cron.New()
	addSchedule(schedule, cfg.ReconcileSchedule, func() { rec.Run(ctx) }, "reconcile", log)
	addSchedule(schedule, cfg.SweepSchedule, func() {
		if _, err := enq.Enqueue(ctx, models.StepSourceSweep, map[string]any{}, 0); err != nil {
			log.Error("sweep enqueue failed", zap.Error(err))
		}
	}, "sweep", log)
	addSchedule(schedule, cfg.ReportSchedule, func() {
		if _, err := enq.Enqueue(ctx, models.StepDailyReport, map[string]any{}, 0); err != nil {
			log.Error("report enqueue failed", zap.Error(err))
		}
	}, "report", log)
	schedule.Start()
	defer schedule.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	log.Info("worker started",
		zap.Duration("visibility", cfg.VisibilityTimeout),
		zap.Int("max_steps", cfg.WorkerMaxSteps))

	// Each pass builds fresh adapter clients; the recycle bound keeps
	// long-lived model/HTTP handles from accumulating state.
	for {
		proc := worker.NewProcessor(cfg, stepQueue, st, enq, log)
		client := llm.NewClient(cfg)
		p := pipeline.New(cfg, st,
			scoring.NewRetryingScorer(cfg, client, log),
			drafting.NewRetryingDrafter(cfg, client, log),
			uploader, tr, notifier, log)
		p.Register(proc)

		err := proc.Run(ctx)
		if errors.Is(err, worker.ErrRecycle) {
			continue
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("worker stopped", zap.Error(err))
		}
		return
	}
}

func addSchedule(c *cron.Cron, spec string, fn func(), name string, log *zap.Logger) {
	if spec == "" {
		return
	}
	if _, err := c.AddFunc(spec, fn); err != nil {
		log.Fatal("invalid cron schedule", zap.String("name", name), zap.String("spec", spec), zap.Error(err))
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	if cfg.Env == "production" {
		log, _ := zap.NewProduction()
		return log
	}
	log, _ := zap.NewDevelopment()
	return log
}
