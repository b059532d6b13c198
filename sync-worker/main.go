package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"rfq-sync/config"
	"rfq-sync/pipeline"
	"rfq-sync/push"
	"rfq-sync/scheduler"
	"rfq-sync/storage"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	config.SetupLogging(cfg.Debug)
	logger := log.StandardLogger()
	log.Info("sync worker starting")

	store, err := storage.New(cfg.Storage.ConnectionString, cfg.Storage.Tables)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	redisOpts, err := config.RedisOptions(cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	transport, err := config.NewTransport(cfg.Bus, logger)
	if err != nil {
		log.Fatalf("transport: %v", err)
	}
	defer transport.Close()

	sys := pipeline.New(pipeline.Options{
		Store:          store,
		Transport:      transport,
		Redis:          rc,
		Push:           push.NewRedisChannel(rc, cfg.PushChannel),
		Logger:         logger,
		SearchPrefix:   cfg.SearchPrefix,
		CacheTTL:       cfg.CacheTTL,
		DedupTTL:       cfg.DedupTTL,
		ClaimTTL:       cfg.ClaimTTL,
		InlineIndexing: cfg.InlineIndexing,
		CoalesceWindow: cfg.CoalesceWindow,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sys.Indexer.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Warn("search indexes not created yet; they are created on first write")
	}

	runner := scheduler.NewRunner(cfg.SchedulerPoll, logger)
	for _, job := range sys.Jobs(cfg.RebuildSchedule, cfg.CloseExpiredSchedule) {
		if err := runner.Register(job); err != nil {
			log.Fatalf("scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/healthz", func(c echo.Context) error {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := rc.Ping(pingCtx).Err(); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sys.Consumer(transport, cfg.Bus.Consumer, logger).Run(ctx); err != nil {
			log.WithError(err).Error("consumer stopped")
		}
	}()
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()
	go func() {
		if err := e.Start(cfg.HealthAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("health endpoint: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("sync worker stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Shutdown(shutdownCtx)
	wg.Wait()
}
