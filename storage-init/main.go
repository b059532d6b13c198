package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"rfq-sync/bus"
	"rfq-sync/config"
	"rfq-sync/storage"
)

func main() {
	cfg, err := config.LoadInit()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CreateTimeout)
	defer cancel()

	tables, err := storage.New(cfg.Storage.ConnectionString, cfg.Storage.Tables)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := tables.EnsureTables(ctx); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := bus.EnsureAzureQueues(ctx, cfg.Storage.ConnectionString, cfg.Queues...); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.WithField("queues", cfg.Queues).Info("storage init complete")
}
