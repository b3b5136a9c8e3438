// cmd/scheduler/main.go runs active campaigns and inbound sync on fixed
// intervals.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailflow-backend/internal/app"
	"github.com/unclebandit/mailflow-backend/internal/config"
	"github.com/unclebandit/mailflow-backend/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.InitLogger(cfg.LogLevel)

	a, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{}, 2)
	go every(ctx, cfg.CampaignInterval, log.WithField("loop", "campaigns"), done, func(ctx context.Context) error {
		_, err := a.Runner.RunActive(ctx)
		return err
	})
	go every(ctx, cfg.SyncInterval, log.WithField("loop", "sync"), done, func(ctx context.Context) error {
		_, err := a.Sync.SyncAll(ctx)
		return err
	})

	log.WithFields(logrus.Fields{
		"campaign_interval": cfg.CampaignInterval,
		"sync_interval":     cfg.SyncInterval,
	}).Info("scheduler running")

	<-done
	<-done
}

// every runs fn immediately and then once per interval. Passes never
// overlap, so one campaign is never run twice at the same time.
func every(ctx context.Context, interval time.Duration, log logrus.FieldLogger, done chan<- struct{}, fn func(context.Context) error) {
	defer func() { done <- struct{}{} }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil {
			log.WithError(err).Error("pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
