// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

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

	q, err := a.DialQueue()
	if err != nil {
		log.WithError(err).Fatal("failed to connect to RabbitMQ")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := q.Subscribe(ctx, cfg.EmailQueue, a.Worker.Process); err != nil {
		log.WithError(err).Fatal("failed to register consumer")
	}

	log.WithFields(map[string]interface{}{
		"queue":       cfg.EmailQueue,
		"concurrency": cfg.WorkerConcurrency,
	}).Info("worker running, waiting for messages")

	<-ctx.Done()
	log.Info("shutting down, waiting for in-flight jobs")
	if err := q.Close(); err != nil {
		log.WithError(err).Warn("close queue")
	}
}
