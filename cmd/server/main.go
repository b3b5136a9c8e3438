// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/mailflow-backend/internal/app"
	"github.com/unclebandit/mailflow-backend/internal/config"
	"github.com/unclebandit/mailflow-backend/internal/controller"
	"github.com/unclebandit/mailflow-backend/internal/handler"
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
		log.WithError(err).Fatal("failed to connect to queue")
	}
	defer q.Close()

	campaignHandler := handler.NewCampaignHandler(a.Runner, log.WithField("component", "http"))
	emailController := &controller.EmailController{
		EmailService: a.EmailService(q),
		Sync:         a.Sync,
		Log:          log.WithField("component", "http"),
	}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns/run-due", campaignHandler.RunDueHandler)
	r.Post("/campaigns/{id}/run", campaignHandler.RunCampaignHandler)

	// Email routes
	r.Post("/emails/send", emailController.SendEmail)
	r.Post("/accounts/sync", emailController.SyncAll)
	r.Post("/accounts/{id}/sync", emailController.SyncAccount)

	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", cfg.HTTPAddr).Info("server running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server failed")
	}
}
