// Package app wires the stores, transports and services shared by the
// binaries under cmd/.
package app

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailflow-backend/internal/config"
	"github.com/unclebandit/mailflow-backend/internal/db"
	"github.com/unclebandit/mailflow-backend/internal/mailbox"
	"github.com/unclebandit/mailflow-backend/internal/mailer"
	"github.com/unclebandit/mailflow-backend/internal/queue"
	"github.com/unclebandit/mailflow-backend/internal/repository"
	"github.com/unclebandit/mailflow-backend/internal/service"
	"github.com/unclebandit/mailflow-backend/internal/vault"
)

// App holds the wired components.
type App struct {
	Config *config.Config
	Log    *logrus.Logger
	DB     *sqlx.DB

	Campaigns *repository.CampaignRepository
	Customers *repository.CustomerRepository
	Emails    *repository.EmailRepository
	Accounts  *repository.AccountRepository
	History   *repository.JobHistoryRepository

	Vault  *vault.Vault
	Mailer *mailer.SMTPDeliverer

	Runner *service.CampaignRunner
	Sync   *service.InboundSync
	Worker *service.SendWorker
}

// New opens the database and builds every service. The vault master key
// comes from SMTP_ENCRYPTION_KEY or, when unset, the OS keyring.
func New(cfg *config.Config, log *logrus.Logger) (*App, error) {
	masterKey, err := vault.ResolveMasterKey(cfg.EncryptionKey, vault.OpenKeyStore)
	if err != nil {
		return nil, fmt.Errorf("SMTP_ENCRYPTION_KEY is not set: %w", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		DB:        conn,
		Campaigns: &repository.CampaignRepository{DB: conn},
		Customers: &repository.CustomerRepository{DB: conn},
		Emails:    &repository.EmailRepository{DB: conn},
		Accounts:  &repository.AccountRepository{DB: conn},
		History:   &repository.JobHistoryRepository{DB: conn},
		Vault:     vault.New(masterKey),
		Mailer:    &mailer.SMTPDeliverer{Timeout: cfg.MailerTimeout},
	}

	a.Runner = &service.CampaignRunner{
		CampaignRepo: a.Campaigns,
		CustomerRepo: a.Customers,
		EmailRepo:    a.Emails,
		Vault:        a.Vault,
		Mailer:       a.Mailer,
		Log:          log.WithField("component", "runner"),
	}

	a.Sync = &service.InboundSync{
		AccountRepo: a.Accounts,
		EmailRepo:   a.Emails,
		Fetcher: &mailbox.IMAPFetcher{
			DialTimeout: cfg.MailerTimeout,
			Log:         log.WithField("component", "imap"),
		},
		Vault:  a.Vault,
		Log:    log.WithField("component", "sync"),
		Window: cfg.SyncWindow,
	}

	a.Worker = &service.SendWorker{
		EmailRepo:   a.Emails,
		AccountRepo: a.Accounts,
		HistoryRepo: a.History,
		Vault:       a.Vault,
		Mailer:      a.Mailer,
		Log:         log.WithField("component", "worker"),
	}

	return a, nil
}

// RetryPolicy is the queue retry policy from configuration.
func (a *App) RetryPolicy() queue.RetryPolicy {
	return queue.RetryPolicy{MaxAttempts: a.Config.WorkerMaxAttempts, Backoff: a.Config.WorkerBackoff}
}

// DialQueue connects to the broker.
func (a *App) DialQueue() (*queue.AMQPQueue, error) {
	return queue.DialAMQP(a.Config.AMQPURL, a.RetryPolicy(), a.Config.WorkerConcurrency, a.Log.WithField("component", "queue"))
}

// EmailService builds the enqueue API on top of q.
func (a *App) EmailService(q queue.Queue) *service.EmailService {
	return &service.EmailService{
		EmailRepo:   a.Emails,
		AccountRepo: a.Accounts,
		Queue:       q,
		Topic:       a.Config.EmailQueue,
		Log:         a.Log.WithField("component", "email"),
	}
}

// Close releases the database pool.
func (a *App) Close() error {
	return a.DB.Close()
}
