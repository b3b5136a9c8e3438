package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/mailer"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/queue"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

// MaxErrorLength bounds error text stored on emails and job history.
const MaxErrorLength = 500

// SendWorker delivers emails queued by the enqueue API.
type SendWorker struct {
	EmailRepo   repository.EmailRepositoryInterface
	AccountRepo repository.AccountRepositoryInterface
	HistoryRepo repository.JobHistoryRepositoryInterface
	Vault       Decrypter
	Mailer      mailer.Deliverer
	Log         logrus.FieldLogger
}

// Process handles one delivery of a send job. The outcome is recorded in
// job history before returning; a returned error hands the job back to the
// queue for retry unless it is permanent.
func (w *SendWorker) Process(ctx context.Context, d queue.Delivery) error {
	log := w.Log.WithFields(logrus.Fields{"job_id": d.ID, "attempt": d.Attempt})

	var job model.SendJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.EmailID == 0 {
		if err == nil {
			err = errors.New("missing emailId")
		}
		err = appErrors.Permanent(fmt.Errorf("malformed send job: %w", err))
		w.record(ctx, log, d, nil, err)
		return err
	}
	log = log.WithField("email_id", job.EmailID)

	receipt, err := w.send(ctx, job)
	if err != nil {
		msg := Truncate(err.Error(), MaxErrorLength)
		if mErr := w.EmailRepo.MarkFailed(ctx, job.EmailID, msg); mErr != nil {
			log.WithError(mErr).Error("mark email failed")
		}
		w.record(ctx, log, d, &job.EmailID, err)
		log.WithError(err).Warn("send job failed")
		return err
	}

	if err := w.EmailRepo.MarkSent(ctx, job.EmailID, receipt.MessageID, receipt.Response); err != nil {
		err = fmt.Errorf("mark email sent: %w", err)
		w.record(ctx, log, d, &job.EmailID, err)
		log.WithError(err).Error("send job failed after delivery")
		return err
	}

	w.record(ctx, log, d, &job.EmailID, nil)
	log.Info("email sent")
	return nil
}

func (w *SendWorker) send(ctx context.Context, job model.SendJob) (*mailer.Receipt, error) {
	email, err := w.EmailRepo.GetByID(ctx, job.EmailID)
	if err != nil {
		var notFound *appErrors.ErrEmailNotFound
		if errors.As(err, &notFound) {
			return nil, appErrors.Permanent(err)
		}
		return nil, fmt.Errorf("load email: %w", err)
	}

	accountID := job.SMTPAccountID
	if accountID == 0 {
		accountID = email.SMTPAccountID
	}
	account, err := w.AccountRepo.GetByID(ctx, accountID)
	if err != nil {
		var notFound *appErrors.ErrAccountNotFound
		if errors.As(err, &notFound) {
			return nil, appErrors.Permanent(err)
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	password, err := w.Vault.Decrypt(account.EncryptedPassword)
	if err != nil {
		// ErrCredential is permanent, so the job goes straight to the dead
		// letter queue: a token that fails under this master key fails on
		// every attempt.
		return nil, appErrors.ErrCredential
	}

	recipients, err := model.ParseRecipients(email.RecipientTo)
	if err != nil {
		return nil, appErrors.Permanent(fmt.Errorf("invalid recipients: %w", err))
	}
	if len(recipients) == 0 {
		return nil, appErrors.Permanent(errors.New("email has no recipients"))
	}

	msg := mailer.Message{
		From:    mailer.Address{Name: fromName(email, account), Email: account.FromEmail},
		Subject: email.Subject,
		HTML:    email.BodyHTML,
		Text:    email.BodyText,
	}
	if msg.Text == "" && msg.HTML != "" {
		msg.Text = StripTags(msg.HTML)
	}
	if email.InReplyTo != nil {
		msg.InReplyTo = *email.InReplyTo
	}
	for _, r := range recipients {
		msg.To = append(msg.To, mailer.Address{Name: r.Name, Email: r.Email})
	}

	creds := mailer.Credentials{
		Host:     account.SMTPHost,
		Port:     account.SMTPPort,
		Username: account.Login(),
		Password: password,
	}

	start := time.Now()
	receipt, err := w.Mailer.Deliver(ctx, creds, msg)
	observeDelivery("worker", time.Since(start).Seconds(), err)
	return receipt, err
}

func fromName(e *model.Email, a *model.SmtpAccount) string {
	if e.FromName != "" {
		return e.FromName
	}
	return a.FromName
}

func (w *SendWorker) record(ctx context.Context, log logrus.FieldLogger, d queue.Delivery, emailID *int, jobErr error) {
	h := &model.QueueJobHistory{
		JobID:    d.ID,
		Queue:    d.Topic,
		EmailID:  emailID,
		Status:   model.JobStatusCompleted,
		Attempts: d.Attempt,
	}
	if jobErr != nil {
		msg := Truncate(jobErr.Error(), MaxErrorLength)
		h.Status = model.JobStatusFailed
		h.Error = &msg
	}
	metricSendJobs.WithLabelValues(h.Status).Inc()

	if err := w.HistoryRepo.Record(ctx, h); err != nil {
		log.WithError(err).Error("record job history failed")
	}
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
