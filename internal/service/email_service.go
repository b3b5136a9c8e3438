package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/queue"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

// SendRequest is a one-off email submitted for asynchronous delivery.
type SendRequest struct {
	TenantID      int      `json:"tenant_id"`
	UserID        *int     `json:"user_id,omitempty"`
	SMTPAccountID int      `json:"smtp_account_id"`
	To            []string `json:"to"`
	Subject       string   `json:"subject"`
	BodyHTML      string   `json:"body_html"`
	BodyText      string   `json:"body_text"`
	CustomerID    *int     `json:"customer_id,omitempty"`
	InReplyTo     string   `json:"in_reply_to,omitempty"`
}

// EmailService stores outbound emails and hands them to the send worker.
type EmailService struct {
	EmailRepo   repository.EmailRepositoryInterface
	AccountRepo repository.AccountRepositoryInterface
	Queue       queue.Queue
	Topic       string
	Log         logrus.FieldLogger
}

// Enqueue inserts req as a queued email and publishes its send job.
func (s *EmailService) Enqueue(ctx context.Context, req SendRequest) (*model.Email, error) {
	recipients := make([]model.Recipient, 0, len(req.To))
	for _, to := range req.To {
		if to = strings.TrimSpace(to); to != "" {
			recipients = append(recipients, model.Recipient{Email: to})
		}
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", appErrors.ErrInvalidRequest)
	}
	if req.SMTPAccountID == 0 {
		return nil, fmt.Errorf("%w: smtp_account_id is required", appErrors.ErrInvalidRequest)
	}

	account, err := s.AccountRepo.GetByID(ctx, req.SMTPAccountID)
	if err != nil {
		return nil, err
	}
	if account.TenantID != req.TenantID {
		return nil, appErrors.NewAccountNotFound(req.SMTPAccountID)
	}
	if !account.IsActive {
		return nil, fmt.Errorf("%w: smtp account %d is inactive", appErrors.ErrInvalidRequest, account.ID)
	}

	email := &model.Email{
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		SMTPAccountID: account.ID,
		CustomerID:    req.CustomerID,
		FromAddress:   account.FromEmail,
		FromName:      account.FromName,
		Subject:       req.Subject,
		BodyHTML:      req.BodyHTML,
		BodyText:      req.BodyText,
		RecipientTo:   model.EncodeRecipients(recipients),
	}
	if email.BodyText == "" {
		email.BodyText = StripTags(req.BodyHTML)
	}
	if req.InReplyTo != "" {
		email.InReplyTo = &req.InReplyTo
	}

	if err := s.EmailRepo.CreateQueued(ctx, email); err != nil {
		return nil, fmt.Errorf("store queued email: %w", err)
	}

	body, err := json.Marshal(model.SendJob{EmailID: email.ID, SMTPAccountID: account.ID})
	if err != nil {
		return nil, err
	}
	if err := s.Queue.Publish(ctx, s.Topic, body); err != nil {
		msg := Truncate(err.Error(), MaxErrorLength)
		if mErr := s.EmailRepo.MarkFailed(ctx, email.ID, msg); mErr != nil {
			s.Log.WithField("email_id", email.ID).WithError(mErr).Error("mark email failed")
		}
		return nil, fmt.Errorf("enqueue email %d: %w", email.ID, err)
	}

	s.Log.WithFields(logrus.Fields{"email_id": email.ID, "account_id": account.ID}).Info("email queued")
	return email, nil
}
