package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/mailbox"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

// Column limits for synced rows.
const (
	maxFromLength    = 255
	maxSubjectLength = 500
	maxTextLength    = 1000

	DefaultSyncWindow = 25

	noSubject = "(No Subject)"
)

// AccountSync is the outcome for one account.
type AccountSync struct {
	AccountID int    `json:"account_id"`
	Messages  int    `json:"messages"`
	Error     string `json:"error,omitempty"`
}

// SyncReport summarizes a synchronization pass.
type SyncReport struct {
	Accounts []AccountSync `json:"accounts"`
	Messages int           `json:"messages"`
	Failed   int           `json:"failed"`
}

func (r *SyncReport) add(a AccountSync) {
	r.Accounts = append(r.Accounts, a)
	r.Messages += a.Messages
	if a.Error != "" {
		r.Failed++
	}
}

// InboundSync mirrors recent IMAP messages into the emails table.
type InboundSync struct {
	AccountRepo repository.AccountRepositoryInterface
	EmailRepo   repository.EmailRepositoryInterface
	Fetcher     mailbox.Fetcher
	Vault       Decrypter
	Log         logrus.FieldLogger

	// Window is how many of the newest messages per folder are read.
	Window int

	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *InboundSync) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SyncAll synchronizes every active account with IMAP settings. A failing
// account is reported and does not stop the others.
func (s *InboundSync) SyncAll(ctx context.Context) (*SyncReport, error) {
	accounts, err := s.AccountRepo.ListSyncable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	report := &SyncReport{Accounts: []AccountSync{}}
	for i := range accounts {
		report.add(s.syncAccount(ctx, &accounts[i]))
	}

	s.Log.WithFields(logrus.Fields{
		"accounts": len(report.Accounts),
		"messages": report.Messages,
		"failed":   report.Failed,
	}).Info("inbound sync finished")
	return report, nil
}

// SyncAccount synchronizes a single account.
func (s *InboundSync) SyncAccount(ctx context.Context, accountID int) (*AccountSync, error) {
	account, err := s.AccountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	host, _ := account.IMAPAddress()
	if !account.IsActive || host == "" {
		return nil, fmt.Errorf("%w: account %d is inactive or has no IMAP settings", appErrors.ErrInvalidRequest, accountID)
	}

	res := s.syncAccount(ctx, account)
	return &res, nil
}

func (s *InboundSync) syncAccount(ctx context.Context, account *model.SmtpAccount) AccountSync {
	log := s.Log.WithField("account_id", account.ID)
	res := AccountSync{AccountID: account.ID}

	password, err := s.Vault.Decrypt(account.IMAPSecret())
	if err != nil {
		log.WithError(err).Error("decrypt account secret failed")
		res.Error = appErrors.ErrCredential.Error()
		return res
	}

	host, port := account.IMAPAddress()
	creds := mailbox.Credentials{
		Host:     host,
		Port:     port,
		Secure:   account.IMAPSecure,
		Username: account.IMAPLogin(),
		Password: password,
	}

	window := s.Window
	if window <= 0 {
		window = DefaultSyncWindow
	}

	msgs, err := s.Fetcher.FetchRecent(ctx, creds, window)
	if err != nil {
		log.WithError(err).Error("fetch mailbox failed")
		res.Error = err.Error()
		return res
	}

	for i := range msgs {
		email := s.toEmail(account, &msgs[i])
		if err := s.EmailRepo.UpsertInbound(ctx, email); err != nil {
			log.WithFields(logrus.Fields{"uid": msgs[i].UID, "folder": msgs[i].Folder}).
				WithError(err).Error("store synced message failed")
			continue
		}
		metricSyncedMessages.WithLabelValues(email.Folder).Inc()
		res.Messages++
	}

	if err := s.AccountRepo.TouchLastSync(ctx, account.ID); err != nil {
		log.WithError(err).Warn("update last sync failed")
	}

	log.WithField("messages", res.Messages).Info("account synced")
	return res
}

func (s *InboundSync) toEmail(account *model.SmtpAccount, m *mailbox.InboundMessage) *model.Email {
	uid := m.UID
	owner := account.CreatedBy

	direction := model.DirectionInbound
	status := model.EmailStatusReceived
	if m.Folder == model.FolderSent {
		direction = model.DirectionOutbound
		status = model.EmailStatusSent
	}

	from := m.From
	if from == "" {
		from = "Unknown"
	}
	fromName := m.FromName
	if fromName == "" {
		fromName = from
	}

	subject := m.Subject
	if subject == "" {
		subject = noSubject
	}

	text := m.Text
	if text == "" && m.HTML != "" {
		text = StripTags(m.HTML)
	}

	date := m.Date
	if date.IsZero() {
		date = s.now()
	}

	to := m.To
	if to == nil {
		to = []mailbox.Address{}
	}
	toJSON, _ := json.Marshal(to)

	return &model.Email{
		TenantID:        account.TenantID,
		UserID:          &owner,
		SMTPAccountID:   account.ID,
		UID:             &uid,
		Direction:       direction,
		Folder:          m.Folder,
		Status:          status,
		FromAddress:     Truncate(from, maxFromLength),
		FromName:        Truncate(fromName, maxFromLength),
		Subject:         Truncate(subject, maxSubjectLength),
		BodyHTML:        m.HTML,
		BodyText:        Truncate(text, maxTextLength),
		RecipientTo:     string(toJSON),
		AttachmentCount: m.AttachmentCount,
		IsRead:          m.IsRead,
		ReceivedAt:      &date,
	}
}
