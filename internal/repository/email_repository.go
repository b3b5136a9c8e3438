package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

// maxTempUIDAttempts bounds the retry loop for synthetic campaign UIDs.
const maxTempUIDAttempts = 3

type EmailRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Email, error)
	CreateQueued(ctx context.Context, e *model.Email) error
	InsertCampaignCopy(ctx context.Context, e *model.Email) error
	MarkSent(ctx context.Context, id int, messageID, response string) error
	MarkFailed(ctx context.Context, id int, lastError string) error
	UpsertInbound(ctx context.Context, e *model.Email) error
}

type EmailRepository struct {
	DB *sqlx.DB

	// TempUID generates the synthetic UID for a campaign copy. Positive
	// UIDs belong to IMAP, so synthetic ones are negative.
	TempUID func(attempt int) int64
}

func defaultTempUID(attempt int) int64 {
	return -1 * (time.Now().Unix() + rand.Int63n(1000000) + int64(attempt))
}

const emailColumns = `id, tenant_id, user_id, smtp_account_id, uid, customer_id, direction, folder, status,
        from_address, from_name, subject, body_html, body_text, recipient_to, in_reply_to,
        message_id, provider_response, attachment_count, is_read, last_error, received_at, sent_at, created_at`

// GetByID fetches an email by its ID
func (r *EmailRepository) GetByID(ctx context.Context, id int) (*model.Email, error) {
	var e model.Email
	err := r.DB.GetContext(ctx, &e, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewEmailNotFound(id)
		}
		return nil, err
	}
	return &e, nil
}

// CreateQueued inserts an outbound email waiting for the send worker.
func (r *EmailRepository) CreateQueued(ctx context.Context, e *model.Email) error {
	e.Direction = model.DirectionOutbound
	e.Folder = model.FolderSENT
	e.Status = model.EmailStatusQueued
	e.IsRead = true

	query := `
        INSERT INTO emails
        (tenant_id, user_id, smtp_account_id, customer_id, direction, folder, status, is_read,
         from_address, from_name, subject, body_html, body_text, recipient_to, in_reply_to, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
        RETURNING id, created_at
    `
	return r.DB.QueryRowContext(ctx, query,
		e.TenantID, e.UserID, e.SMTPAccountID, e.CustomerID, e.Direction, e.Folder, e.Status, e.IsRead,
		e.FromAddress, e.FromName, e.Subject, e.BodyHTML, e.BodyText, e.RecipientTo, e.InReplyTo,
	).Scan(&e.ID, &e.CreatedAt)
}

// InsertCampaignCopy stores an already delivered campaign email in the sent
// folder. The synthetic UID is regenerated on collision, up to three times.
func (r *EmailRepository) InsertCampaignCopy(ctx context.Context, e *model.Email) error {
	gen := r.TempUID
	if gen == nil {
		gen = defaultTempUID
	}

	e.Direction = model.DirectionOutbound
	e.Folder = model.FolderSENT
	e.Status = model.EmailStatusSent
	e.IsRead = true

	query := `
        INSERT INTO emails
        (tenant_id, user_id, smtp_account_id, uid, customer_id, direction, folder, status,
         from_address, from_name, subject, body_html, body_text, recipient_to, is_read, sent_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW(), NOW())
        RETURNING id
    `
	for attempt := 0; attempt < maxTempUIDAttempts; attempt++ {
		uid := gen(attempt)
		err := r.DB.QueryRowContext(ctx, query,
			e.TenantID, e.UserID, e.SMTPAccountID, uid, e.CustomerID, e.Direction, e.Folder, e.Status,
			e.FromAddress, e.FromName, e.Subject, e.BodyHTML, e.BodyText, e.RecipientTo, e.IsRead,
		).Scan(&e.ID)
		if err == nil {
			e.UID = &uid
			return nil
		}
		if !IsUniqueViolation(err) {
			return err
		}
	}
	return fmt.Errorf("insert campaign email: uid collision after %d attempts", maxTempUIDAttempts)
}

func (r *EmailRepository) MarkSent(ctx context.Context, id int, messageID, response string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE emails
        SET status = 'sent', message_id = $1, provider_response = $2, sent_at = NOW(),
            last_error = NULL, updated_at = NOW()
        WHERE id = $3
    `, messageID, response, id)
	return err
}

func (r *EmailRepository) MarkFailed(ctx context.Context, id int, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE emails SET status = 'failed', last_error = $1, updated_at = NOW() WHERE id = $2
    `, lastError, id)
	return err
}

// UpsertInbound inserts a synced message keyed by (tenant, account, uid,
// folder), refreshing its metadata when the row already exists.
func (r *EmailRepository) UpsertInbound(ctx context.Context, e *model.Email) error {
	query := `
        INSERT INTO emails
        (tenant_id, user_id, smtp_account_id, uid, folder, direction, status, from_name, from_address,
         recipient_to, body_text, body_html, received_at, attachment_count, subject, is_read, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
        ON CONFLICT (tenant_id, smtp_account_id, uid, folder) DO UPDATE SET
            from_name = EXCLUDED.from_name,
            recipient_to = EXCLUDED.recipient_to,
            subject = EXCLUDED.subject,
            body_text = EXCLUDED.body_text,
            body_html = EXCLUDED.body_html,
            received_at = EXCLUDED.received_at,
            attachment_count = EXCLUDED.attachment_count,
            is_read = EXCLUDED.is_read,
            updated_at = NOW()
    `
	_, err := r.DB.ExecContext(ctx, query,
		e.TenantID, e.UserID, e.SMTPAccountID, e.UID, e.Folder, e.Direction, e.Status, e.FromName, e.FromAddress,
		e.RecipientTo, e.BodyText, e.BodyHTML, e.ReceivedAt, e.AttachmentCount, e.Subject, e.IsRead,
	)
	return err
}

var _ EmailRepositoryInterface = (*EmailRepository)(nil)
