package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign definition
	GetForRun(ctx context.Context, campaignID, tenantID int) (*model.Campaign, error)
	ListActive(ctx context.Context) ([]model.Campaign, error)
	ListSteps(ctx context.Context, campaignID int) ([]model.CampaignStep, error)
	AddSentCount(ctx context.Context, campaignID, n int) error

	// Leads
	SelectLeads(ctx context.Context, campaignID int, force bool, limit int, now time.Time) ([]model.CampaignLead, error)
	ClaimLead(ctx context.Context, leadID, step int, now, until time.Time) (bool, error)
	ReleaseLead(ctx context.Context, leadID int) error
	AdvanceLead(ctx context.Context, leadID, nextStep int, nextDue time.Time) error
	CompleteLead(ctx context.Context, leadID int) error

	// Logs
	InsertLog(ctx context.Context, campaignID int, leadID *int, logType, message string) error
}

type CampaignRepository struct {
	DB *sqlx.DB
}

// ====================== Campaign definition ======================

// GetForRun loads a tenant's campaign joined with its sending account. The
// account is nil when the campaign references none.
func (r *CampaignRepository) GetForRun(ctx context.Context, campaignID, tenantID int) (*model.Campaign, error) {
	query := `
        SELECT c.id, c.tenant_id, c.created_by, c.name, c.account_id, c.sent_count,
               a.id, a.tenant_id, a.from_name, a.from_email, a.username,
               a.encrypted_password, a.smtp_host, a.smtp_port
        FROM campaigns c
        LEFT JOIN smtp_accounts a ON a.id = c.account_id
        WHERE c.id = $1 AND c.tenant_id = $2
    `
	var (
		c                             model.Campaign
		accID, accTenant, smtpPort    sql.NullInt64
		fromName, fromEmail, username sql.NullString
		encPassword, smtpHost         sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, query, campaignID, tenantID).Scan(
		&c.ID, &c.TenantID, &c.CreatedBy, &c.Name, &c.AccountID, &c.SentCount,
		&accID, &accTenant, &fromName, &fromEmail, &username,
		&encPassword, &smtpHost, &smtpPort,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(campaignID)
		}
		return nil, err
	}

	if accID.Valid {
		c.Account = &model.SmtpAccount{
			ID:                int(accID.Int64),
			TenantID:          int(accTenant.Int64),
			FromName:          fromName.String,
			FromEmail:         fromEmail.String,
			Username:          username.String,
			EncryptedPassword: encPassword.String,
			SMTPHost:          smtpHost.String,
			SMTPPort:          int(smtpPort.Int64),
		}
	}
	return &c, nil
}

func (r *CampaignRepository) ListSteps(ctx context.Context, campaignID int) ([]model.CampaignStep, error) {
	steps := []model.CampaignStep{}
	query := `
        SELECT id, campaign_id, step_order, type, subject, html_body, delay_seconds
        FROM campaign_steps
        WHERE campaign_id = $1
        ORDER BY step_order ASC, id ASC
    `
	if err := r.DB.SelectContext(ctx, &steps, query, campaignID); err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *CampaignRepository) AddSentCount(ctx context.Context, campaignID, n int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET sent_count = sent_count + $1 WHERE id = $2`, n, campaignID)
	return err
}

// ListActive returns campaigns the scheduler should run, across tenants.
func (r *CampaignRepository) ListActive(ctx context.Context) ([]model.Campaign, error) {
	campaigns := []model.Campaign{}
	query := `
        SELECT id, tenant_id, created_by, name, account_id, sent_count, status
        FROM campaigns
        WHERE status = 'active' AND deleted_at IS NULL
        ORDER BY id
    `
	if err := r.DB.SelectContext(ctx, &campaigns, query); err != nil {
		return nil, err
	}
	return campaigns, nil
}

// ====================== Leads ======================

// SelectLeads returns active, unclaimed leads. Unless force is set only
// leads that are new or due are returned, capped at limit.
func (r *CampaignRepository) SelectLeads(ctx context.Context, campaignID int, force bool, limit int, now time.Time) ([]model.CampaignLead, error) {
	leads := []model.CampaignLead{}
	query := `
        SELECT id, campaign_id, lead_email, status, current_step, next_step_due, claimed_until
        FROM campaign_leads
        WHERE campaign_id = $1 AND status = 'active'
          AND (claimed_until IS NULL OR claimed_until < $2)
    `
	args := []interface{}{campaignID, now}
	if !force {
		query += ` AND (current_step = 0 OR next_step_due IS NULL OR next_step_due <= $2)
        ORDER BY id LIMIT $3`
		args = append(args, limit)
	} else {
		query += ` ORDER BY id`
	}

	if err := r.DB.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, err
	}
	return leads, nil
}

// ClaimLead marks a lead as owned by the calling run until the given time.
// step is the current step the caller selected the lead at. It reports false
// when another run holds an unexpired claim or has advanced the lead since.
func (r *CampaignRepository) ClaimLead(ctx context.Context, leadID, step int, now, until time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_leads SET claimed_until = $1
        WHERE id = $2 AND status = 'active' AND current_step = $3
          AND (claimed_until IS NULL OR claimed_until < $4)
    `, until, leadID, step, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) ReleaseLead(ctx context.Context, leadID int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaign_leads SET claimed_until = NULL WHERE id = $1`, leadID)
	return err
}

func (r *CampaignRepository) AdvanceLead(ctx context.Context, leadID, nextStep int, nextDue time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_leads SET current_step = $1, next_step_due = $2 WHERE id = $3
    `, nextStep, nextDue, leadID)
	return err
}

func (r *CampaignRepository) CompleteLead(ctx context.Context, leadID int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaign_leads SET status = 'completed' WHERE id = $1`, leadID)
	return err
}

// ====================== Logs ======================

func (r *CampaignRepository) InsertLog(ctx context.Context, campaignID int, leadID *int, logType, message string) error {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO campaign_logs (campaign_id, lead_id, type, message, created_at)
        VALUES ($1, $2, $3, $4, NOW())
    `, campaignID, leadID, logType, message)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
