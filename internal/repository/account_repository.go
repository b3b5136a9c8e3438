package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
)

type AccountRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.SmtpAccount, error)
	ListSyncable(ctx context.Context) ([]model.SmtpAccount, error)
	TouchLastSync(ctx context.Context, id int) error
}

type AccountRepository struct {
	DB *sqlx.DB
}

const accountColumns = `id, tenant_id, created_by, from_name, from_email, username, encrypted_password,
        smtp_host, smtp_port, imap_host, imap_port, imap_secure, imap_username, imap_encrypted_password,
        is_active, last_sync_at`

func (r *AccountRepository) GetByID(ctx context.Context, id int) (*model.SmtpAccount, error) {
	var a model.SmtpAccount
	err := r.DB.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM smtp_accounts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewAccountNotFound(id)
		}
		return nil, err
	}
	return &a, nil
}

// ListSyncable returns active accounts that have IMAP configured.
func (r *AccountRepository) ListSyncable(ctx context.Context) ([]model.SmtpAccount, error) {
	accounts := []model.SmtpAccount{}
	query := `SELECT ` + accountColumns + ` FROM smtp_accounts
        WHERE is_active = TRUE AND imap_host IS NOT NULL AND imap_host <> ''
        ORDER BY id`
	if err := r.DB.SelectContext(ctx, &accounts, query); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *AccountRepository) TouchLastSync(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE smtp_accounts SET last_sync_at = NOW() WHERE id = $1`, id)
	return err
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)
