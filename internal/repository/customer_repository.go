package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

// CustomerRepositoryInterface defines the CRM reads and writes used by the
// campaign runner.
type CustomerRepositoryInterface interface {
	FindStrict(ctx context.Context, email string, tenantID, ownerID int) (*model.Contact, error)
	CreateInteraction(ctx context.Context, in *model.Interaction) error
}

// CustomerRepository is the concrete implementation
type CustomerRepository struct {
	DB *sqlx.DB
}

// FindStrict returns the contact matching email within the tenant and owned
// by ownerID, or nil when there is none. The company name only comes from a
// company row the same owner holds.
func (r *CustomerRepository) FindStrict(ctx context.Context, email string, tenantID, ownerID int) (*model.Contact, error) {
	query := `
        SELECT cust.id, cust.tenant_id, cust.owner_id, cust.name, cust.email,
               COALESCE(comp.name, cust.company, '') AS company
        FROM customers cust
        LEFT JOIN companies comp ON cust.company_id = comp.id AND comp.owner_id = $1
        WHERE cust.email = $2 AND cust.tenant_id = $3 AND cust.owner_id = $1
        ORDER BY cust.id
        LIMIT 1
    `
	var c model.Contact
	if err := r.DB.GetContext(ctx, &c, query, ownerID, email, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

// CreateInteraction appends a CRM timeline entry.
func (r *CustomerRepository) CreateInteraction(ctx context.Context, in *model.Interaction) error {
	query := `
        INSERT INTO interactions (tenant_id, customer_id, type, content, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        RETURNING id, created_at
    `
	return r.DB.QueryRowContext(ctx, query, in.TenantID, in.CustomerID, in.Type, in.Content, in.CreatedBy).
		Scan(&in.ID, &in.CreatedAt)
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)
