// internal/model/customer.go
package model

import "time"

// Contact is a CRM customer row joined with its company name.
type Contact struct {
	ID       int    `db:"id" json:"id"`
	TenantID int    `db:"tenant_id" json:"tenant_id"`
	OwnerID  int    `db:"owner_id" json:"owner_id"`
	Name     string `db:"name" json:"name"`
	Email    string `db:"email" json:"email"`
	Company  string `db:"company" json:"company"`
}

const InteractionEmailOutbound = "email_outbound"

type Interaction struct {
	ID         int       `db:"id" json:"id"`
	TenantID   int       `db:"tenant_id" json:"tenant_id"`
	CustomerID int       `db:"customer_id" json:"customer_id"`
	Type       string    `db:"type" json:"type"`
	Content    string    `db:"content" json:"content"`
	CreatedBy  int       `db:"created_by" json:"created_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
