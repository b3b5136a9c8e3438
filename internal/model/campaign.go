// internal/model/campaign.go
package model

import "time"

// Step types
const (
	StepTypeEmail = "email"
	StepTypeDelay = "delay"
)

// Campaign statuses picked up by the scheduler
const CampaignStatusActive = "active"

// Lead statuses
const (
	LeadStatusActive    = "active"
	LeadStatusCompleted = "completed"
)

type Campaign struct {
	ID        int    `db:"id" json:"id"`
	TenantID  int    `db:"tenant_id" json:"tenant_id"`
	CreatedBy int    `db:"created_by" json:"created_by"`
	Name      string `db:"name" json:"name"`
	AccountID *int   `db:"account_id" json:"account_id,omitempty"`
	SentCount int    `db:"sent_count" json:"sent_count"`
	Status    string `db:"status" json:"status"`

	// Account is joined in when the campaign is loaded for a run.
	Account *SmtpAccount `db:"-" json:"-"`
}

// OwnerID is the user whose CRM data the campaign may personalize with.
// Campaigns created before ownership was tracked fall back to user 1.
func (c *Campaign) OwnerID() int {
	if c.CreatedBy == 0 {
		return 1
	}
	return c.CreatedBy
}

type CampaignStep struct {
	ID           int    `db:"id" json:"id"`
	CampaignID   int    `db:"campaign_id" json:"campaign_id"`
	StepOrder    int    `db:"step_order" json:"step_order"`
	Type         string `db:"type" json:"type"` // email, delay
	Subject      string `db:"subject" json:"subject"`
	HTMLBody     string `db:"html_body" json:"html_body"`
	DelaySeconds *int   `db:"delay_seconds" json:"delay_seconds,omitempty"`
}

type CampaignLead struct {
	ID           int        `db:"id" json:"id"`
	CampaignID   int        `db:"campaign_id" json:"campaign_id"`
	LeadEmail    string     `db:"lead_email" json:"lead_email"`
	Status       string     `db:"status" json:"status"` // active, completed
	CurrentStep  int        `db:"current_step" json:"current_step"`
	NextStepDue  *time.Time `db:"next_step_due" json:"next_step_due,omitempty"`
	ClaimedUntil *time.Time `db:"claimed_until" json:"-"`
}
