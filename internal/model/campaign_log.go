// internal/model/campaign_log.go
package model

import "time"

// Log event types written to campaign_logs.
const (
	LogEmailSent      = "EMAIL_SENT"
	LogDelayStarted   = "DELAY_STARTED"
	LogDelayProcessed = "DELAY_PROCESSED"
	LogCompleted      = "COMPLETED"
	LogError          = "ERROR"
)

type CampaignLog struct {
	ID         int       `db:"id" json:"id"`
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	LeadID     *int      `db:"lead_id" json:"lead_id,omitempty"`
	Type       string    `db:"type" json:"type"`
	Message    string    `db:"message" json:"message"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
