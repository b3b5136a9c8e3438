// internal/model/queue_job.go
package model

import "time"

// Job history statuses
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// SendJob is the payload pushed onto the email queue.
type SendJob struct {
	EmailID       int `json:"emailId"`
	SMTPAccountID int `json:"smtpAccountId"`
}

type QueueJobHistory struct {
	ID        int       `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"job_id"`
	Queue     string    `db:"queue" json:"queue"`
	EmailID   *int      `db:"email_id" json:"email_id,omitempty"`
	Status    string    `db:"status" json:"status"`
	Attempts  int       `db:"attempts" json:"attempts"`
	Error     *string   `db:"error" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
