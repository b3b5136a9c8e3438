package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

type JobHistoryRepositoryInterface interface {
	Record(ctx context.Context, h *model.QueueJobHistory) error
}

type JobHistoryRepository struct {
	DB *sqlx.DB
}

// Record appends one attempt outcome for a queue job.
func (r *JobHistoryRepository) Record(ctx context.Context, h *model.QueueJobHistory) error {
	query := `
        INSERT INTO queue_job_history (job_id, queue, email_id, status, attempts, error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        RETURNING id, created_at
    `
	return r.DB.QueryRowContext(ctx, query, h.JobID, h.Queue, h.EmailID, h.Status, h.Attempts, h.Error).
		Scan(&h.ID, &h.CreatedAt)
}

var _ JobHistoryRepositoryInterface = (*JobHistoryRepository)(nil)
