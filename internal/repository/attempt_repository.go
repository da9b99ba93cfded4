package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postloom/postloom/internal/models"
)

type PublishAttemptRepository interface {
	Create(ctx context.Context, attempt *models.PublishAttempt) (int64, error)
	ListByJobID(ctx context.Context, jobID int64) ([]*models.PublishAttempt, error)
}

type publishAttemptRepository struct {
	db *sql.DB
}

func NewPublishAttemptRepository(db *sql.DB) PublishAttemptRepository {
	return &publishAttemptRepository{db: db}
}

func (r *publishAttemptRepository) Create(ctx context.Context, attempt *models.PublishAttempt) (int64, error) {
	query := `
		INSERT INTO publish_attempts (job_id, user_id, platform, external_post_id, error_message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, attempt.JobID, attempt.UserID, attempt.Platform, attempt.ExternalPostID, attempt.ErrorMessage).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *publishAttemptRepository) ListByJobID(ctx context.Context, jobID int64) ([]*models.PublishAttempt, error) {
	query := `SELECT id, job_id, user_id, platform, external_post_id, error_message, created_at FROM publish_attempts WHERE job_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.PublishAttempt
	for rows.Next() {
		var a models.PublishAttempt
		err := rows.Scan(&a.ID, &a.JobID, &a.UserID, &a.Platform, &a.ExternalPostID, &a.ErrorMessage, &a.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
