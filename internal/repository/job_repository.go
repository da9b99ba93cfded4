package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/postloom/postloom/internal/models"
)

type JobRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	Create(ctx context.Context, tx *sql.Tx, job *models.Job) (int64, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Job, error)
	Due(ctx context.Context, now time.Time) ([]*models.Job, error)
	Claim(ctx context.Context, id int64) (bool, error)
	UpdateOutcome(ctx context.Context, id int64, status, errorDetail string, platforms []string, publishedAt *time.Time) error
	CheckByUserID(ctx context.Context, jobID, userID int64) (bool, error)
	RemovePending(ctx context.Context, id int64) (bool, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, account_id, user_id, body, hashtags, call_to_action, media_asset_id, platforms, scheduled_time, status, error_detail, recurrence, published_at, created_at, updated_at`

func (r *jobRepository) Create(ctx context.Context, tx *sql.Tx, job *models.Job) (int64, error) {
	query := `
		INSERT INTO jobs (account_id, user_id, body, hashtags, call_to_action, media_asset_id, platforms, scheduled_time, status, recurrence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	var id int64
	var err error

	mediaAssetID := sql.NullInt64{Int64: job.MediaAssetID, Valid: job.MediaAssetID != 0}
	args := []any{job.AccountID, job.UserID, job.Body, job.Hashtags, job.CallToAction, mediaAssetID, pq.Array(job.Platforms), job.ScheduledTime, job.Status, job.Recurrence}
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var job models.Job
	var errorDetail, recurrence sql.NullString
	var mediaAssetID sql.NullInt64
	var publishedAt sql.NullTime
	err := row.Scan(&job.ID, &job.AccountID, &job.UserID, &job.Body, &job.Hashtags, &job.CallToAction,
		&mediaAssetID, pq.Array(&job.Platforms), &job.ScheduledTime, &job.Status,
		&errorDetail, &recurrence, &publishedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.MediaAssetID = mediaAssetID.Int64
	job.ErrorDetail = errorDetail.String
	job.Recurrence = recurrence.String
	if publishedAt.Valid {
		job.PublishedAt = &publishedAt.Time
	}
	return &job, nil
}

func (r *jobRepository) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY scheduled_time DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Due returns pending jobs whose scheduled time has passed, oldest first.
func (r *jobRepository) Due(ctx context.Context, now time.Time) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 AND scheduled_time <= $2 ORDER BY scheduled_time ASC`
	rows, err := r.db.QueryContext(ctx, query, models.JobStatusPending, now)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim transitions a job from pending to publishing. The WHERE clause on
// status makes the claim conditional, so a job already picked up by another
// ticker (or by the queue worker) is simply not claimed again.
func (r *jobRepository) Claim(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, models.JobStatusPublishing, time.Now(), id, models.JobStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *jobRepository) UpdateOutcome(ctx context.Context, id int64, status, errorDetail string, platforms []string, publishedAt *time.Time) error {
	query := `
		UPDATE jobs
		SET status = $1,
			error_detail = $2,
			platforms = $3,
			published_at = $4,
			updated_at = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query, status, errorDetail, pq.Array(platforms), publishedAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) CheckByUserID(ctx context.Context, jobID, userID int64) (bool, error) {
	query := `SELECT 1 FROM jobs WHERE id = $1 AND user_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, jobID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// RemovePending deletes a job only while it is still pending. Once the
// dispatcher has claimed it, the job runs to a terminal state.
func (r *jobRepository) RemovePending(ctx context.Context, id int64) (bool, error) {
	query := `DELETE FROM jobs WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, models.JobStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
