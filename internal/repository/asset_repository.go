package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postloom/postloom/internal/models"
)

type MediaAssetRepository interface {
	GetByID(ctx context.Context, id int64) (*models.MediaAsset, error)
	Create(ctx context.Context, tx *sql.Tx, asset *models.MediaAsset) (int64, error)
	SetFileURL(ctx context.Context, id int64, fileURL string) error
}

type mediaAssetRepository struct {
	db *sql.DB
}

func NewMediaAssetRepository(db *sql.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

func (r *mediaAssetRepository) Create(ctx context.Context, tx *sql.Tx, asset *models.MediaAsset) (int64, error) {
	query := `
		INSERT INTO media_assets (user_id, file_name, file_type, file_size, file_url, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	var err error

	args := []any{asset.UserID, asset.FileName, asset.FileType, asset.FileSize, asset.FileURL, asset.Data}
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

func (r *mediaAssetRepository) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	query := `SELECT id, user_id, file_name, file_type, file_size, file_url, data, created_at FROM media_assets WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var asset models.MediaAsset
	err := row.Scan(&asset.ID, &asset.UserID, &asset.FileName, &asset.FileType, &asset.FileSize, &asset.FileURL, &asset.Data, &asset.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &asset, nil
}

// SetFileURL records the durable URL after an embedded payload has been
// externalized so the upload happens at most once per asset.
func (r *mediaAssetRepository) SetFileURL(ctx context.Context, id int64, fileURL string) error {
	query := `UPDATE media_assets SET file_url = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, fileURL, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
