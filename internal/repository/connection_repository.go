package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/postloom/postloom/internal/models"
)

type ConnectionRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Connection, error)
	ListActive(ctx context.Context, accountID int64, platforms []string) ([]*models.Connection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Connection, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.Connection, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, account_id, user_id, platform, external_id, display_name, access_token, refresh_token, token_expires_at, connected, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.Connection, error) {
	var c models.Connection
	err := row.Scan(&c.ID, &c.AccountID, &c.UserID, &c.Platform, &c.ExternalID, &c.DisplayName,
		&c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.Connected, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

// ListActive returns connected entries for the account restricted to the
// given platform set. Disconnected entries are filtered here so the
// dispatcher counts them as per-platform failures, not candidates.
func (r *connectionRepository) ListActive(ctx context.Context, accountID int64, platforms []string) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE account_id = $1 AND connected = true AND platform = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, accountID, pq.Array(platforms))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (r *connectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (r *connectionRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE connected = true AND token_expires_at BETWEEN $1 AND $2`
	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (r *connectionRepository) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE connections
		SET access_token = $1,
			refresh_token = $2,
			token_expires_at = $3,
			updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
