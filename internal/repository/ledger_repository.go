package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/postloom/postloom/internal/models"
)

type LedgerRepository interface {
	GetAccount(ctx context.Context, ownerID int64) (*models.LedgerAccount, error)
	CreateAccount(ctx context.Context, ownerID int64, grant float64) (*models.LedgerAccount, error)
	AppendUsage(ctx context.Context, event *models.UsageEvent) (int64, error)
	ListUsage(ctx context.Context, ownerID int64, limit int) ([]*models.UsageEvent, error)
}

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) GetAccount(ctx context.Context, ownerID int64) (*models.LedgerAccount, error) {
	query := `SELECT id, owner_id, credits_granted, credits_used, created_at, updated_at FROM ledger_accounts WHERE owner_id = $1`
	row := r.db.QueryRowContext(ctx, query, ownerID)

	var acc models.LedgerAccount
	err := row.Scan(&acc.ID, &acc.OwnerID, &acc.CreditsGranted, &acc.CreditsUsed, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &acc, nil
}

func (r *ledgerRepository) CreateAccount(ctx context.Context, ownerID int64, grant float64) (*models.LedgerAccount, error) {
	query := `
		INSERT INTO ledger_accounts (owner_id, credits_granted, credits_used)
		VALUES ($1, $2, 0)
		ON CONFLICT (owner_id) DO UPDATE SET updated_at = ledger_accounts.updated_at
		RETURNING id, owner_id, credits_granted, credits_used, created_at, updated_at
	`
	row := r.db.QueryRowContext(ctx, query, ownerID, grant)

	var acc models.LedgerAccount
	err := row.Scan(&acc.ID, &acc.OwnerID, &acc.CreditsGranted, &acc.CreditsUsed, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &acc, nil
}

// AppendUsage inserts the event and bumps the derived balance in one
// transaction. If either write fails the whole charge fails, so the caller
// always knows whether it landed.
func (r *ledgerRepository) AppendUsage(ctx context.Context, event *models.UsageEvent) (int64, error) {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO usage_events (owner_id, service, input_units, output_units, duration_secs, with_audio, credits_charged, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err = tx.QueryRowContext(ctx, query, event.OwnerID, event.Service, event.InputUnits, event.OutputUnits,
		event.DurationSecs, event.WithAudio, event.CreditsCharged, metadata).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE ledger_accounts SET credits_used = credits_used + $1, updated_at = $2 WHERE owner_id = $3`,
		event.CreditsCharged, time.Now(), event.OwnerID)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *ledgerRepository) ListUsage(ctx context.Context, ownerID int64, limit int) ([]*models.UsageEvent, error) {
	query := `
		SELECT id, owner_id, service, input_units, output_units, duration_secs, with_audio, credits_charged, metadata, created_at
		FROM usage_events WHERE owner_id = $1 ORDER BY id DESC LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var events []*models.UsageEvent
	for rows.Next() {
		var e models.UsageEvent
		var metadata []byte
		err := rows.Scan(&e.ID, &e.OwnerID, &e.Service, &e.InputUnits, &e.OutputUnits, &e.DurationSecs,
			&e.WithAudio, &e.CreditsCharged, &metadata, &e.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				slog.Info(err.Error())
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
