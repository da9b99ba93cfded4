package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/internal/transfer"
)

// ErrInsufficientCredits is returned by boundary callers that translate a
// denied admission check into an error.
var ErrInsufficientCredits = errors.New("insufficient credits")

type Service interface {
	CheckBalance(ctx context.Context, ownerID int64, required float64) *transfer.BalanceCheck
	RecordUsage(ctx context.Context, ownerID int64, service string, m Magnitude, metadata map[string]string) (*models.UsageEvent, error)
	ReconcileDubbing(ctx context.Context, ownerID int64, estimated, balanceBefore, balanceAfter float64, metadata map[string]string) (*models.UsageEvent, error)
	Account(ctx context.Context, ownerID int64) (*models.LedgerAccount, error)
	UsageHistory(ctx context.Context, ownerID int64, limit int) ([]*models.UsageEvent, error)
}

type service struct {
	lr           repository.LedgerRepository
	defaultGrant float64
}

func NewService(lr repository.LedgerRepository, defaultGrant float64) Service {
	return &service{lr: lr, defaultGrant: defaultGrant}
}

// Account returns the owner's ledger account, creating it with the default
// starting grant on first touch.
func (s *service) Account(ctx context.Context, ownerID int64) (*models.LedgerAccount, error) {
	acc, err := s.lr.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		return acc, nil
	}
	return s.lr.CreateAccount(ctx, ownerID, s.defaultGrant)
}

// CheckBalance is read-only admission control. It does not reserve credits:
// two near-simultaneous checks for the same owner can both pass. When the
// ledger store is unreachable the check fails open and allows the operation;
// availability of content generation is preferred over strict billing.
func (s *service) CheckBalance(ctx context.Context, ownerID int64, required float64) *transfer.BalanceCheck {
	acc, err := s.Account(ctx, ownerID)
	if err != nil {
		slog.Error("balance check failing open", "owner_id", ownerID, "error", err.Error())
		return &transfer.BalanceCheck{Allowed: true, Required: required}
	}

	remaining := acc.Remaining()
	return &transfer.BalanceCheck{
		Allowed:   remaining >= required,
		Remaining: remaining,
		Required:  required,
	}
}

// RecordUsage computes the charge and appends it. Unlike CheckBalance this
// fails closed: a store error propagates so the caller knows the charge did
// not happen and revenue is not silently lost.
func (s *service) RecordUsage(ctx context.Context, ownerID int64, svc string, m Magnitude, metadata map[string]string) (*models.UsageEvent, error) {
	charge := Cost(svc, m)
	if charge == 0 {
		return nil, fmt.Errorf("unknown service category %q", svc)
	}

	// Make sure the account row exists before the balance update.
	if _, err := s.Account(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("usage not recorded: %w", err)
	}

	event := &models.UsageEvent{
		OwnerID:        ownerID,
		Service:        svc,
		InputUnits:     m.InputUnits,
		OutputUnits:    m.OutputUnits,
		DurationSecs:   m.DurationSecs,
		WithAudio:      m.WithAudio,
		CreditsCharged: charge,
		Metadata:       metadata,
	}

	id, err := s.lr.AppendUsage(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("usage not recorded: %w", err)
	}
	event.ID = id
	return event, nil
}

// ReconcileDubbing appends the second, explicitly labeled "actual" event for
// a dubbing job whose original charge was an estimate. The correction is the
// difference between what the provider's before/after balance snapshots say
// was really consumed and what was estimated. The estimate event itself is
// never rewritten.
func (s *service) ReconcileDubbing(ctx context.Context, ownerID int64, estimated, balanceBefore, balanceAfter float64, metadata map[string]string) (*models.UsageEvent, error) {
	actual := round2(balanceBefore - balanceAfter)
	delta := round2(actual - estimated)

	if _, err := s.Account(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("usage not recorded: %w", err)
	}

	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["charge_kind"] = "actual"
	metadata["estimated"] = fmt.Sprintf("%.2f", estimated)

	event := &models.UsageEvent{
		OwnerID:        ownerID,
		Service:        models.ServiceVideoDubbing,
		CreditsCharged: delta,
		Metadata:       metadata,
	}

	id, err := s.lr.AppendUsage(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("usage not recorded: %w", err)
	}
	event.ID = id
	return event, nil
}

func (s *service) UsageHistory(ctx context.Context, ownerID int64, limit int) ([]*models.UsageEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.lr.ListUsage(ctx, ownerID, limit)
}
