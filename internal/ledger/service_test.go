package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/postloom/postloom/internal/models"
)

// In-memory ledger store. failGet / failAppend simulate an unreachable
// store for the fail-open / fail-closed policies.
type mockLedgerRepo struct {
	mu         sync.Mutex
	accounts   map[int64]*models.LedgerAccount
	events     []*models.UsageEvent
	nextID     int64
	failGet    bool
	failAppend bool
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{accounts: make(map[int64]*models.LedgerAccount)}
}

func (m *mockLedgerRepo) GetAccount(_ context.Context, ownerID int64) (*models.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("ledger store unreachable")
	}
	acc, ok := m.accounts[ownerID]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (m *mockLedgerRepo) CreateAccount(_ context.Context, ownerID int64, grant float64) (*models.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("ledger store unreachable")
	}
	if acc, ok := m.accounts[ownerID]; ok {
		cp := *acc
		return &cp, nil
	}
	m.nextID++
	acc := &models.LedgerAccount{ID: m.nextID, OwnerID: ownerID, CreditsGranted: grant, CreatedAt: time.Now()}
	m.accounts[ownerID] = acc
	cp := *acc
	return &cp, nil
}

func (m *mockLedgerRepo) AppendUsage(_ context.Context, event *models.UsageEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return 0, errors.New("ledger store unreachable")
	}
	m.nextID++
	cp := *event
	cp.ID = m.nextID
	m.events = append(m.events, &cp)
	if acc, ok := m.accounts[event.OwnerID]; ok {
		acc.CreditsUsed += event.CreditsCharged
	}
	return cp.ID, nil
}

func (m *mockLedgerRepo) ListUsage(_ context.Context, ownerID int64, limit int) ([]*models.UsageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UsageEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].OwnerID == ownerID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func TestCheckBalanceMatchesRemaining(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewService(repo, 100)

	check := svc.CheckBalance(context.Background(), 1, 40)
	if !check.Allowed {
		t.Fatalf("expected fresh account with grant 100 to allow a 40 credit operation")
	}
	if check.Remaining != 100 {
		t.Errorf("remaining = %v, want 100", check.Remaining)
	}

	check = svc.CheckBalance(context.Background(), 1, 100.01)
	if check.Allowed {
		t.Errorf("expected 100.01 to be denied against remaining 100")
	}
}

func TestCheckBalanceDeniedReportsNumbers(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewService(repo, 5)

	check := svc.CheckBalance(context.Background(), 7, 10)
	if check.Allowed {
		t.Fatalf("expected denial: remaining 5, required 10")
	}
	if check.Remaining != 5 || check.Required != 10 {
		t.Errorf("check = %+v, want remaining 5 required 10", check)
	}
}

func TestCheckBalanceFailsOpen(t *testing.T) {
	repo := newMockLedgerRepo()
	repo.failGet = true
	svc := NewService(repo, 100)

	check := svc.CheckBalance(context.Background(), 1, 1000)
	if !check.Allowed {
		t.Errorf("store failure during admission must allow the operation")
	}
}

func TestRecordUsageDecreasesRemaining(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewService(repo, 100)

	before := svc.CheckBalance(context.Background(), 1, 0).Remaining

	event, err := svc.RecordUsage(context.Background(), 1, models.ServiceImageGeneration, Magnitude{}, nil)
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if event.CreditsCharged != 1.0 {
		t.Errorf("charged = %v, want 1.0", event.CreditsCharged)
	}

	after := svc.CheckBalance(context.Background(), 1, 0).Remaining
	if got := before - after; got != event.CreditsCharged {
		t.Errorf("remaining decreased by %v, want %v", got, event.CreditsCharged)
	}
}

func TestRecordUsageFailsClosed(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewService(repo, 100)

	// The account exists, then the store goes away before the append.
	if _, err := svc.Account(context.Background(), 1); err != nil {
		t.Fatalf("Account: %v", err)
	}
	repo.failAppend = true

	_, err := svc.RecordUsage(context.Background(), 1, models.ServiceChat, Magnitude{InputUnits: 1000}, nil)
	if err == nil {
		t.Fatalf("store failure during RecordUsage must propagate to the caller")
	}
	if len(repo.events) != 0 {
		t.Errorf("no event should have been stored, got %d", len(repo.events))
	}
}

func TestRecordUsageRejectsUnknownService(t *testing.T) {
	svc := NewService(newMockLedgerRepo(), 100)
	if _, err := svc.RecordUsage(context.Background(), 1, "teleportation", Magnitude{}, nil); err == nil {
		t.Errorf("expected an error for an unknown service category")
	}
}

func TestReconcileDubbingAppendsLabeledActual(t *testing.T) {
	repo := newMockLedgerRepo()
	svc := NewService(repo, 100)

	// Estimated 2.0, snapshots say 3.5 was really consumed.
	event, err := svc.ReconcileDubbing(context.Background(), 1, 2.0, 50.0, 46.5, nil)
	if err != nil {
		t.Fatalf("ReconcileDubbing: %v", err)
	}
	if event.CreditsCharged != 1.5 {
		t.Errorf("correction = %v, want 1.5", event.CreditsCharged)
	}
	if event.Metadata["charge_kind"] != "actual" {
		t.Errorf("reconciliation event must be labeled actual, got %q", event.Metadata["charge_kind"])
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected exactly one appended event, got %d", len(repo.events))
	}
}
