package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/postloom/postloom/internal/ledger"
	"github.com/postloom/postloom/internal/transfer"
)

type LedgerHandler struct {
	s ledger.Service
}

func NewLedgerHandler(s ledger.Service) *LedgerHandler {
	return &LedgerHandler{s: s}
}

func (h *LedgerHandler) GetBalance(c *fiber.Ctx) error {
	userID := GetUserID(c)

	acc, err := h.s.Account(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to get balance",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"granted":   acc.CreditsGranted,
		"consumed":  acc.CreditsUsed,
		"remaining": acc.Remaining(),
	})
}

// CheckBalance answers an admission-control query without reserving funds.
func (h *LedgerHandler) CheckBalance(c *fiber.Ctx) error {
	userID := GetUserID(c)
	required := c.QueryFloat("required", 0)

	check := h.s.CheckBalance(c.Context(), userID, required)
	return c.Status(fiber.StatusOK).JSON(check)
}

func (h *LedgerHandler) ListUsage(c *fiber.Ctx) error {
	userID := GetUserID(c)
	limit := c.QueryInt("limit", 50)

	events, err := h.s.UsageHistory(c.Context(), userID, limit)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list usage",
		})
	}

	return c.Status(fiber.StatusOK).JSON(events)
}

// RecordUsage is the service-authenticated endpoint billable collaborators
// call after finishing work. A failure here means the charge did not happen
// and the collaborator must not drop it.
func (h *LedgerHandler) RecordUsage(c *fiber.Ctx) error {
	ownerID := int64(c.QueryInt("owner_id", 0))
	if ownerID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "owner_id is required",
		})
	}

	var record transfer.UsageRecord
	if err := c.BodyParser(&record); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse usage record",
		})
	}

	event, err := h.s.RecordUsage(c.Context(), ownerID, record.Service, ledger.Magnitude{
		InputUnits:   record.InputUnits,
		OutputUnits:  record.OutputUnits,
		DurationSecs: record.DurationSecs,
		WithAudio:    record.WithAudio,
	}, record.Metadata)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(event)
}

// ReconcileDubbing accepts the actual-consumption report for a dubbing job
// that was originally charged by estimate.
func (h *LedgerHandler) ReconcileDubbing(c *fiber.Ctx) error {
	ownerID := int64(c.QueryInt("owner_id", 0))
	if ownerID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "owner_id is required",
		})
	}

	var rec transfer.DubbingReconciliation
	if err := c.BodyParser(&rec); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse reconciliation",
		})
	}

	event, err := h.s.ReconcileDubbing(c.Context(), ownerID, rec.Estimated, rec.BalanceBefore, rec.BalanceAfter, rec.Metadata)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(event)
}
