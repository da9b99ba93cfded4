package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/postloom/postloom/internal/repository"
)

// ConnectionHandler exposes read-only views of linked platform accounts.
// Connections are owned by the integrations subsystem; this API never
// mutates them.
type ConnectionHandler struct {
	cr repository.ConnectionRepository
}

func NewConnectionHandler(cr repository.ConnectionRepository) *ConnectionHandler {
	return &ConnectionHandler{cr: cr}
}

func (h *ConnectionHandler) ListConnections(c *fiber.Ctx) error {
	userID := GetUserID(c)

	conns, err := h.cr.ListByUserID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list connections",
		})
	}

	return c.Status(fiber.StatusOK).JSON(conns)
}
