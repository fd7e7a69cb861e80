package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hydralab/warden/internal/breaker"
	"github.com/hydralab/warden/internal/ledger"
	"github.com/hydralab/warden/internal/models"
)

type BreakerHandler struct {
	registry *breaker.Registry
	ledger   *ledger.Service
}

func NewBreakerHandler(registry *breaker.Registry, led *ledger.Service) *BreakerHandler {
	return &BreakerHandler{registry: registry, ledger: led}
}

// List returns the state of every tracked breaker.
func (h *BreakerHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"breakers": h.registry.Snapshot()})
}

// Reset force-closes a breaker after an operator has fixed the underlying
// fault. The override itself is written to the ledger.
func (h *BreakerHandler) Reset(c *fiber.Ctx) error {
	var req struct {
		Target     string `json:"target"`
		ActionType string `json:"action_type"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if req.Target == "" || req.ActionType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "target and action_type are required",
		})
	}
	actor, _ := c.Locals("username").(string)
	if actor == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Breaker reset requires an authenticated actor",
		})
	}

	// Audit before the override takes effect.
	if _, err := h.ledger.Append(&models.ActivityRecord{
		Source:         actor,
		ActionType:     "breaker_reset",
		Target:         req.Target,
		Status:         models.StatusExecuted,
		Result:         models.ResultOK,
		DecisionReason: "manual breaker override for " + req.ActionType,
	}); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Breaker reset could not be recorded",
		})
	}

	h.registry.Reset(req.Target, req.ActionType)
	return c.JSON(fiber.Map{"message": "Breaker reset", "target": req.Target, "action_type": req.ActionType})
}
