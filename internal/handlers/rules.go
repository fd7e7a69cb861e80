package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/trigger"
)

type RuleHandler struct {
	engine *trigger.Engine
}

func NewRuleHandler(engine *trigger.Engine) *RuleHandler {
	return &RuleHandler{engine: engine}
}

// List returns all trigger rules.
func (h *RuleHandler) List(c *fiber.Ctx) error {
	rules, err := h.engine.Rules()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list rules",
		})
	}
	return c.JSON(fiber.Map{"rules": rules})
}

// Enable turns a rule on.
func (h *RuleHandler) Enable(c *fiber.Ctx) error {
	return h.toggle(c, true)
}

// Disable turns a rule off.
func (h *RuleHandler) Disable(c *fiber.Ctx) error {
	return h.toggle(c, false)
}

func (h *RuleHandler) toggle(c *fiber.Ctx, enabled bool) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid rule ID",
		})
	}
	rule, err := h.engine.SetEnabled(id, enabled)
	if err != nil {
		if errors.Is(err, trigger.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": "Rule not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to toggle rule",
		})
	}
	return c.JSON(rule)
}

// Evaluate is the dry run: it samples system state and reports which rules
// would fire, without enqueuing anything.
func (h *RuleHandler) Evaluate(c *fiber.Ctx) error {
	state := h.engine.Perceive()
	results, err := h.engine.Evaluate(state)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to evaluate rules",
		})
	}
	return c.JSON(fiber.Map{"state": state, "results": results})
}
