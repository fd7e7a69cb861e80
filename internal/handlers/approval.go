package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/hydralab/warden/internal/gate"
	"github.com/hydralab/warden/internal/ledger"
)

type ApprovalHandler struct {
	gate *gate.Gate
}

func NewApprovalHandler(g *gate.Gate) *ApprovalHandler {
	return &ApprovalHandler{gate: g}
}

// ListPending returns every action awaiting approval, so nothing waits
// invisibly.
func (h *ApprovalHandler) ListPending(c *fiber.Ctx) error {
	recs, err := h.gate.Pending()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list pending approvals",
		})
	}
	return c.JSON(fiber.Map{"pending": recs, "count": len(recs)})
}

// Approve resolves a pending action. Approving an already-resolved item is
// a 404, never a silent second success.
func (h *ApprovalHandler) Approve(c *fiber.Ctx) error {
	return h.resolve(c, true)
}

// Reject resolves a pending action terminally; it will never execute.
func (h *ApprovalHandler) Reject(c *fiber.Ctx) error {
	return h.resolve(c, false)
}

func (h *ApprovalHandler) resolve(c *fiber.Ctx, approve bool) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid activity ID",
		})
	}
	actor, _ := c.Locals("username").(string)
	if actor == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Approval requires an authenticated actor",
		})
	}

	var rec any
	if approve {
		rec, err = h.gate.Approve(id, actor)
	} else {
		rec, err = h.gate.Reject(id, actor)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrNotPending) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to resolve approval",
		})
	}
	return c.JSON(rec)
}
