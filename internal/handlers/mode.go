package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/hydralab/warden/internal/control"
	"github.com/hydralab/warden/internal/notify"
)

type ModeHandler struct {
	control  *control.Service
	notifier *notify.Notifier
}

func NewModeHandler(ctrl *control.Service, notifier *notify.Notifier) *ModeHandler {
	return &ModeHandler{control: ctrl, notifier: notifier}
}

// GetMode returns the current operating mode.
func (h *ModeHandler) GetMode(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"mode":    h.control.Mode(),
		"version": h.control.Version(),
	})
}

// SetMode transitions the operating mode. The acting identity comes from
// the JWT, so every transition is attributable.
func (h *ModeHandler) SetMode(c *fiber.Ctx) error {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	actor, _ := c.Locals("username").(string)
	if actor == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Mode changes require an authenticated actor",
		})
	}

	prev, err := h.control.SetMode(req.Mode, actor)
	if err != nil {
		switch {
		case errors.Is(err, control.ErrInvalidMode):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		case errors.Is(err, control.ErrHumanRequired):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		default:
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   true,
				"message": "Mode transition could not be recorded",
			})
		}
	}

	if h.notifier != nil && prev != req.Mode {
		h.notifier.ModeChanged(prev, req.Mode, actor)
	}
	return c.JSON(fiber.Map{
		"previous_mode": prev,
		"mode":          h.control.Mode(),
	})
}

// EmergencyStop forces safe mode. Always succeeds.
func (h *ModeHandler) EmergencyStop(c *fiber.Ctx) error {
	actor, _ := c.Locals("username").(string)
	if actor == "" {
		actor = control.ActorSystem
	}
	prev := h.control.EmergencyStop(actor)
	if h.notifier != nil && prev != control.ModeSafe {
		h.notifier.ModeChanged(prev, control.ModeSafe, actor)
	}
	return c.JSON(fiber.Map{
		"message":       "Emergency stop engaged",
		"previous_mode": prev,
		"mode":          control.ModeSafe,
	})
}

// History returns recent mode transitions, newest first.
func (h *ModeHandler) History(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	transitions, err := h.control.History(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list mode history",
		})
	}
	return c.JSON(fiber.Map{"transitions": transitions})
}
