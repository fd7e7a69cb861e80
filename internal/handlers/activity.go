package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hydralab/warden/internal/gate"
	"github.com/hydralab/warden/internal/ledger"
)

type ActivityHandler struct {
	ledger *ledger.Service
	gate   *gate.Gate
}

func NewActivityHandler(led *ledger.Service, g *gate.Gate) *ActivityHandler {
	return &ActivityHandler{ledger: led, gate: g}
}

// Propose submits a candidate action through the gate. The response carries
// the verdict and the ledger record; a denied action is a normal negative
// result, not an HTTP error.
func (h *ActivityHandler) Propose(c *fiber.Ctx) error {
	var req struct {
		Source     string         `json:"source"`
		ActionType string         `json:"action_type"`
		Target     string         `json:"target"`
		Params     map[string]any `json:"params"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if req.ActionType == "" || req.Target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "action_type and target are required",
		})
	}
	if req.Source == "" {
		req.Source, _ = c.Locals("username").(string)
	}

	out, err := h.gate.Propose(gate.Proposal{
		Source:     req.Source,
		ActionType: req.ActionType,
		Target:     req.Target,
		Params:     req.Params,
	})
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Decision could not be durably recorded",
			"verdict": out.Verdict,
		})
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// List returns paginated ledger records with filters.
func (h *ActivityHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	filter := ledger.QueryFilter{
		Source:     c.Query("source", ""),
		ActionType: c.Query("action_type", ""),
		Target:     c.Query("target", ""),
		Status:     c.Query("status", ""),
		Limit:      limit,
		Offset:     offset,
	}
	if since := c.Query("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Invalid since timestamp, want RFC3339",
			})
		}
		filter.Since = &t
	}
	if until := c.Query("until", ""); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Invalid until timestamp, want RFC3339",
			})
		}
		filter.Until = &t
	}

	recs, total, err := h.ledger.Query(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to query activities",
		})
	}
	return c.JSON(fiber.Map{
		"activities": recs,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

// Get returns one ledger record.
func (h *ActivityHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid activity ID",
		})
	}
	rec, err := h.ledger.Get(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Activity not found",
		})
	}
	return c.JSON(rec)
}

// UpdateResult records the outcome the caller reports after executing an
// allowed or approved action.
func (h *ActivityHandler) UpdateResult(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid activity ID",
		})
	}

	var req struct {
		Result string `json:"result"`
		Detail string `json:"detail"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	rec, err := h.ledger.UpdateResult(id, req.Result, req.Detail)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": "Activity not found",
			})
		case errors.Is(err, ledger.ErrInvalidStatus):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to update result",
			})
		}
	}
	return c.JSON(rec)
}

// CheckAction is the dry-run policy check: it evaluates without appending
// to the ledger.
func (h *ActivityHandler) CheckAction(c *fiber.Ctx) error {
	var req struct {
		ActionType string `json:"action_type"`
		Target     string `json:"target"`
		Source     string `json:"source"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if req.ActionType == "" || req.Target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "action_type and target are required",
		})
	}
	if req.Source == "" {
		req.Source, _ = c.Locals("username").(string)
	}
	verdict := h.gate.Engine().CheckAction(req.ActionType, req.Target, req.Source)
	return c.JSON(verdict)
}

// Constraints returns the loaded constraint set.
func (h *ActivityHandler) Constraints(c *fiber.Ctx) error {
	return c.JSON(h.gate.Engine().Constraints())
}
