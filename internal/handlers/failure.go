package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/advisor"
	"github.com/hydralab/warden/internal/control"
	"github.com/hydralab/warden/internal/gate"
)

type FailureHandler struct {
	advisor *advisor.Service
	gate    *gate.Gate
}

func NewFailureHandler(adv *advisor.Service, g *gate.Gate) *FailureHandler {
	return &FailureHandler{advisor: adv, gate: g}
}

// Record ingests one failure event. Delivery is at-least-once; redelivery
// under the same idempotency key returns 200 with the original match
// instead of double-counting.
func (h *FailureHandler) Record(c *fiber.Ctx) error {
	var req struct {
		IdempotencyKey string         `json:"idempotency_key"`
		Target         string         `json:"target"`
		ActionType     string         `json:"action_type"`
		ErrorText      string         `json:"error_text"`
		Details        map[string]any `json:"details"`
		OccurredAt     string         `json:"occurred_at"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	report := advisor.FailureReport{
		IdempotencyKey: req.IdempotencyKey,
		Target:         req.Target,
		ActionType:     req.ActionType,
		ErrorText:      req.ErrorText,
		Details:        req.Details,
	}
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Invalid occurred_at timestamp, want RFC3339",
			})
		}
		report.OccurredAt = t
	}

	match, err := h.advisor.RecordFailure(report)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
	status := fiber.StatusCreated
	if match.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(match)
}

// List returns recorded failure events.
func (h *FailureHandler) List(c *fiber.Ctx) error {
	events, err := h.advisor.Events(c.Query("target", ""), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list failure events",
		})
	}
	return c.JSON(fiber.Map{"events": events})
}

// Suggest returns the proposed remediation for an event, or none.
func (h *FailureHandler) Suggest(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid event ID",
		})
	}
	rem, err := h.advisor.SuggestRemediation(id)
	if err != nil {
		if errors.Is(err, advisor.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": "Failure event not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to suggest remediation",
		})
	}
	if rem == nil {
		return c.JSON(fiber.Map{"remediation": nil, "message": "No safe remediation known for this pattern"})
	}
	return c.JSON(fiber.Map{"remediation": rem})
}

// SubmitRemediation proposes the suggested remediation through the gate.
// The advisor has no privileged path: the proposal is subject to the same
// breaker and approval logic as any other actor, and patterns known to
// need a human are escalated to require approval regardless of mode.
func (h *FailureHandler) SubmitRemediation(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid event ID",
		})
	}
	rem, err := h.advisor.SuggestRemediation(id)
	if err != nil {
		if errors.Is(err, advisor.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": "Failure event not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to suggest remediation",
		})
	}
	if rem == nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   true,
			"message": "No safe remediation known for this pattern",
		})
	}

	out, err := h.gate.Propose(gate.Proposal{
		Source:     control.ActorAdvisor,
		ActionType: rem.ActionType,
		Target:     rem.Target,
		Params:     rem.Params,
		Escalate:   rem.NeedsHuman,
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
