package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/queue"
)

type WorkHandler struct {
	queue *queue.Service
}

func NewWorkHandler(q *queue.Service) *WorkHandler {
	return &WorkHandler{queue: q}
}

// Enqueue creates a new work item.
func (h *WorkHandler) Enqueue(c *fiber.Ctx) error {
	var req struct {
		Kind           string         `json:"kind"`
		ActionType     string         `json:"action_type"`
		Target         string         `json:"target"`
		Priority       string         `json:"priority"`
		Payload        map[string]any `json:"payload"`
		ScheduledAfter string         `json:"scheduled_after"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	enq := queue.EnqueueRequest{
		Kind:       req.Kind,
		ActionType: req.ActionType,
		Target:     req.Target,
		Priority:   req.Priority,
		Payload:    req.Payload,
	}
	if source, _ := c.Locals("username").(string); source != "" {
		enq.Source = source
	}
	if req.ScheduledAfter != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledAfter)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Invalid scheduled_after timestamp, want RFC3339",
			})
		}
		enq.ScheduledAfter = &t
	}

	item, err := h.queue.Enqueue(enq)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

// List returns work items, optionally filtered by status.
func (h *WorkHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	items, err := h.queue.List(c.Query("status", ""), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list work items",
		})
	}
	return c.JSON(fiber.Map{"items": items})
}

// Get returns one work item.
func (h *WorkHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid work item ID",
		})
	}
	item, err := h.queue.Get(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Work item not found",
		})
	}
	return c.JSON(item)
}

// Cancel cancels a queued item. Running items are not preempted.
func (h *WorkHandler) Cancel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid work item ID",
		})
	}
	item, err := h.queue.Cancel(id)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   true,
				"message": "Work item not found",
			})
		case errors.Is(err, queue.ErrNotCancellable):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   true,
				"message": "Work item already left the queue",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to cancel work item",
			})
		}
	}
	return c.JSON(item)
}
