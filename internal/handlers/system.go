package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hydralab/warden/internal/breaker"
	"github.com/hydralab/warden/internal/control"
	"github.com/hydralab/warden/internal/ledger"
	"github.com/hydralab/warden/internal/queue"
	"gorm.io/gorm"
)

var startTime = time.Now()

type SystemHandler struct {
	db       *gorm.DB
	control  *control.Service
	ledger   *ledger.Service
	breakers *breaker.Registry
	queue    *queue.Service
}

func NewSystemHandler(db *gorm.DB, ctrl *control.Service, led *ledger.Service, breakers *breaker.Registry, q *queue.Service) *SystemHandler {
	return &SystemHandler{
		db:       db,
		control:  ctrl,
		ledger:   led,
		breakers: breakers,
		queue:    q,
	}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	statusCode := fiber.StatusOK

	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "unreachable: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	}

	// The core fails closed while the ledger is down, so surface that
	// as degraded even when the process itself is fine.
	overall := "ok"
	if statusCode != fiber.StatusOK || !h.ledger.Available() {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":           overall,
		"service":          "warden",
		"version":          Version,
		"time":             time.Now().UTC().Format(time.RFC3339),
		"uptime":           time.Since(startTime).String(),
		"db":               dbStatus,
		"ledger_available": h.ledger.Available(),
	})
}

// Overview is the dashboard's single status call: current mode, pending
// approvals, open breakers and queue depth in one round trip.
func (h *SystemHandler) Overview(c *fiber.Ctx) error {
	pending, err := h.ledger.Pending()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to load pending approvals",
		})
	}

	return c.JSON(fiber.Map{
		"mode":             h.control.Mode(),
		"ledger_available": h.ledger.Available(),
		"pending_approvals": fiber.Map{
			"count": len(pending),
		},
		"breakers": fiber.Map{
			"open": h.breakers.OpenCount(),
		},
		"queue": fiber.Map{
			"depth": h.queue.Depth(),
		},
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
	})
}
