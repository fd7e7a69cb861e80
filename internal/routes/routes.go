package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/hydralab/warden/internal/config"
	"github.com/hydralab/warden/internal/handlers"
	"github.com/hydralab/warden/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	systemHandler *handlers.SystemHandler,
	modeHandler *handlers.ModeHandler,
	activityHandler *handlers.ActivityHandler,
	approvalHandler *handlers.ApprovalHandler,
	breakerHandler *handlers.BreakerHandler,
	ruleHandler *handlers.RuleHandler,
	workHandler *handlers.WorkHandler,
	failureHandler *handlers.FailureHandler,
	streamHandler *handlers.StreamHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Webhook ingest (token auth, not JWT) ────────────────────────────
	app.Post("/api/webhooks/alertmanager",
		middleware.WebhookProtected(cfg.WebhookToken), failureHandler.Record)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	// Auth (protected)
	api.Get("/auth/me", authHandler.Me)
	api.Put("/auth/password", authHandler.ChangePassword)

	// Dashboard
	api.Get("/overview", systemHandler.Overview)

	// Control mode
	api.Get("/mode", modeHandler.GetMode)
	api.Put("/mode", modeHandler.SetMode)
	api.Post("/mode/emergency-stop", modeHandler.EmergencyStop)
	api.Get("/mode/history", modeHandler.History)

	// Activity ledger
	api.Post("/activities", activityHandler.Propose)
	api.Get("/activities", activityHandler.List)
	api.Get("/activities/:id", activityHandler.Get)
	api.Put("/activities/:id/result", activityHandler.UpdateResult)
	api.Post("/activities/check", activityHandler.CheckAction)
	api.Get("/constraints", activityHandler.Constraints)

	// Approvals
	api.Get("/approvals", approvalHandler.ListPending)
	api.Post("/approvals/:id/approve", approvalHandler.Approve)
	api.Post("/approvals/:id/reject", approvalHandler.Reject)

	// Circuit breakers
	api.Get("/breakers", breakerHandler.List)
	api.Post("/breakers/reset", breakerHandler.Reset)

	// Trigger rules
	api.Get("/rules", ruleHandler.List)
	api.Post("/rules/:id/enable", ruleHandler.Enable)
	api.Post("/rules/:id/disable", ruleHandler.Disable)
	api.Post("/rules/evaluate", ruleHandler.Evaluate)

	// Work queue
	api.Post("/work", workHandler.Enqueue)
	api.Get("/work", workHandler.List)
	api.Get("/work/:id", workHandler.Get)
	api.Delete("/work/:id", workHandler.Cancel)

	// Failure events and remediation
	api.Get("/failures", failureHandler.List)
	api.Get("/failures/:id/remediation", failureHandler.Suggest)
	api.Post("/failures/:id/remediate", failureHandler.SubmitRemediation)

	// Activity stream (WebSocket)
	api.Use("/stream", streamHandler.UpgradeCheck())
	api.Get("/stream", streamHandler.HandleStream())
}
