package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hydralab/warden/internal/advisor"
	"github.com/hydralab/warden/internal/breaker"
	"github.com/hydralab/warden/internal/config"
	"github.com/hydralab/warden/internal/control"
	"github.com/hydralab/warden/internal/database"
	"github.com/hydralab/warden/internal/gate"
	"github.com/hydralab/warden/internal/handlers"
	"github.com/hydralab/warden/internal/ledger"
	"github.com/hydralab/warden/internal/metrics"
	"github.com/hydralab/warden/internal/models"
	"github.com/hydralab/warden/internal/notify"
	"github.com/hydralab/warden/internal/policy"
	"github.com/hydralab/warden/internal/queue"
	"github.com/hydralab/warden/internal/routes"
	"github.com/hydralab/warden/internal/runner"
	"github.com/hydralab/warden/internal/trigger"
)

// governanceSource feeds the trigger engine the core's own vitals, so
// rules can react to governance state (for example, escalating to safe
// mode when too many breakers are open).
type governanceSource struct {
	breakers *breaker.Registry
	queue    *queue.Service
	ledger   *ledger.Service
}

func (s *governanceSource) Name() string { return "governance" }

func (s *governanceSource) Sample() (map[string]float64, error) {
	pending, err := s.ledger.Pending()
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		"governance.breakers_open":     float64(s.breakers.OpenCount()),
		"governance.queue_depth":       float64(s.queue.Depth()),
		"governance.pending_approvals": float64(len(pending)),
	}, nil
}

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Warden", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	polCfg, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		slog.Error("Policy file load failed", "path", cfg.PolicyFile, "error", err)
		os.Exit(1)
	}

	// ─── Database ────────────────────────────────────────────────────────
	if err := database.Connect(cfg); err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	db := database.DB

	// ─── Metrics ────────────────────────────────────────────────────────
	metricsCollector := metrics.NewCollector()

	// ─── Notifications ──────────────────────────────────────────────────
	notifier := notify.NewNotifier(cfg.NotifyWebhookURL)
	if !notifier.Enabled() {
		slog.Warn("NOTIFY_WEBHOOK_URL not set, notifications disabled")
	}

	// ─── Activity ledger ────────────────────────────────────────────────
	ledgerSvc := ledger.NewService(database.NewActivityStore(db))
	ledgerSvc.OnError(func(err error) {
		metricsCollector.RecordLedgerFailure()
	})
	ledgerSvc.StartProbe(time.Duration(cfg.LedgerProbeSeconds) * time.Second)

	// ─── Control mode ───────────────────────────────────────────────────
	controlSvc := control.NewService(ledgerSvc, database.NewModeStore(db))
	if err := controlSvc.Restore(); err != nil {
		slog.Warn("Mode restore failed, starting in full_auto", "error", err)
	}
	slog.Info("Control mode restored", "mode", controlSvc.Mode())

	// ─── Circuit breakers ───────────────────────────────────────────────
	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: polCfg.Breaker.FailureThresholdOrDefault(),
		Window:           polCfg.Breaker.WindowOrDefault(),
		Cooldown:         polCfg.Breaker.CooldownOrDefault(),
	}, database.NewBreakerStore(db))
	if err := registry.Restore(); err != nil {
		slog.Warn("Breaker restore failed, starting with all breakers closed", "error", err)
	}
	registry.OnTrip(func(target, actionType string) {
		metricsCollector.RecordBreakerTrip()
		notifier.BreakerTripped(target, actionType)
	})
	registry.OnReset(func(target, actionType string) {
		notifier.BreakerReset(target, actionType)
	})

	// ─── Policy engine and gate ─────────────────────────────────────────
	engine := policy.NewEngine(polCfg, controlSvc, registry, ledgerSvc)
	actionGate := gate.New(engine, ledgerSvc)
	actionGate.OnPending(func(rec models.ActivityRecord) {
		notifier.ApprovalPending(rec.ID, rec.ActionType, rec.Target, rec.Source)
	})

	// ─── Work queue and worker pool ─────────────────────────────────────
	queueSvc := queue.NewService(database.NewQueueStore(db))
	pool := queue.NewPool(queue.PoolConfig{
		Workers:      polCfg.Workers.CountOrDefault(),
		PollInterval: polCfg.Workers.PollIntervalOrDefault(),
	}, queueSvc, actionGate, ledgerSvc, registry)
	pool.OnFinished(func(success bool) {
		if success {
			metricsCollector.RecordWorkCompleted()
		} else {
			metricsCollector.RecordWorkFailed()
		}
	})
	if cfg.RunnerURL != "" {
		pool.RegisterDefault(runner.New(cfg.RunnerURL, cfg.RunnerToken))
	} else {
		slog.Warn("ACTION_RUNNER_URL not set, allowed work items will fail without a registered executor")
	}
	pool.Start()

	// ─── Trigger engine ─────────────────────────────────────────────────
	triggerEngine := trigger.NewEngine(database.NewRuleStore(db), queueSvc,
		time.Duration(cfg.TriggerIntervalSeconds)*time.Second)
	if err := triggerEngine.SyncRules(polCfg.Rules); err != nil {
		slog.Error("Trigger rule sync failed", "error", err)
		os.Exit(1)
	}
	triggerEngine.AddSource(&governanceSource{breakers: registry, queue: queueSvc, ledger: ledgerSvc})
	triggerEngine.Start()

	// ─── Diagnosis advisor ──────────────────────────────────────────────
	advisorSvc := advisor.NewService(database.NewEventStore(db), registry)
	advisorSvc.OnRecord(func(pattern string) {
		triggerEngine.NotifyFailure(pattern)
	})

	// ─── Handlers ───────────────────────────────────────────────────────
	streamHandler := handlers.NewStreamHandler()
	ledgerSvc.OnAppend(func(rec models.ActivityRecord) {
		metricsCollector.RecordLedgerAppend()
		switch rec.Status {
		case models.StatusExecuted:
			metricsCollector.RecordDecision("allow")
		case models.StatusPending:
			metricsCollector.RecordDecision("require_approval")
		case models.StatusBlocked:
			metricsCollector.RecordDecision("deny")
		}
		streamHandler.Publish(&rec)
	})

	authHandler := handlers.NewAuthHandler(cfg)
	systemHandler := handlers.NewSystemHandler(db, controlSvc, ledgerSvc, registry, queueSvc)
	modeHandler := handlers.NewModeHandler(controlSvc, notifier)
	activityHandler := handlers.NewActivityHandler(ledgerSvc, actionGate)
	approvalHandler := handlers.NewApprovalHandler(actionGate)
	breakerHandler := handlers.NewBreakerHandler(registry, ledgerSvc)
	ruleHandler := handlers.NewRuleHandler(triggerEngine)
	workHandler := handlers.NewWorkHandler(queueSvc)
	failureHandler := handlers.NewFailureHandler(advisorSvc, actionGate)

	// ─── Gauges sampled on a fixed cadence ──────────────────────────────
	samplerStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metricsCollector.SetBreakersOpen(registry.OpenCount())
				metricsCollector.SetQueueDepth(queueSvc.Depth())
			case <-samplerStop:
				return
			}
		}
	}()

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "warden v" + handlers.Version,
		ServerHeader: "warden",
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Webhook-Token",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" || c.Path() == "/metrics" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, systemHandler, modeHandler, activityHandler,
		approvalHandler, breakerHandler, ruleHandler, workHandler, failureHandler,
		streamHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Warden...")

		triggerEngine.Stop()
		pool.Stop()
		close(samplerStop)
		ledgerSvc.StopProbe()

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if sqlDB, err := database.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("Warden listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
