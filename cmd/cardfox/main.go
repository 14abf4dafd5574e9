package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/miketere/businesscard-sub001/app/repository"
	"github.com/miketere/businesscard-sub001/internal/pkg/billing"
	"github.com/miketere/businesscard-sub001/internal/pkg/cache"
	"github.com/miketere/businesscard-sub001/internal/pkg/database"
	"github.com/miketere/businesscard-sub001/internal/pkg/entitlements"
	"github.com/miketere/businesscard-sub001/internal/pkg/env"
	"github.com/miketere/businesscard-sub001/internal/pkg/jobqueue"
	"github.com/miketere/businesscard-sub001/internal/pkg/router"
	"github.com/miketere/businesscard-sub001/internal/pkg/userlock"
)

func main() {
	app, manager := NewApplication()

	if err := manager.Start(); err != nil {
		log.Fatalf("[Main] Starting background jobs failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("[Main] Shutting down...")
		manager.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[Main] HTTP shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
	cache.Close()
}

// NewApplication wires the billing core and returns the HTTP app together with
// the not yet started background job manager.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	if err := cache.SetupCache(); err != nil {
		log.Fatalf("[Main] %v", err)
	}

	db := database.GetDB()
	repository.InitializeFactory(db)

	var locker userlock.Locker = userlock.NewLocalLocker()
	if cache.Enabled() {
		locker = userlock.NewRedisLocker(cache.GetClient(), "cardfox:sublock:", 30*time.Second)
	}

	stripeGateway := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		BackendURL:    env.GetEnv("STRIPE_API_BASE", ""),
		Timeout:       env.GetEnvDuration("STRIPE_TIMEOUT", 15*time.Second),
	})
	if env.GetEnv("STRIPE_SECRET_KEY", "") == "" {
		log.Warn("[Main] STRIPE_SECRET_KEY is not set, gateway calls will fail")
	}

	billingRepo := billing.NewRepository(db)
	service := billing.NewService(billingRepo, billing.NewStore(billingRepo, locker), stripeGateway)
	evaluator := entitlements.NewEvaluator(service.Store(), service.Catalog(), repository.GetGlobalFactory().GetUsageCounter())

	reconciler := jobqueue.NewReconciler(billingRepo, service, stripeGateway, jobqueue.Options{
		PastDueGrace:     env.GetEnvDuration("BILLING_PAST_DUE_GRACE", jobqueue.DefaultOptions.PastDueGrace),
		SweepBatch:       env.GetEnvInt("BILLING_SWEEP_BATCH", jobqueue.DefaultOptions.SweepBatch),
		RetryDelay:       env.GetEnvDuration("BILLING_RETRY_DELAY", jobqueue.DefaultOptions.RetryDelay),
		MaxEventAttempts: env.GetEnvInt("BILLING_MAX_EVENT_ATTEMPTS", jobqueue.DefaultOptions.MaxEventAttempts),
	})
	manager := jobqueue.InitManager(reconciler, jobqueue.Schedule{
		SweepInterval: env.GetEnvDuration("BILLING_SWEEP_INTERVAL", jobqueue.DefaultSchedule.SweepInterval),
		RetryInterval: env.GetEnvDuration("BILLING_RETRY_INTERVAL", jobqueue.DefaultSchedule.RetryInterval),
	})

	app := fiber.New(fiber.Config{
		AppName:   "cardfox",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing:   service,
		Evaluator: evaluator,
		Webhooks:  reconciler,
		Sweeper:   manager,
		JWTSecret: env.GetEnv("JWT_SECRET", ""),
		AdminKey:  env.GetEnv("ADMIN_API_KEY", ""),
		RateLimit: router.RateLimit{
			Max:     env.GetEnvInt("API_RATE_LIMIT", 120),
			Window:  env.GetEnvDuration("API_RATE_WINDOW", time.Minute),
			Storage: cache.LimiterStorage(),
		},
	})

	return app, manager
}
