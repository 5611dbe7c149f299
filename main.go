// Package main provides the main entry point for the Calliope dispatch engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calliopehq/calliope/app/dispatch"
	"github.com/calliopehq/calliope/app/handlers"
	"github.com/calliopehq/calliope/app/middleware"
	"github.com/calliopehq/calliope/app/router"
	"github.com/calliopehq/calliope/app/services"
	businessflow "github.com/calliopehq/calliope/business_flow"
	"github.com/calliopehq/calliope/config"
	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting Calliope dispatch engine...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := config.ValidateProductionConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeRedis initializes the Redis client and verifies connectivity
func initializeRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.GetRedisAddr(), cfg.DB)
	return rc, nil
}

// initializeProviders builds the per-channel provider clients
func initializeProviders(cfg *config.ProductionConfig) map[models.StepType]services.ProviderClient {
	var smsProvider services.ProviderClient
	switch cfg.SMS.ProviderDomain {
	case "mock":
		smsProvider = services.NewMockProvider()
	default:
		smsProvider = services.NewHTTPSMSProvider(&cfg.SMS)
	}

	var emailProvider services.ProviderClient
	switch cfg.Email.ProviderDomain {
	case "mock":
		emailProvider = services.NewMockProvider()
	default:
		emailProvider = services.NewHTTPEmailProvider(&cfg.Email)
	}

	return map[models.StepType]services.ProviderClient{
		models.StepTypeSMS:              smsProvider,
		models.StepTypeEmail:            emailProvider,
		models.StepTypeSignatureRequest: emailProvider,
	}
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	tenantRepo := repository.NewTenantRepository(db)
	consumerRepo := repository.NewConsumerRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	automationRepo := repository.NewAutomationRepository(db)
	executionRepo := repository.NewAutomationExecutionRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	trackingRepo := repository.NewTrackingRecordRepository(db)
	blockedRepo := repository.NewBlockedNumberRepository(db)

	// All flows and runners share one transaction runner bound to the database
	txRunner := businessflow.TxRunner(func(ctx context.Context, fn func(context.Context) error) error {
		return repository.WithTransaction(ctx, db, fn)
	})

	// Initialize services
	providers := initializeProviders(cfg)
	renderer := services.NewPlaceholderRenderer()
	settings := services.NewTenantSettings(tenantRepo, cfg.Dispatch.SettingsCacheTTL, cfg.Dispatch.DefaultThrottleLimit)

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Initialize throttle gate
	var throttle dispatch.ThrottleGate
	if cfg.Dispatch.UseMemoryThrottle {
		throttle = dispatch.NewMemoryThrottleGate()
		log.Println("Using in-process throttle gate")
	} else {
		rc, err := initializeRedis(cfg.Redis)
		if err != nil {
			return nil, err
		}
		throttle = dispatch.NewRedisThrottleGate(rc)
		stopFuncs = append(stopFuncs, func() { _ = rc.Close() })
	}

	// Initialize flows
	sequenceFlow := businessflow.NewSequenceFlow(sequenceRepo, templateRepo, txRunner)
	enrollmentFlow := businessflow.NewEnrollmentFlow(enrollmentRepo, sequenceRepo, consumerRepo, txRunner)
	campaignFlow := businessflow.NewCampaignFlow(campaignRepo, automationRepo, consumerRepo, templateRepo, txRunner)
	deliveryFlow := businessflow.NewDeliveryFlow(trackingRepo, consumerRepo, blockedRepo, campaignRepo, enrollmentRepo, txRunner)

	// Initialize dispatch engine
	sender := dispatch.NewSender(blockedRepo, renderer, providers, cfg.Dispatch)
	dispatcher := dispatch.NewCampaignDispatcher(
		campaignRepo,
		consumerRepo,
		templateRepo,
		trackingRepo,
		automationRepo,
		executionRepo,
		settings,
		throttle,
		sender,
		txRunner,
		cfg.Dispatch,
		nil,
	)
	automations := dispatch.NewAutomationRunner(automationRepo, executionRepo, campaignRepo, consumerRepo, txRunner, nil)
	enrollments := dispatch.NewEnrollmentRunner(
		enrollmentRepo,
		sequenceRepo,
		consumerRepo,
		templateRepo,
		trackingRepo,
		settings,
		throttle,
		sender,
		txRunner,
		nil,
	)
	reporter := dispatch.NewStatusReporter(campaignRepo, enrollmentRepo, settings, throttle)

	sched := dispatch.NewScheduler(campaignRepo, dispatcher, automations, enrollments, cfg.Dispatch, cfg.Logging)
	stopScheduler := sched.Start(context.Background())
	stopFuncs = append(stopFuncs, stopScheduler)

	// Initialize handlers
	sequenceHandler := handlers.NewSequenceHandler(sequenceFlow, enrollmentFlow)
	campaignHandler := handlers.NewCampaignHandler(campaignFlow)
	dispatchHandler := handlers.NewDispatchHandler(reporter)
	webhookHandler := handlers.NewWebhookHandler(deliveryFlow)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	appRouter := router.NewFiberRouter(
		cfg,
		sequenceHandler,
		campaignHandler,
		dispatchHandler,
		webhookHandler,
		authMiddleware,
	)

	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
