package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"treasure-hunt-system/auth"
	"treasure-hunt-system/config"
	"treasure-hunt-system/handlers"
	"treasure-hunt-system/logging"
	"treasure-hunt-system/models"
	"treasure-hunt-system/monitoring"
	"treasure-hunt-system/services"
	"treasure-hunt-system/utils"
	"treasure-hunt-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg := config.Load()

	if err := logging.InitLogger(cfg.IsProduction()); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logging.Logger.Sync()

	if err := cfg.Validate(); err != nil {
		logging.Logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.BotVerifyBypass {
		logging.Logger.Warn("⚠️  Bot verification is bypassed (BOT_VERIFY_BYPASS=true)")
	}

	gormLevel := gormlogger.Warn
	if cfg.IsProduction() {
		gormLevel = gormlogger.Error
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLevel),
	})
	if err != nil {
		logging.Logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		logging.Logger.Fatal("failed to migrate database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	provider := services.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeWebhookTolerance, cfg.StripeTimeout)
	notifier := services.NewNotificationService(db, cfg.NotifyTimeout)
	bot := services.NewTurnstileVerifier(cfg.TurnstileSecret, cfg.BotVerifyBypass, cfg.BotVerifyTimeout)

	authService := services.NewAuthService(db, tokens, bot, notifier, cfg.BcryptCost, cfg.DefaultCommissionRate)
	paymentService := services.NewPaymentService(db, provider)
	webhookService := services.NewWebhookService(db, provider, notifier, cfg.WebhookMaxAttempts)
	referralService := services.NewReferralService(db)
	adminService := services.NewAdminService(db, notifier, webhookService)

	if cfg.R2Enabled() {
		archiver, err := utils.NewR2Archiver(ctx, cfg.CloudflareAccountID, cfg.R2AccessKeyID, cfg.R2AccessKeySecret, cfg.R2Bucket)
		if err != nil {
			logging.Logger.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		webhookService.Archiver = archiver
	}

	if err := authService.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logging.Logger.Fatal("failed to seed admin account", zap.Error(err))
	}

	var mailer utils.Mailer = utils.LogMailer{}
	if cfg.SMTPHost != "" {
		mailer = &utils.SMTPMailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
			Timeout:  10 * time.Second,
		}
	}
	notificationWorker := workers.NewNotificationWorker(db, mailer, cfg.NotifyInterval, cfg.NotifyMaxAttempts)
	go notificationWorker.Start(ctx)

	scheduler := services.NewMaintenanceScheduler(db, cfg.RetentionPeriod)
	if err := scheduler.Start(); err != nil {
		logging.Logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(monitoring.Middleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupOpsRoutes(app, db, cfg.MetricsToken)
	handlers.SetupRoutes(app, handlers.Services{
		Tokens:    tokens,
		Auth:      authService,
		Payments:  paymentService,
		Webhooks:  webhookService,
		Referrals: referralService,
		Admin:     adminService,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logging.Logger.Error("server error", zap.Error(err))
		}
	}()

	logging.Logger.Info("✅ Server running", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	logging.Logger.Info("✅ Notification worker running", zap.Duration("interval", cfg.NotifyInterval))
	logging.Logger.Info("✅ CORS configured", zap.Strings("origins", cfg.AllowedOrigins))

	<-ctx.Done()
	logging.Logger.Info("Shutting down server...")

	if err := scheduler.Shutdown(); err != nil {
		logging.Logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logging.Logger.Warn("server shutdown", zap.Error(err))
	}
}
