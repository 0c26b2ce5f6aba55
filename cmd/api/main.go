package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/blindrelay/blindrelay/internal/auth"
	"github.com/blindrelay/blindrelay/internal/config"
	"github.com/blindrelay/blindrelay/internal/handler"
	"github.com/blindrelay/blindrelay/internal/infra/postgresql"
	"github.com/blindrelay/blindrelay/internal/infra/postgresql/migrations"
	infraredis "github.com/blindrelay/blindrelay/internal/infra/redis"
	"github.com/blindrelay/blindrelay/internal/observability"
	"github.com/blindrelay/blindrelay/internal/provider"
	"github.com/blindrelay/blindrelay/internal/ratelimit"
	"github.com/blindrelay/blindrelay/internal/repository"
	"github.com/blindrelay/blindrelay/internal/service"
	"github.com/blindrelay/blindrelay/internal/transport"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	if err := migrations.Migrate(db); err != nil {
		return err
	}

	var redisClient *goredis.Client
	var limiter ratelimit.RateLimiter
	if cfg.RedisURL != "" {
		redisClient, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		sendLimiter, err := infraredis.NewSendRateLimiter(redisClient, cfg.SendRatePerSec)
		if err != nil {
			return err
		}
		limiter = sendLimiter
		logger.Info("send rate limiter enabled",
			zap.Int("rate_per_sec", cfg.SendRatePerSec),
		)
	} else {
		logger.Info("send rate limiter disabled, REDIS_URL not set")
	}

	authn, err := auth.NewAuthenticator(cfg.DataAPIKey, cfg.ContentAPIKey)
	if err != nil {
		return err
	}

	sender, err := provider.NewMailgunSender(cfg.MailgunBaseURL, cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.FromEmail)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	locks := service.NewCampaignLocks()

	campaignRepo := repository.NewGormCampaignRepo(db)
	tokenRepo := repository.NewGormTokenRepo(db)
	replyRepo := repository.NewGormReplyRepo(db)

	campaignSvc := service.NewCampaignService(campaignRepo, tokenRepo, locks, logger)
	dispatchSvc, err := service.NewDispatchService(
		campaignRepo,
		tokenRepo,
		sender,
		limiter,
		locks,
		metrics,
		logger,
		cfg.SendConcurrency,
		cfg.ReplyDomain,
		cfg.MailgunDomain,
	)
	if err != nil {
		return err
	}
	replySvc := service.NewReplyService(replyRepo, tokenRepo, metrics, logger)

	app := fiber.New(fiber.Config{
		AppName:      "blindrelay",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.NewHealthHandler(db, redisClient, logger).RegisterRoutes(app)
	handler.NewWebhookHandler(replySvc, logger).RegisterRoutes(app)
	handler.NewCampaignHandler(campaignSvc, dispatchSvc, replySvc, logger).RegisterRoutes(app, authn)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("api listening", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
