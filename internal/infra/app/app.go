package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abhinav937/who-is-using-the-server/internal/core/port"
	"github.com/abhinav937/who-is-using-the-server/internal/infra/config"
	kafkainfra "github.com/abhinav937/who-is-using-the-server/internal/infra/kafka"
	"github.com/abhinav937/who-is-using-the-server/internal/infra/logger"
	redisinfra "github.com/abhinav937/who-is-using-the-server/internal/infra/redis"
	"github.com/abhinav937/who-is-using-the-server/internal/infra/telemetry"
	"github.com/abhinav937/who-is-using-the-server/internal/infra/webhook"
	redisrepo "github.com/abhinav937/who-is-using-the-server/internal/repository/redis"
	"github.com/abhinav937/who-is-using-the-server/internal/transport/http/middleware"
	"github.com/abhinav937/who-is-using-the-server/internal/transport/http/routes"
	"github.com/abhinav937/who-is-using-the-server/internal/usecase"
)

// Application wires configuration, infrastructure and transport together.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
}

// New assembles the application from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	provider, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	sessionStore := redisrepo.NewSessionStore(redisClient.Client(), cfg.Redis.SessionPrefix, cfg.Redis.ServerPrefix)

	var eventPublisher port.EventPublisher
	var producer *kafkainfra.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	notifier := webhook.NewTeamsNotifier(cfg.Notifications, log)
	if cfg.Notifications.WebhookURL != "" {
		log.Info("webhook notifier configured",
			zap.String("url", logger.MaskString(cfg.Notifications.WebhookURL)))
	} else {
		log.Info("webhook not configured, notifications will be dropped")
	}

	var loc *time.Location
	if cfg.Notifications.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Notifications.Timezone)
		if err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("load notification timezone: %w", err)
		}
	}
	composer := usecase.NewComposer(loc)

	registry := usecase.NewRegistryService(sessionStore, notifier, eventPublisher, composer, cfg.Session.TTL, log)
	sweeper := usecase.NewSweeperService(sessionStore, notifier, eventPublisher, composer, cfg.Session.InactivityTimeout, log).
		WithSweepCounter(provider.SweepCounter())

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.PresenceMaxAttempts > 0 {
		window := cfg.RateLimit.WindowDuration
		if window <= 0 {
			window = time.Minute
		}
		attemptStore := redisrepo.NewAttemptStore(redisClient.Client(), "presence:rate-limit", window*2)
		rateLimiter = middleware.NewRateLimiter(attemptStore, log)
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Registry:    registry,
		Sweeper:     sweeper,
		Cache:       redisClient,
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		redis:    redisClient,
		producer: producer,
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			if err := a.producer.Close(); err != nil {
				a.logger.Warn("close kafka producer", zap.Error(err))
			}
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting presence API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down presence API")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	return nil
}
