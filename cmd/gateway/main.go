package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"notifygate/internal/config"
	"notifygate/internal/dispatch"
	"notifygate/internal/handlers"
	"notifygate/internal/middleware"
	"notifygate/internal/queue"
	"notifygate/internal/ratelimit"
	"notifygate/internal/services"
	"notifygate/internal/status"
	"notifygate/pkg/circuitbreaker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("configuration failed")
	}

	log := newLogger(cfg.Log.Level, "gateway")
	config.WatchLogLevel(func(level string) {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			zerolog.SetGlobalLevel(parsed)
			log.Info().Str("level", level).Msg("log level updated")
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The rate limiter fails open and the tracker degrades, so a
		// redis outage at boot is not fatal.
		log.Warn().Err(err).Msg("redis unreachable at startup")
	}

	broker, err := queue.NewRabbitMqClient(cfg.RabbitMq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq setup failed")
	}
	defer broker.CloseConnection()

	userService := services.NewUserService(cfg.Services.UserServiceUrl, cfg.Breaker, log)
	templateService := services.NewTemplateService(cfg.Services.TemplateServiceUrl, cfg.Breaker, rdb, log)
	router := services.NewRouter(userService, templateService, log)
	tracker := status.NewTracker(rdb)

	pipeline := dispatch.NewPipeline(router, broker, tracker, log)
	dispatcher := dispatch.NewDispatcher(pipeline, 4, 256, log)
	dispatcher.Start()

	limiter := ratelimit.NewSlidingWindow(rdb, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	idemStore := middleware.NewRedisIdempotencyStore(rdb)

	notification := handlers.NewNotification(dispatcher, tracker, log)
	health := handlers.NewHealth(
		[]*circuitbreaker.Breaker{userService.Breaker(), templateService.Breaker()},
		rdb,
		broker,
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Client-ID"}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	engine.Use(cors.New(corsCfg))

	engine.GET("/health", health.Check)

	api := engine.Group("/")
	api.Use(
		middleware.Authentication(cfg.Auth.JwtSecret),
		middleware.RateLimit(limiter, log),
		middleware.Idempotency(idemStore, log),
	)
	api.POST("/notify", notification.Notify)
	api.GET("/notifications/:correlation_id/status", notification.Status)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: engine,
	}
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown incomplete")
	}
	dispatcher.Stop()
}

func newLogger(level, service string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
}
