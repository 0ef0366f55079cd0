package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"notifygate/internal/config"
	"notifygate/internal/models"
	"notifygate/internal/queue"
	"notifygate/internal/report"
	"notifygate/internal/status"
	"notifygate/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("configuration failed")
	}
	log := newLogger(cfg.Log.Level, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	broker, err := queue.NewRabbitMqClient(cfg.RabbitMq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq setup failed")
	}
	defer broker.CloseConnection()

	tracker := status.NewTracker(rdb)

	workers := []*worker.Worker{
		worker.New(worker.Options{
			Channel:        models.ChannelEmail,
			Source:         broker,
			Renderer:       worker.EmailRenderer{},
			Sender:         newSender(models.ChannelEmail, cfg.Worker.EmailProviderUrl, log),
			Tracker:        tracker,
			Escalator:      broker,
			MaxAttempts:    cfg.RabbitMq.MaxAttempts,
			SendsPerSecond: cfg.Worker.SendsPerSecond,
			Log:            log,
		}),
		worker.New(worker.Options{
			Channel:        models.ChannelPush,
			Source:         broker,
			Renderer:       worker.PushRenderer{},
			Sender:         newSender(models.ChannelPush, cfg.Worker.PushProviderUrl, log),
			Tracker:        tracker,
			Escalator:      broker,
			MaxAttempts:    cfg.RabbitMq.MaxAttempts,
			SendsPerSecond: cfg.Worker.SendsPerSecond,
			Log:            log,
		}),
	}

	reporter := report.New(
		broker,
		nil,
		[]string{
			cfg.RabbitMq.EmailQueue,
			queue.RetryQueue(cfg.RabbitMq.EmailQueue),
			cfg.RabbitMq.PushQueue,
			queue.RetryQueue(cfg.RabbitMq.PushQueue),
			cfg.RabbitMq.FailedQueue,
		},
		log,
	)
	if err := reporter.Start(cfg.Worker.ReportSchedule); err != nil {
		log.Warn().Err(err).Msg("pipeline snapshot disabled")
	}
	defer reporter.Stop()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("worker stopped")
				stop()
			}
		}(w)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()
}

func newSender(channel, providerUrl string, log zerolog.Logger) worker.Sender {
	if providerUrl == "" {
		log.Warn().Str("channel", channel).Msg("no provider configured, deliveries are simulated")
		return worker.SimulatedSender{Channel: channel, Log: log}
	}
	return worker.NewProviderSender(providerUrl)
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
