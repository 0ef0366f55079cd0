package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"notifygate/internal/models"
	"notifygate/internal/queue"
	"notifygate/internal/status"
)

// Source hands out deliveries for a channel's main queue.
type Source interface {
	Consume(channel string) (<-chan amqp.Delivery, error)
}

// Escalator moves terminally failing messages to the channel's failed
// queue.
type Escalator interface {
	PublishToFailedQueue(channel string, message any) error
}

// acker is the slice of amqp.Delivery the worker needs to settle a
// message.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Worker drains one channel's main queue, one message at a time, and
// drives each delivery through processing -> sent|failed. Retry is
// fully delegated to the queue topology: the worker never re-runs a
// send in process.
type Worker struct {
	channel  string
	source   Source
	renderer Renderer
	sender   Sender
	tracker  status.Store
	escalate Escalator
	pace     *rate.Limiter
	// maxAttempts caps retry cycling; zero means cycle forever.
	maxAttempts int
	log         zerolog.Logger
}

type Options struct {
	Channel        string
	Source         Source
	Renderer       Renderer
	Sender         Sender
	Tracker        status.Store
	Escalator      Escalator
	MaxAttempts    int
	SendsPerSecond int
	Log            zerolog.Logger
}

func New(opts Options) *Worker {
	sends := opts.SendsPerSecond
	if sends <= 0 {
		sends = 20
	}
	return &Worker{
		channel:     opts.Channel,
		source:      opts.Source,
		renderer:    opts.Renderer,
		sender:      opts.Sender,
		tracker:     opts.Tracker,
		escalate:    opts.Escalator,
		pace:        rate.NewLimiter(rate.Limit(sends), sends),
		maxAttempts: opts.MaxAttempts,
		log:         opts.Log.With().Str("channel", opts.Channel).Logger(),
	}
}

// Run consumes until ctx is cancelled or the delivery stream closes.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.source.Consume(w.channel)
	if err != nil {
		return fmt.Errorf("starting %s consumer: %w", w.channel, err)
	}
	w.log.Info().Msg("worker consuming")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s delivery stream closed", w.channel)
			}
			w.process(ctx, d.Body, queue.DeathCount(d), d)
		}
	}
}

func (w *Worker) process(ctx context.Context, body []byte, attempts int, ack acker) {
	var msg models.QueuedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// Undecodable payloads can never succeed; park them for the
		// operator instead of cycling.
		w.log.Error().Err(err).Msg("dropping undecodable message to failed queue")
		raw := models.RawFailedMessage{
			Channel:  w.channel,
			Body:     string(body),
			Error:    err.Error(),
			FailedAt: time.Now().UTC(),
		}
		if err := w.escalate.PublishToFailedQueue(w.channel, raw); err != nil {
			w.log.Error().Err(err).Msg("failed-queue escalation failed")
		}
		w.settle(ack.Ack(false))
		return
	}

	log := w.log.With().Str("correlation_id", msg.CorrelationID).Logger()
	w.setStatus(ctx, msg, models.StatusProcessing, "", "")

	if w.maxAttempts > 0 && attempts >= w.maxAttempts {
		log.Warn().Int("attempts", attempts).Msg("retry attempts exhausted")
		w.setStatus(ctx, msg, models.StatusFailed, "retry attempts exhausted", "")
		if err := w.escalate.PublishToFailedQueue(w.channel, msg); err != nil {
			log.Error().Err(err).Msg("failed-queue escalation failed")
		}
		w.settle(ack.Ack(false))
		return
	}

	if err := w.pace.Wait(ctx); err != nil {
		// Shutdown mid-message: leave it unacked for redelivery.
		return
	}

	outbound, err := w.renderer.Render(msg)
	if err != nil {
		log.Error().Err(err).Msg("message failed rendering")
		w.setStatus(ctx, msg, models.StatusFailed, err.Error(), "")
		w.settle(ack.Nack(false, false))
		return
	}

	result := w.sender.Send(ctx, outbound)
	switch {
	case result.OK:
		log.Info().Str("provider_message_id", result.ProviderMessageID).Msg("delivered")
		w.setStatus(ctx, msg, models.StatusSent, "", result.ProviderMessageID)
		w.settle(ack.Ack(false))
	case result.Retryable:
		log.Warn().Err(result.Err).Msg("send failed, cycling through retry queue")
		w.setStatus(ctx, msg, models.StatusFailed, result.Err.Error(), "")
		w.settle(ack.Nack(false, false))
	default:
		log.Error().Err(result.Err).Msg("send failed terminally")
		w.setStatus(ctx, msg, models.StatusFailed, result.Err.Error(), "")
		if err := w.escalate.PublishToFailedQueue(w.channel, msg); err != nil {
			log.Error().Err(err).Msg("failed-queue escalation failed")
		}
		w.settle(ack.Ack(false))
	}
}

func (w *Worker) setStatus(ctx context.Context, msg models.QueuedMessage, state, errText, providerID string) {
	record := models.CorrelationRecord{
		NotificationID:    msg.NotificationID,
		CorrelationID:     msg.CorrelationID,
		Status:            state,
		Type:              w.channel,
		UserID:            msg.UserID,
		Timestamp:         time.Now().UTC(),
		Error:             errText,
		ProviderMessageID: providerID,
	}
	if err := w.tracker.Set(ctx, record); err != nil {
		w.log.Error().Err(err).Str("correlation_id", msg.CorrelationID).Msg("status update failed")
	}
}

func (w *Worker) settle(err error) {
	if err != nil {
		w.log.Error().Err(err).Msg("acknowledgment failed")
	}
}
