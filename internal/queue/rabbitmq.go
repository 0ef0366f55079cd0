package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"notifygate/internal/config"
	"notifygate/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the queue surface the dispatch pipeline depends on.
type Publisher interface {
	Publish(channel string, message any) error
	PublishFailed(message models.FailedMessage) error
}

type RabbitMqClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.RabbitMqConfig
	log     zerolog.Logger

	// A broker channel is not safe for concurrent frame writes, so
	// publishes are serialized.
	mu sync.Mutex
}

const (
	dialAttempts = 10
	dialBackoff  = 3 * time.Second
)

// NewRabbitMqClient dials the broker, retrying while it comes up, and
// declares the full exchange/queue/binding graph. Declaring is
// idempotent, so every process can run it at startup.
func NewRabbitMqClient(cfg config.RabbitMqConfig, log zerolog.Logger) (*RabbitMqClient, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(cfg.Url)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("rabbitmq not reachable, retrying")
		if attempt < dialAttempts {
			time.Sleep(dialBackoff)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq at %s: %w", cfg.Url, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	client := &RabbitMqClient{
		conn:    conn,
		channel: channel,
		config:  cfg,
		log:     log,
	}
	if err := client.SetUpTopology(); err != nil {
		return nil, err
	}
	log.Info().Str("exchange", cfg.Exchange).Msg("rabbitmq topology declared")
	return client, nil
}

func (r *RabbitMqClient) CloseConnection() error {
	return r.conn.Close()
}

// IsConnected reports broker connectivity for the health endpoint.
func (r *RabbitMqClient) IsConnected() bool {
	return r.conn != nil && !r.conn.IsClosed()
}

// mainQueueArgs configures a main queue: unconsumed messages expire
// after ttl and dead-letter to the channel's retry queue.
func mainQueueArgs(exchange, retryKey string, ttl time.Duration) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": retryKey,
		"x-message-ttl":             int32(ttl.Milliseconds()),
	}
}

// retryQueueArgs configures a retry queue: messages sit here for ttl
// and then dead-letter back onto the main queue.
func retryQueueArgs(exchange, mainKey string, ttl time.Duration) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": mainKey,
		"x-message-ttl":             int32(ttl.Milliseconds()),
	}
}

// RetryQueue returns the retry queue name for a main queue.
func RetryQueue(queue string) string { return queue + ".retry" }

// FailedQueue returns the terminal failed queue name for a main queue.
func FailedQueue(queue string) string { return queue + ".failed" }

func (r *RabbitMqClient) SetUpTopology() error {
	if err := r.channel.ExchangeDeclare(
		r.config.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declaring exchange: %w", err)
	}

	for _, queue := range []string{r.config.EmailQueue, r.config.PushQueue} {
		retry := RetryQueue(queue)
		failed := FailedQueue(queue)

		if err := r.declareAndBind(queue, mainQueueArgs(r.config.Exchange, retry, r.config.MainTTL)); err != nil {
			return err
		}
		if err := r.declareAndBind(retry, retryQueueArgs(r.config.Exchange, queue, r.config.RetryTTL)); err != nil {
			return err
		}
		if err := r.declareAndBind(failed, nil); err != nil {
			return err
		}
	}

	// Global failed queue for messages that never made it past routing.
	return r.declareAndBind(r.config.FailedQueue, nil)
}

func (r *RabbitMqClient) declareAndBind(queue string, args amqp.Table) error {
	if _, err := r.channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		args,
	); err != nil {
		return fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	if err := r.channel.QueueBind(queue, queue, r.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s: %w", queue, err)
	}
	return nil
}

func (r *RabbitMqClient) publish(routingKey string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshalling message for %s: %w", routingKey, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.channel.PublishWithContext(
		ctx,
		r.config.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	); err != nil {
		return fmt.Errorf("publishing to %s: %w", routingKey, err)
	}
	return nil
}

// Publish routes a message to the given channel's main queue. A
// publish error means the message was never queued; the caller must
// not assume delivery.
func (r *RabbitMqClient) Publish(channel string, message any) error {
	queue, err := r.queueFor(channel)
	if err != nil {
		return err
	}
	return r.publish(queue, message)
}

// PublishFailed escalates an unroutable payload to the global failed
// queue for operator inspection.
func (r *RabbitMqClient) PublishFailed(message models.FailedMessage) error {
	return r.publish(r.config.FailedQueue, message)
}

// PublishToFailedQueue moves a terminally failing delivery to the
// channel's own failed queue.
func (r *RabbitMqClient) PublishToFailedQueue(channel string, message any) error {
	queue, err := r.queueFor(channel)
	if err != nil {
		return err
	}
	return r.publish(FailedQueue(queue), message)
}

func (r *RabbitMqClient) queueFor(channel string) (string, error) {
	switch channel {
	case models.ChannelEmail:
		return r.config.EmailQueue, nil
	case models.ChannelPush:
		return r.config.PushQueue, nil
	default:
		return "", fmt.Errorf("unknown channel %q", channel)
	}
}

// QueueDepth returns the ready-message count of a queue, used by the
// periodic operational report.
func (r *RabbitMqClient) QueueDepth(queue string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, err := r.channel.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspecting queue %s: %w", queue, err)
	}
	return state.Messages, nil
}
