package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consume opens a dedicated channel on the shared connection and
// starts delivering from the named queue with manual acknowledgment.
// Prefetch is pinned to one so a worker processes a single message at
// a time.
func (r *RabbitMqClient) Consume(channel string) (<-chan amqp.Delivery, error) {
	queue, err := r.queueFor(channel)
	if err != nil {
		return nil, err
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening consumer channel for %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("setting prefetch on %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag, broker-assigned
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consuming from %s: %w", queue, err)
	}
	return deliveries, nil
}

// DeathCount reads how many times a delivery has cycled through the
// retry topology, from the broker-maintained x-death header.
func DeathCount(d amqp.Delivery) int {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	total := 0
	for _, entry := range deaths {
		table, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		switch count := table["count"].(type) {
		case int64:
			total += int(count)
		case int32:
			total += int(count)
		case int:
			total += count
		}
	}
	return total
}
