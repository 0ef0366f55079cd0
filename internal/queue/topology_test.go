package queue

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestMainQueueArgs(t *testing.T) {
	args := mainQueueArgs("notifications.direct", "email.queue.retry", 60*time.Second)

	if got := args["x-dead-letter-exchange"]; got != "notifications.direct" {
		t.Errorf("dead-letter exchange = %v", got)
	}
	if got := args["x-dead-letter-routing-key"]; got != "email.queue.retry" {
		t.Errorf("dead-letter routing key = %v", got)
	}
	if got := args["x-message-ttl"]; got != int32(60000) {
		t.Errorf("ttl = %v (%T)", got, got)
	}
}

func TestRetryQueueArgsCyclesBack(t *testing.T) {
	args := retryQueueArgs("notifications.direct", "email.queue", 120*time.Second)

	if got := args["x-dead-letter-routing-key"]; got != "email.queue" {
		t.Errorf("retry queue must dead-letter back to the main queue, got %v", got)
	}
	if got := args["x-message-ttl"]; got != int32(120000) {
		t.Errorf("ttl = %v", got)
	}
}

func TestQueueNames(t *testing.T) {
	if got := RetryQueue("push.queue"); got != "push.queue.retry" {
		t.Errorf("retry name = %q", got)
	}
	if got := FailedQueue("push.queue"); got != "push.queue.failed" {
		t.Errorf("failed name = %q", got)
	}
}

func TestDeathCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{
			name:    "no header",
			headers: amqp.Table{},
			want:    0,
		},
		{
			name: "single death entry",
			headers: amqp.Table{
				"x-death": []interface{}{
					amqp.Table{"count": int64(3), "queue": "email.queue"},
				},
			},
			want: 3,
		},
		{
			name: "entries across queues accumulate",
			headers: amqp.Table{
				"x-death": []interface{}{
					amqp.Table{"count": int64(2), "queue": "email.queue"},
					amqp.Table{"count": int64(2), "queue": "email.queue.retry"},
				},
			},
			want: 4,
		},
		{
			name: "malformed entries ignored",
			headers: amqp.Table{
				"x-death": []interface{}{"garbage"},
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := amqp.Delivery{Headers: tt.headers}
			if got := DeathCount(d); got != tt.want {
				t.Fatalf("DeathCount() = %d, want %d", got, tt.want)
			}
		})
	}
}
