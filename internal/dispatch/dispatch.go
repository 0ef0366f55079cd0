package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"notifygate/internal/models"
)

// ErrQueueFull is returned by Submit when the background executor
// cannot take more work.
var ErrQueueFull = errors.New("dispatch queue full")

// Task is one accepted notification awaiting routing and publishing.
type Task struct {
	CorrelationID string
	Request       models.NotificationRequest
}

// Processor runs the post-acceptance pipeline for one task.
type Processor interface {
	Process(ctx context.Context, correlationID string, req models.NotificationRequest) error
}

// Dispatcher runs accepted requests on background goroutines so the
// HTTP handler can return 202 without awaiting upstreams or the
// broker. Errors surface in the log rather than being swallowed by a
// dangling goroutine.
type Dispatcher struct {
	tasks     chan Task
	processor Processor
	workers   int
	log       zerolog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(processor Processor, workers, buffer int, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		tasks:     make(chan Task, buffer),
		processor: processor,
		workers:   workers,
		log:       log,
	}
}

// Start launches the worker goroutines. They run until Stop closes
// the task channel; an accepted task is never discarded by shutdown.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for task := range d.tasks {
				d.run(task)
			}
		}()
	}
}

func (d *Dispatcher) run(task Task) {
	// Once accepted, a task runs to completion regardless of the
	// originating request's lifetime.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.processor.Process(ctx, task.CorrelationID, task.Request); err != nil {
		d.log.Error().
			Err(err).
			Str("correlation_id", task.CorrelationID).
			Msg("background processing failed")
	}
}

// Submit queues a task without blocking the request path.
func (d *Dispatcher) Submit(task Task) error {
	select {
	case d.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains the buffer and waits for in-flight tasks to finish. No
// Submit may run concurrently with or after Stop.
func (d *Dispatcher) Stop() {
	close(d.tasks)
	d.wg.Wait()
}
