package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notifygate/internal/models"
	"notifygate/internal/services"
)

type countingProcessor struct {
	mu    sync.Mutex
	seen  []string
	errs  error
	done  chan struct{}
}

func (c *countingProcessor) Process(_ context.Context, correlationID string, _ models.NotificationRequest) error {
	c.mu.Lock()
	c.seen = append(c.seen, correlationID)
	c.mu.Unlock()
	if c.done != nil {
		c.done <- struct{}{}
	}
	return c.errs
}

func TestDispatcherRunsSubmittedTasks(t *testing.T) {
	proc := &countingProcessor{done: make(chan struct{}, 1)}
	d := NewDispatcher(proc, 1, 4, zerolog.Nop())
	d.Start()
	defer d.Stop()

	if err := d.Submit(Task{CorrelationID: "corr-1"}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case <-proc.done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.seen) != 1 || proc.seen[0] != "corr-1" {
		t.Fatalf("unexpected tasks: %v", proc.seen)
	}
}

func TestDispatcherStopDrainsBufferedTasks(t *testing.T) {
	proc := &countingProcessor{}
	d := NewDispatcher(proc, 1, 16, zerolog.Nop())
	d.Start()

	// Every accepted task was already answered with 202; shutdown must
	// run all of them, not just whatever happens to be in flight.
	for i := 0; i < 8; i++ {
		if err := d.Submit(Task{CorrelationID: "corr"}); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}
	d.Stop()

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.seen) != 8 {
		t.Fatalf("processed %d of 8 accepted tasks", len(proc.seen))
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	// Never started: nothing drains the buffer.
	d := NewDispatcher(&countingProcessor{}, 1, 1, zerolog.Nop())

	if err := d.Submit(Task{CorrelationID: "a"}); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if err := d.Submit(Task{CorrelationID: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

type fakePublisher struct {
	published []services.ChannelPlan
	failed    []models.FailedMessage
	pubErr    error
}

func (f *fakePublisher) Publish(channel string, message any) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, services.ChannelPlan{
		Channel: channel,
		Message: message.(models.QueuedMessage),
	})
	return nil
}

func (f *fakePublisher) PublishFailed(message models.FailedMessage) error {
	f.failed = append(f.failed, message)
	return nil
}

type fakeRouter struct {
	plans []services.ChannelPlan
	err   error
}

func (f *fakeRouter) Route(_ context.Context, correlationID string, _ models.NotificationRequest) ([]services.ChannelPlan, error) {
	return f.plans, f.err
}

type memoryTracker struct {
	records map[string][]models.CorrelationRecord
}

func newMemoryTracker() *memoryTracker {
	return &memoryTracker{records: map[string][]models.CorrelationRecord{}}
}

func (m *memoryTracker) Get(_ context.Context, id string) (models.CorrelationRecord, error) {
	history := m.records[id]
	if len(history) == 0 {
		return models.CorrelationRecord{}, errors.New("not found")
	}
	return history[len(history)-1], nil
}

func (m *memoryTracker) Set(_ context.Context, record models.CorrelationRecord) error {
	m.records[record.CorrelationID] = append(m.records[record.CorrelationID], record)
	return nil
}

func TestPipelinePublishesAndMarksQueued(t *testing.T) {
	plans := []services.ChannelPlan{
		{Channel: models.ChannelEmail, Message: models.QueuedMessage{
			NotificationID: "corr-1",
			CorrelationID:  "corr-1",
			Type:           models.ChannelEmail,
		}},
	}
	publisher := &fakePublisher{}
	tracker := newMemoryTracker()
	p := NewPipeline(&fakeRouter{plans: plans}, publisher, tracker, zerolog.Nop())

	req := models.NotificationRequest{UserID: "u1", TemplateName: "welcome", Variables: map[string]any{}}
	if err := p.Process(context.Background(), "corr-1", req); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("published %d messages", len(publisher.published))
	}
	record, err := tracker.Get(context.Background(), "corr-1")
	if err != nil {
		t.Fatalf("no status record: %v", err)
	}
	if record.Status != models.StatusQueued {
		t.Fatalf("status = %q, want queued", record.Status)
	}
}

func TestPipelineRouteFailureEscalates(t *testing.T) {
	publisher := &fakePublisher{}
	tracker := newMemoryTracker()
	p := NewPipeline(&fakeRouter{err: services.ErrNoEligibleChannel}, publisher, tracker, zerolog.Nop())

	req := models.NotificationRequest{UserID: "u1", TemplateName: "welcome", Variables: map[string]any{}}
	err := p.Process(context.Background(), "corr-1", req)
	if !errors.Is(err, services.ErrNoEligibleChannel) {
		t.Fatalf("expected routing error, got %v", err)
	}

	if len(publisher.published) != 0 {
		t.Fatal("routing failure must never reach the main queues")
	}
	if len(publisher.failed) != 1 {
		t.Fatalf("expected one failed-queue message, got %d", len(publisher.failed))
	}
	record, err := tracker.Get(context.Background(), "corr-1")
	if err != nil {
		t.Fatalf("no status record: %v", err)
	}
	if record.Status != models.StatusFailed || record.Error == "" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestPipelinePublishFailureRecorded(t *testing.T) {
	plans := []services.ChannelPlan{
		{Channel: models.ChannelEmail, Message: models.QueuedMessage{CorrelationID: "corr-1"}},
	}
	publisher := &fakePublisher{pubErr: errors.New("channel closed")}
	tracker := newMemoryTracker()
	p := NewPipeline(&fakeRouter{plans: plans}, publisher, tracker, zerolog.Nop())

	req := models.NotificationRequest{UserID: "u1", TemplateName: "welcome", Variables: map[string]any{}}
	if err := p.Process(context.Background(), "corr-1", req); err == nil {
		t.Fatal("expected publish error")
	}

	record, err := tracker.Get(context.Background(), "corr-1")
	if err != nil {
		t.Fatalf("no status record: %v", err)
	}
	if record.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", record.Status)
	}
}
