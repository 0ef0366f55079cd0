package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"notifygate/internal/models"
	"notifygate/internal/queue"
	"notifygate/internal/services"
	"notifygate/internal/status"
)

// Router plans the per-channel deliveries for one request.
type Router interface {
	Route(ctx context.Context, correlationID string, req models.NotificationRequest) ([]services.ChannelPlan, error)
}

// Pipeline is the post-acceptance flow: route, publish per channel,
// record the queued status. Failures here can never reach the
// original caller, so they land in the status record and the failed
// queue instead.
type Pipeline struct {
	router    Router
	publisher queue.Publisher
	tracker   status.Store
	log       zerolog.Logger
}

func NewPipeline(router Router, publisher queue.Publisher, tracker status.Store, log zerolog.Logger) *Pipeline {
	return &Pipeline{router: router, publisher: publisher, tracker: tracker, log: log}
}

func (p *Pipeline) Process(ctx context.Context, correlationID string, req models.NotificationRequest) error {
	plans, err := p.router.Route(ctx, correlationID, req)
	if err != nil {
		p.recordFailure(ctx, correlationID, req, err)
		if pubErr := p.publisher.PublishFailed(models.FailedMessage{
			UserID:        req.UserID,
			TemplateName:  req.TemplateName,
			Variables:     req.Variables,
			CorrelationID: correlationID,
			Error:         err.Error(),
			FailedAt:      time.Now().UTC(),
		}); pubErr != nil {
			p.log.Error().Err(pubErr).Str("correlation_id", correlationID).Msg("failed-queue publish failed")
		}
		return err
	}

	for _, plan := range plans {
		if err := p.publisher.Publish(plan.Channel, plan.Message); err != nil {
			p.recordFailure(ctx, correlationID, req, fmt.Errorf("publish to %s: %w", plan.Channel, err))
			return err
		}
		record := models.CorrelationRecord{
			NotificationID: plan.Message.NotificationID,
			CorrelationID:  correlationID,
			Status:         models.StatusQueued,
			Type:           plan.Channel,
			UserID:         req.UserID,
			Timestamp:      time.Now().UTC(),
		}
		if err := p.tracker.Set(ctx, record); err != nil {
			p.log.Error().Err(err).Str("correlation_id", correlationID).Msg("queued status write failed")
		}
	}
	return nil
}

func (p *Pipeline) recordFailure(ctx context.Context, correlationID string, req models.NotificationRequest, cause error) {
	record := models.CorrelationRecord{
		NotificationID: correlationID,
		CorrelationID:  correlationID,
		Status:         models.StatusFailed,
		UserID:         req.UserID,
		Timestamp:      time.Now().UTC(),
		Error:          cause.Error(),
	}
	if err := p.tracker.Set(ctx, record); err != nil {
		p.log.Error().Err(err).Str("correlation_id", correlationID).Msg("failure status write failed")
	}
}
