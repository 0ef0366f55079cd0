package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"notifygate/internal/models"
)

// ErrNoEligibleChannel is returned when user preferences and the
// template's declared channel leave nothing to deliver on.
var ErrNoEligibleChannel = errors.New("no eligible channel")

// ChannelPlan is one per-channel delivery unit produced by routing.
type ChannelPlan struct {
	Channel string
	Message models.QueuedMessage
}

// Router merges user preferences with template metadata to decide
// which channels a notification fans out to.
type Router struct {
	users     UserFetcher
	templates TemplateFetcher
	log       zerolog.Logger
}

func NewRouter(users UserFetcher, templates TemplateFetcher, log zerolog.Logger) *Router {
	return &Router{users: users, templates: templates, log: log}
}

// Route resolves the user and template through the breaker-protected
// upstreams and produces one plan per eligible channel. The caller
// owns the correlation ID; it was minted at admission so the client
// already holds it.
func (ro *Router) Route(ctx context.Context, correlationID string, req models.NotificationRequest) ([]ChannelPlan, error) {
	user, err := ro.users.FetchUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	tpl, err := ro.templates.FetchTemplate(ctx, req.TemplateName)
	if err != nil {
		return nil, fmt.Errorf("resolving template: %w", err)
	}

	channels := eligibleChannels(user, tpl)
	if len(channels) == 0 {
		return nil, fmt.Errorf("user %s, template %s: %w", req.UserID, req.TemplateName, ErrNoEligibleChannel)
	}

	variables := mergeVariables(req.Variables, user)

	plans := make([]ChannelPlan, 0, len(channels))
	for _, channel := range channels {
		msg := models.QueuedMessage{
			NotificationID:  deliveryID(correlationID, channel, len(channels)),
			CorrelationID:   correlationID,
			UserID:          user.UserID,
			TemplateID:      tpl.TemplateID,
			TemplateContent: tpl.Content,
			TemplateSubject: tpl.Subject,
			Type:            channel,
			Variables:       variables,
			Timestamp:       time.Now().UTC(),
			Status:          models.StatusQueued,
		}
		switch channel {
		case models.ChannelEmail:
			msg.UserEmail = user.Email
		case models.ChannelPush:
			msg.PushToken = user.PushToken
		}
		plans = append(plans, ChannelPlan{Channel: channel, Message: msg})
	}
	ro.log.Debug().
		Str("correlation_id", correlationID).
		Str("user_id", user.UserID).
		Strs("channels", channels).
		Msg("notification routed")
	return plans, nil
}

// eligibleChannels intersects the template's declared channel set with
// the user's per-channel eligibility.
func eligibleChannels(user models.User, tpl models.Template) []string {
	wantEmail := tpl.Type == models.ChannelEmail || tpl.Type == models.ChannelBoth
	wantPush := tpl.Type == models.ChannelPush || tpl.Type == models.ChannelBoth

	var channels []string
	if wantEmail && user.EmailEnabled() {
		channels = append(channels, models.ChannelEmail)
	}
	if wantPush && user.PushEnabled() {
		channels = append(channels, models.ChannelPush)
	}
	return channels
}

// mergeVariables overlays caller-supplied variables on top of resolved
// user display fields. Request values always win; user fields only
// fill gaps.
func mergeVariables(requested map[string]any, user models.User) map[string]any {
	merged := make(map[string]any, len(requested)+2)
	if user.Name != "" {
		merged["user_name"] = user.Name
	}
	if user.Email != "" {
		merged["user_email"] = user.Email
	}
	for k, v := range requested {
		merged[k] = v
	}
	return merged
}

// deliveryID keeps notification_id equal to the correlation ID for a
// single-channel route; fan-out gets one distinct delivery unit per
// channel.
func deliveryID(correlationID, channel string, fanout int) string {
	if fanout <= 1 {
		return correlationID
	}
	return correlationID + ":" + channel
}
