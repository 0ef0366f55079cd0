package models

import "time"

// Notification lifecycle statuses stored in the tracker.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusBounced    = "bounced"
)

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
	ChannelBoth  = "both"
)

// Error codes returned in the API envelope.
const (
	CodeValidationError     = "validation_error"
	CodeMissingCredential   = "missing_credential"
	CodeMalformedCredential = "malformed_credential"
	CodeInvalidCredential   = "invalid_credential"
	CodeRateLimitExceeded   = "rate_limit_exceeded"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeNotFound            = "not_found"
	CodeNoEligibleChannel   = "no_eligible_channel"
	CodePublishFailure      = "publish_failure"
	CodeInternalError       = "internal_error"
)

type NotificationRequest struct {
	UserID       string         `json:"user_id" binding:"required"`
	TemplateName string         `json:"template_name" binding:"required"`
	Variables    map[string]any `json:"variables" binding:"required"`
}

// QueuedMessage is the wire payload published per channel.
type QueuedMessage struct {
	NotificationID  string         `json:"notification_id"`
	CorrelationID   string         `json:"correlation_id"`
	UserID          string         `json:"user_id"`
	UserEmail       string         `json:"user_email,omitempty"`
	PushToken       string         `json:"push_token,omitempty"`
	TemplateID      string         `json:"template_id"`
	TemplateContent string         `json:"template_content"`
	TemplateSubject string         `json:"template_subject,omitempty"`
	Type            string         `json:"type"`
	Variables       map[string]any `json:"variables"`
	Timestamp       time.Time      `json:"timestamp"`
	Status          string         `json:"status"`
}

// FailedMessage wraps a payload that could not be routed or published,
// escalated to the failed queue for operator inspection.
type FailedMessage struct {
	UserID        string         `json:"user_id"`
	TemplateName  string         `json:"template_name"`
	Variables     map[string]any `json:"variables"`
	CorrelationID string         `json:"correlation_id"`
	Error         string         `json:"error"`
	FailedAt      time.Time      `json:"failed_at"`
}

// RawFailedMessage carries an undecodable payload to the failed queue.
// The body travels as an opaque string so escalation never depends on
// the broken payload marshalling.
type RawFailedMessage struct {
	Channel  string    `json:"channel"`
	Body     string    `json:"body"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// CorrelationRecord is the status tracker entry for one correlation ID.
type CorrelationRecord struct {
	NotificationID    string    `json:"notification_id"`
	CorrelationID     string    `json:"correlation_id"`
	Status            string    `json:"status"`
	Type              string    `json:"type"`
	UserID            string    `json:"user_id"`
	Timestamp         time.Time `json:"timestamp"`
	Error             string    `json:"error,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
}

// User is the record served by the user provider.
type User struct {
	UserID      string          `json:"user_id"`
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	Preferences UserPreferences `json:"preferences"`
	PushToken   string          `json:"push_token,omitempty"`
}

type UserPreferences struct {
	Email *bool `json:"email"`
	Push  *bool `json:"push"`
}

// EmailEnabled reports whether email delivery is allowed for the user.
// Email is on unless explicitly disabled.
func (u User) EmailEnabled() bool {
	return u.Preferences.Email == nil || *u.Preferences.Email
}

// PushEnabled reports whether push delivery is allowed. Push needs a
// registered token and must not be explicitly disabled.
func (u User) PushEnabled() bool {
	if u.PushToken == "" {
		return false
	}
	return u.Preferences.Push == nil || *u.Preferences.Push
}

// Template is the record served by the template provider.
type Template struct {
	TemplateID string   `json:"template_id"`
	Type       string   `json:"type"`
	Subject    string   `json:"subject,omitempty"`
	Content    string   `json:"content"`
	Variables  []string `json:"variables,omitempty"`
}

type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type Meta struct {
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Page       int  `json:"page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_previous"`
}

func SuccessResponse(data any, message string) ApiResponse {
	return ApiResponse{
		Success: true,
		Data:    data,
		Message: message,
		Meta:    &Meta{Total: 1, Limit: 1, Page: 1, TotalPages: 1},
	}
}

func ErrorResponse(code, message string) ApiResponse {
	return ApiResponse{
		Success: false,
		Error:   code,
		Message: message,
	}
}

type NotificationResponse struct {
	CorrelationID string    `json:"correlation_id"`
	Status        string    `json:"status"`
	QueuedAt      time.Time `json:"queued_at"`
}
