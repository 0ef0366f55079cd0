package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notifygate/internal/dispatch"
	"notifygate/internal/models"
	"notifygate/internal/status"
)

// Submitter is the background executor the handler hands accepted
// requests to.
type Submitter interface {
	Submit(task dispatch.Task) error
}

type Notification struct {
	dispatcher Submitter
	tracker    status.Store
	log        zerolog.Logger
}

func NewNotification(dispatcher Submitter, tracker status.Store, log zerolog.Logger) *Notification {
	return &Notification{dispatcher: dispatcher, tracker: tracker, log: log}
}

// Notify accepts a notification request and returns 202 immediately;
// routing and publishing run in the background. The correlation ID is
// minted here so the caller can poll before the pipeline finishes.
func (no *Notification) Notify(c *gin.Context) {
	var req models.NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(
			models.CodeValidationError,
			"user_id, template_name, and variables are required",
		))
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.TemplateName) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(
			models.CodeValidationError,
			"user_id and template_name must be non-empty",
		))
		return
	}

	correlationID := uuid.New().String()
	task := dispatch.Task{CorrelationID: correlationID, Request: req}
	if err := no.dispatcher.Submit(task); err != nil {
		no.log.Error().Err(err).Msg("could not queue background task")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(
			models.CodeInternalError,
			"Notification could not be accepted right now",
		))
		return
	}

	c.JSON(http.StatusAccepted, models.SuccessResponse(
		models.NotificationResponse{
			CorrelationID: correlationID,
			Status:        models.StatusQueued,
			QueuedAt:      time.Now().UTC(),
		},
		"Notification request accepted and is being processed.",
	))
}

// Status returns the lifecycle record for a correlation ID.
func (no *Notification) Status(c *gin.Context) {
	correlationID := c.Param("correlation_id")
	record, err := no.tracker.Get(c.Request.Context(), correlationID)
	if errors.Is(err, status.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse(
			models.CodeNotFound,
			"Notification status not found",
		))
		return
	}
	if err != nil {
		no.log.Error().Err(err).Str("correlation_id", correlationID).Msg("status lookup failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(
			models.CodeInternalError,
			"Failed to retrieve notification status",
		))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(record, "Notification status retrieved successfully"))
}
