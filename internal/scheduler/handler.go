package scheduler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"procurement_followup/internal/channel"
	"procurement_followup/internal/followup"
	"procurement_followup/platform/apperr"
	"procurement_followup/platform/httpkit"
	"procurement_followup/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidOrderID   = "invalid order id"
	msgRunInProgress    = "a scheduler run is already in progress"
)

// FollowUpReader is the read side of the attempt tracker and escalation ledger.
type FollowUpReader interface {
	GetPendingJobs(ctx context.Context, filter followup.PendingFilter) ([]followup.Attempt, error)
	ListEscalations(ctx context.Context, orderID uuid.UUID) ([]followup.Escalation, error)
}

// ListPendingRequest filters GET /admin/followups/pending.
type ListPendingRequest struct {
	Channel       string `form:"channel" validate:"omitempty,oneof=EMAIL SMS VOICE email sms voice"`
	MaxAgeMinutes int    `form:"maxAgeMinutes" validate:"gte=0,lte=525600"`
}

// PendingAttemptResponse is one attempt in the pending list.
type PendingAttemptResponse struct {
	ID                uuid.UUID       `json:"id"`
	OrderID           uuid.UUID       `json:"orderId"`
	Channel           channel.Channel `json:"channel"`
	Recipient         string          `json:"recipient"`
	Status            followup.Status `json:"status"`
	AttemptNumber     int             `json:"attemptNumber"`
	ProviderMessageID *string         `json:"providerMessageId,omitempty"`
	LastError         *string         `json:"lastError,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// EscalationResponse is one ledger entry for an order.
type EscalationResponse struct {
	ID           uuid.UUID `json:"id"`
	Reason       string    `json:"reason"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	AttemptCount int       `json:"attemptCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Handler exposes manual scheduler triggers to administrators.
type Handler struct {
	runner   *Runner
	engine   OrderProcessor
	enqueuer RunEnqueuer
	reader   FollowUpReader
	val      *validator.Validator
	group    singleflight.Group
}

func NewHandler(runner *Runner, engine OrderProcessor, enqueuer RunEnqueuer, reader FollowUpReader, val *validator.Validator) *Handler {
	return &Handler{runner: runner, engine: engine, enqueuer: enqueuer, reader: reader, val: val}
}

// TriggerRun queues a batch run, or runs it inline without a queue.
// POST /api/v1/admin/scheduler/run
func (h *Handler) TriggerRun(c *gin.Context) {
	if h.enqueuer != nil {
		err := h.enqueuer.EnqueueRun(c.Request.Context())
		if errors.Is(err, ErrRunInProgress) {
			httpkit.HandleError(c, apperr.Conflict(msgRunInProgress))
			return
		}
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.Accepted(c, gin.H{"queued": true})
		return
	}

	result, err := h.runner.RunOnce(c.Request.Context())
	if errors.Is(err, ErrRunInProgress) {
		httpkit.HandleError(c, apperr.Conflict(msgRunInProgress))
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ProcessOrder runs the engine for one order immediately. Concurrent requests
// for the same order share one run. With ?async=true and a queue configured
// the run is handed to the worker instead.
// POST /api/v1/admin/scheduler/orders/:id/run
func (h *Handler) ProcessOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidOrderID, nil)
		return
	}

	if h.enqueuer != nil && c.Query("async") == "true" {
		if httpkit.HandleError(c, h.enqueuer.EnqueueProcessOrder(c.Request.Context(), orderID)) {
			return
		}
		httpkit.Accepted(c, gin.H{"queued": true, "orderId": orderID})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	value, _, _ := h.group.Do(orderID.String(), func() (interface{}, error) {
		return h.engine.ProcessOrder(ctx, orderID), nil
	})
	result := value.(OrderResult)

	if !result.Processed && result.Err() != nil {
		if httpkit.HandleError(c, result.Err()) {
			return
		}
	}
	httpkit.OK(c, result)
}

// ListPending returns attempts that have not succeeded yet.
// GET /api/v1/admin/followups/pending
func (h *Handler) ListPending(c *gin.Context) {
	var req ListPendingRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	filter := followup.PendingFilter{MaxAge: time.Duration(req.MaxAgeMinutes) * time.Minute}
	if req.Channel != "" {
		filter.Channel, _ = channel.Parse(req.Channel)
	}

	attempts, err := h.reader.GetPendingJobs(c.Request.Context(), filter)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]PendingAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, PendingAttemptResponse{
			ID:                a.ID,
			OrderID:           a.OrderID,
			Channel:           a.Channel,
			Recipient:         a.Recipient,
			Status:            a.Status,
			AttemptNumber:     a.AttemptNumber,
			ProviderMessageID: a.ProviderMessageID,
			LastError:         a.LastError,
			CreatedAt:         a.CreatedAt,
		})
	}
	httpkit.OK(c, gin.H{"items": items, "total": len(items)})
}

// ListEscalations returns the escalation ledger for one order, newest first.
// GET /api/v1/admin/orders/:id/escalations
func (h *Handler) ListEscalations(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidOrderID, nil)
		return
	}

	escalations, err := h.reader.ListEscalations(c.Request.Context(), orderID)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]EscalationResponse, 0, len(escalations))
	for _, e := range escalations {
		items = append(items, EscalationResponse{
			ID:           e.ID,
			Reason:       e.Reason,
			Status:       e.Status,
			Notes:        e.Notes,
			AttemptCount: e.AttemptCount,
			CreatedAt:    e.CreatedAt,
		})
	}
	httpkit.OK(c, gin.H{"items": items, "total": len(items)})
}
