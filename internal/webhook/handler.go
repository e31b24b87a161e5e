package webhook

import (
	"errors"
	"io"
	"net/http"

	"procurement_followup/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBody     = 1 << 20
	errReadBody        = "failed to read request body"
	errUnclassifiedMsg = "payload could not be classified into any channel"
)

// Handler handles vendor channel webhooks.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleChannelWebhook accepts delivery and reply callbacks from any supported vendor.
// POST /api/v1/webhooks/channels
func (h *Handler) HandleChannelWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errReadBody, nil)
		return
	}

	summary, err := h.service.Process(c.Request.Context(), c.ContentType(), raw, c.Request.Header)
	if errors.Is(err, ErrUnclassifiable) {
		httpkit.Error(c, http.StatusBadRequest, errUnclassifiedMsg, nil)
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, summary)
}
