package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/telephony"
)

// CallbackHandler accepts provider status webhooks. It only validates and
// publishes onto the status bus; the consumer does the state work, so the
// provider gets its 202 fast.
type CallbackHandler struct {
	log *logger.Logger
	bus telephony.StatusBus
}

func NewCallbackHandler(log *logger.Logger, bus telephony.StatusBus) *CallbackHandler {
	return &CallbackHandler{
		log: log.With("handler", "CallbackHandler"),
		bus: bus,
	}
}

type statusWebhookBody struct {
	ProviderCallRef string `json:"provider_call_ref" form:"CallSid"`
	Status          string `json:"status" form:"CallStatus"`
	RecordingURL    string `json:"recording_url" form:"RecordingUrl"`
	ErrorDetail     string `json:"error_detail" form:"ErrorMessage"`
}

func (h *CallbackHandler) Status(c *gin.Context) {
	var body statusWebhookBody
	if err := c.ShouldBind(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if strings.TrimSpace(body.ProviderCallRef) == "" || strings.TrimSpace(body.Status) == "" {
		RespondError(c, http.StatusBadRequest, "missing_fields", nil)
		return
	}

	evt := telephony.StatusEvent{
		ProviderCallRef: body.ProviderCallRef,
		Status:          telephony.NormalizeStatus(body.Status),
		RecordingURL:    body.RecordingURL,
		ErrorDetail:     body.ErrorDetail,
	}
	if err := h.bus.Publish(c.Request.Context(), evt); err != nil {
		h.log.Error("Status publish failed", "provider_call_ref", evt.ProviderCallRef, "error", err)
		RespondError(c, http.StatusInternalServerError, "publish_failed", err)
		return
	}
	c.Status(http.StatusAccepted)
}
