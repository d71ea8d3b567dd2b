package v1

import (
	"context"
	"net/http"

	"cadbridge/internal/domain/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type SignalApplier interface {
	Apply(ctx context.Context, sig entity.TranslationSignal) error
}

type WebhookHandler struct {
	Reconciler SignalApplier
	log        *logrus.Entry
}

func NewWebhookHandler(rec SignalApplier, lg *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		Reconciler: rec,
		log:        lg.WithField("component", "webhook"),
	}
}

type webhookPayload struct {
	ExternalReference string `json:"external_reference" validate:"required"`
	EventType         string `json:"event_type" validate:"required,oneof=started progress succeeded failed"`
	Progress          int    `json:"progress" validate:"min=0,max=100"`
	ErrorCode         string `json:"error_code"`
}

// Receive handles push notifications from the translation service. The
// contract with the sender is acknowledge-always: malformed payloads and
// unknown references are logged and dropped with a 200 so the service does
// not keep redelivering them.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.WithError(err).Warn("undecodable webhook payload dropped")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err := validate.Struct(payload); err != nil {
		h.log.WithError(err).WithField("external_reference", payload.ExternalReference).
			Warn("invalid webhook payload dropped")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	sig := entity.TranslationSignal{
		ExternalReference: payload.ExternalReference,
		Type:              entity.SignalType(payload.EventType),
		Progress:          payload.Progress,
		ErrorCode:         payload.ErrorCode,
		Source:            "webhook",
	}
	if err := h.Reconciler.Apply(c.Request.Context(), sig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
