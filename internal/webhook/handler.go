package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler is the gin handler for the platform's webhook endpoint. It
// reads the raw body (required to compute the HMAC), verifies the
// signature, parses the event, and dispatches it.
type Handler struct {
	dispatcher *Dispatcher
	secret     string
	logger     *zap.SugaredLogger
}

func NewHandler(dispatcher *Dispatcher, secret string, logger *zap.SugaredLogger) *Handler {
	return &Handler{dispatcher: dispatcher, secret: secret, logger: logger}
}

// Receive handles POST /webhooks/platform.
func (h *Handler) Receive(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot read body"})
		return
	}

	if h.secret == "" {
		h.logger.Warnw("PLATFORM_WEBHOOK_SECRET is empty; bypassing signature verification (development mode only)")
	} else {
		sig := c.GetHeader(signatureHeader)
		if !VerifySignature(h.secret, sig, rawBody) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature mismatch"})
			return
		}
	}

	var env Envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "malformed payload"})
		return
	}

	eventName := c.GetHeader("X-Event-Name")
	deliveryID := c.GetHeader("X-Delivery-Id")

	if err := h.dispatcher.Dispatch(c.Request.Context(), eventName, env); err != nil {
		h.logger.Errorw("webhook dispatch failed", "event", eventName, "action", env.Action, "delivery_id", deliveryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes wires the webhook endpoint and the health check onto r.
func RegisterRoutes(r *gin.Engine, h *Handler, healthCheck gin.HandlerFunc) {
	r.POST("/webhooks/platform", h.Receive)
	r.GET("/health", healthCheck)
}
