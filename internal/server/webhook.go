package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	webhookProvider     = "mercadopago"
	maxWebhookBodyBytes = 1 << 20
)

type webhookNotification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// HandlePaymentWebhook acknowledges every gateway notification with 200 and
// hands payment notifications to the reconcile queue. Reconciliation errors
// never reach the gateway.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	allowed, err := s.webhookLimiter.Allow(ctx, webhookProvider)
	if err != nil {
		s.log.Warn("webhook rate limit check failed", zap.Error(err))
	}
	if !allowed {
		s.log.Warn("webhook delivery throttled")
		s.ack(c, "throttled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		s.log.Warn("webhook body unreadable", zap.Error(err))
		s.ack(c, "ignored")
		return
	}

	kind, paymentID := parseWebhook(body, c)
	if kind != "payment" {
		s.log.Info("webhook ignored", zap.String("type", kind))
		s.ack(c, "ignored")
		return
	}
	if paymentID == "" {
		s.log.Warn("payment webhook without id", zap.ByteString("body", truncate(body, 512)))
		s.ack(c, "ignored")
		return
	}

	if !s.webhookQueue.Enqueue(paymentID) {
		s.log.Warn("webhook queue full, delivery dropped", zap.String("payment_id", paymentID))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	s.log.Info("payment webhook queued", zap.String("payment_id", paymentID))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ack(c *gin.Context, outcome string) {
	s.obsMetrics.RecordWebhookDelivery(c.Request.Context(), webhookProvider, outcome)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseWebhook reads the notification type and payment id from the JSON
// body, falling back to the query string the gateway also uses.
func parseWebhook(body []byte, c *gin.Context) (string, string) {
	var payload webhookNotification
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = webhookNotification{}
		}
	}

	kind := strings.ToLower(strings.TrimSpace(payload.Type))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(c.Query("type")))
	}
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(c.Query("topic")))
	}

	id := rawID(payload.Data.ID)
	if id == "" {
		id = strings.TrimSpace(c.Query("data.id"))
	}
	if id == "" {
		id = strings.TrimSpace(c.Query("id"))
	}
	return kind, id
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
