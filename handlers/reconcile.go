package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/sirupsen/logrus"
)

func (h *Handler) reconcile(c *gin.Context) {
	result, err := h.reconciler.Reconcile(c.Request.Context(), h.now())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// pubsubReconcile consumes reconcile requests from a push subscription. Malformed messages are
// acked so they are not redelivered forever; processing failures return 500 so Pub/Sub retries.
func (h *Handler) pubsubReconcile(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(h.logger, "reconcile.go", "pubsubReconcile", "io.ReadAll", nil, err)
		c.Status(http.StatusNoContent)
		return
	}
	var envelope config.PushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		config.LogError(h.logger, "reconcile.go", "pubsubReconcile", "Unmarshal body", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}
	var req config.ReconcileRequest
	if err := json.Unmarshal(envelope.Message.Data, &req); err != nil {
		config.LogError(h.logger, "reconcile.go", "pubsubReconcile", "Unmarshal message", string(envelope.Message.Data), err)
		c.Status(http.StatusNoContent)
		return
	}

	correlationID := req.CorrelationId
	if correlationID == "" {
		correlationID = envelope.Message.ID
	}
	ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
	logger := h.logger.WithFields(logrus.Fields{
		"field":          "pubsubReconcile",
		"reason":         req.Reason,
		"account_no":     req.AccountNo,
		"message_id":     envelope.Message.ID,
		"correlation_id": correlationID,
	})

	if req.AccountNo != "" {
		if _, err := h.reconciler.ReconcileMember(ctx, req.AccountNo, h.now()); err != nil {
			logger.Error("member reconciliation failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	var runErr error
	if h.scheduler != nil {
		_, runErr = h.scheduler.RunOnce(ctx)
	} else {
		_, runErr = h.reconciler.Reconcile(ctx, h.now())
	}
	if err := runErr; err != nil {
		logger.Error("reconciliation failed: " + err.Error())
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}
