// Package handlers contains the HTTP handlers for the payment service.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/fitstack/membership-payments/internal/core/service"
	"github.com/fitstack/membership-payments/internal/platform/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxCallbackBody caps how much of a callback body is read.
const maxCallbackBody = 1 << 20

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	service *service.PaymentService
	logger  *zap.Logger
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(svc *service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: svc, logger: logger}
}

// CreatePayment handles POST /payment
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req domain.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if fields := FormatValidationError(err); fields != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "validation failed",
				"code":    "VALIDATION_ERROR",
				"fields":  fields,
			})
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}

	response, err := h.service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleCallback handles POST /payment/callback
// The gateway treats anything but HTTP 200 as a reason to retry, so every
// outcome is reported in the ack body.
func (h *PaymentHandler) HandleCallback(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		logging.Warn(ctx, h.logger, "read callback body failed", zap.Error(err))
		c.JSON(http.StatusOK, domain.NewAck(domain.AckRetry, domain.AckMessageInternalError))
		return
	}

	var env domain.CallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		logging.Warn(ctx, h.logger, "malformed callback envelope", zap.Error(err))
		c.JSON(http.StatusOK, domain.NewAck(domain.AckReject, domain.AckMessageInvalidData))
		return
	}

	c.JSON(http.StatusOK, h.service.HandleCallback(ctx, env))
}

// GetStatus handles GET /payment/status/:orderId
// With ?live=true the gateway's own view of the order is attached.
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	live, _ := strconv.ParseBool(c.Query("live"))

	response, err := h.service.QueryStatus(c.Request.Context(), c.Param("orderId"), live)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Reconcile handles POST /payment/reconcile/:orderId
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	response, err := h.service.Reconcile(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Health handles GET /health
func (h *PaymentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "membership-payments",
		"version": "1.0.0",
	})
}

func (h *PaymentHandler) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrStatusConflict):
		status, code = http.StatusConflict, "STATUS_CONFLICT"
	case errors.Is(err, domain.ErrGateway):
		status, code = http.StatusBadGateway, "GATEWAY_ERROR"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.Error(c.Request.Context(), h.logger, "request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		message = "Internal server error"
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
