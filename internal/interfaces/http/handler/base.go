// Package handler implements the HTTP handlers of the sync trigger API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/infrastructure/scheduler"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/erp/ordersync/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 for work queued in the background
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// List sends a success response with the item count
func (h *BaseHandler) List(c *gin.Context, data any, total, limit int) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, int64(total), limit))
}

// Error sends an error response, deriving the status from the code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// ValidationError writes a binding or validation failure
func (h *BaseHandler) ValidationError(c *gin.Context, err error) {
	middleware.HandleValidationError(c, err)
}

// errorMapping is checked in order; the first match wins.
var errorMapping = []struct {
	target error
	code   string
}{
	{ordersync.ErrSyncInProgress, dto.ErrCodeSyncInProgress},
	{ordersync.ErrTokenUnavailable, dto.ErrCodeUpstreamUnavailable},
	{ordersync.ErrOrderNotFound, dto.ErrCodeNotFound},
	{ordersync.ErrSummaryNotFound, dto.ErrCodeNotFound},
	{ordersync.ErrInvalidAccount, dto.ErrCodeValidation},
	{ordersync.ErrInvalidOrderNbr, dto.ErrCodeValidation},
	{ordersync.ErrUpstreamNotConfigured, dto.ErrCodeUpstreamUnavailable},
	{ordersync.ErrTransientUpstream, dto.ErrCodeUpstream},
	{ordersync.ErrOversizedRequest, dto.ErrCodeUpstream},
	{ordersync.ErrPermanentUpstream, dto.ErrCodeUpstream},
	{ordersync.ErrMalformedResponse, dto.ErrCodeUpstream},
	{scheduler.ErrJobQueueFull, dto.ErrCodeQueueFull},
	{scheduler.ErrSchedulerNotRunning, dto.ErrCodeSchedulerDisabled},
}

// ErrorCode maps an error onto its API error code.
func ErrorCode(err error) string {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return dto.ErrCodeInternal
}

// HandleError writes err as an error response. Internal errors are logged
// and their message is not exposed.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.HandleErrorWithData(c, err, nil)
}

// HandleErrorWithData is HandleError carrying a partial result in data.
func (h *BaseHandler) HandleErrorWithData(c *gin.Context, err error, data any) {
	if err == nil {
		return
	}

	code := ErrorCode(err)
	message := err.Error()
	if code == dto.ErrCodeInternal {
		logger.FromContext(c.Request.Context()).Error("Request failed", zap.Error(err))
		message = "An unexpected error occurred"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "The request timed out"
		}
	}

	resp := dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c))
	resp.Data = data
	c.JSON(dto.GetHTTPStatus(code), resp)
}
