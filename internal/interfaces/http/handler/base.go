// Package handler implements the HTTP handlers of the event store.
package handler

import (
	"errors"
	"net/http"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID returns the request ID bound by logger.GinMiddleware, falling back to the header
func getRequestID(c *gin.Context) string {
	if id := logger.GetRequestID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetHeader(logger.RequestIDHeader)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a page of events
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, count int, nextToken int64) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, count, nextToken))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response, deriving the status code from the error code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	code = dto.NormalizeErrorCode(code)
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// HandleError converts domain and storage errors to HTTP responses.
// Storage failures other than conflicts are logged and answered without their cause.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.Error(c, domainErr.Code, domainErr.Message)
		return
	}

	var classified domain.Classified
	if errors.As(err, &classified) {
		kind := classified.ErrorKind()
		switch kind {
		case domain.KindConcurrencyConflict, domain.KindDataIntegrity, domain.KindTenantContextMissing:
			h.Error(c, dto.CodeForKind(kind), err.Error())
		default:
			logger.FromContext(c.Request.Context()).Error("event store request failed",
				zap.String("kind", kind.String()),
				zap.Error(err),
			)
			h.Error(c, dto.CodeForKind(kind), "The event store could not complete the request")
		}
		return
	}

	logger.FromContext(c.Request.Context()).Error("request failed", zap.Error(err))
	h.Error(c, dto.ErrCodeInternal, "An unexpected error occurred")
}
