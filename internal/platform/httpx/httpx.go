// Package httpx holds the JSON envelope, error mapping and identity
// middleware shared by every handler.
package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
)

const (
	HeaderVendorID = "X-Vendor-ID"
	HeaderAdminID  = "X-Admin-ID"

	vendorKey = "vendor_id"
	adminKey  = "admin_id"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Envelope is the response body of every endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK writes a success envelope.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 success envelope.
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Fail maps err onto a status code and writes a failure envelope. Unknown
// errors are reported as 500 with a generic message.
func Fail(c *gin.Context, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
		span.RecordError(err)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, err.Error())
		}
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Envelope{Success: false, Message: message})
}

// BadRequest writes a 400 for binding failures.
func BadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Envelope{Success: false, Message: err.Error()})
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrInsufficientStock),
		errors.Is(err, apperr.ErrInsufficientBalance),
		errors.Is(err, apperr.ErrMissingBankingDetails):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RequireVendor rejects requests without a vendor identity.
func RequireVendor() gin.HandlerFunc {
	return requireHeader(HeaderVendorID, vendorKey)
}

// RequireAdmin rejects requests without an admin identity.
func RequireAdmin() gin.HandlerFunc {
	return requireHeader(HeaderAdminID, adminKey)
}

func requireHeader(header, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(header))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{Success: false, Message: "missing " + header + " header"})
			return
		}
		c.Set(key, id)
		c.Next()
	}
}

// VendorID returns the identity set by RequireVendor.
func VendorID(c *gin.Context) string {
	return c.GetString(vendorKey)
}

// AdminID returns the identity set by RequireAdmin.
func AdminID(c *gin.Context) string {
	return c.GetString(adminKey)
}

// Pagination reads page and limit query parameters.
func Pagination(c *gin.Context) (page, limit int, err error) {
	page, limit = 1, DefaultPageLimit

	if raw := c.Query("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, apperr.Validation("page must be a positive integer")
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, apperr.Validation("limit must be a positive integer")
		}
		if limit > MaxPageLimit {
			limit = MaxPageLimit
		}
	}
	return page, limit, nil
}
