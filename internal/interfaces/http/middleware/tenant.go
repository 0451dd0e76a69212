// Package middleware provides the gin middleware of the event store HTTP surface.
package middleware

import (
	"errors"
	"regexp"
	"strings"

	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/infrastructure/tenant"
	"github.com/eaf/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// TenantIDKey is the gin.Context key holding the bound tenant
	TenantIDKey = "tenant_id"
	// TenantHeaderKey is the header carrying the tenant of a request
	TenantHeaderKey = "X-Tenant-ID"
	// MaxTenantIDLength matches the width of the tenant_id columns
	MaxTenantIDLength = 64
)

// tenantIDPattern also keeps tenant IDs usable as a NATS subject token
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ErrInvalidTenantID is returned by ValidateTenantID
var ErrInvalidTenantID = errors.New("tenant ID must be 1-64 letters, digits, '-' or '_'")

// TenantMiddlewareConfig holds configuration for tenant middleware
type TenantMiddlewareConfig struct {
	// SkipPaths are paths that don't require tenant context (e.g., health check)
	SkipPaths []string
	// Required rejects requests without a tenant
	Required bool
	Logger   *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		SkipPaths: []string{"/health", "/ready", "/metrics"},
		Required:  true,
	}
}

// TenantMiddleware binds the X-Tenant-ID header to the request context
func TenantMiddleware() gin.HandlerFunc {
	return TenantMiddlewareWithConfig(DefaultTenantConfig())
}

// OptionalTenantMiddleware binds the tenant when one is sent
func OptionalTenantMiddleware() gin.HandlerFunc {
	cfg := DefaultTenantConfig()
	cfg.Required = false
	return TenantMiddlewareWithConfig(cfg)
}

// TenantMiddlewareWithConfig returns tenant middleware with custom configuration.
// The tenant is bound with the tenant package, so the storage engine and
// every log line of the request see it.
func TenantMiddlewareWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
				c.Next()
				return
			}
		}

		tenantID := strings.TrimSpace(c.GetHeader(TenantHeaderKey))
		if tenantID == "" {
			if cfg.Required {
				abort(c, dto.ErrCodeTenantRequired, "Tenant identification required")
				return
			}
			c.Next()
			return
		}

		if err := ValidateTenantID(tenantID); err != nil {
			abort(c, dto.ErrCodeTenantInvalid, err.Error())
			return
		}

		ctx, err := tenant.WithTenantID(c.Request.Context(), tenantID)
		if err != nil {
			abort(c, dto.ErrCodeTenantInvalid, err.Error())
			return
		}
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("tenant_id", tenantID)))
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("tenant_id", tenantID))

		c.Set(TenantIDKey, tenantID)
		c.Request = c.Request.WithContext(ctx)

		cfg.Logger.Debug("Tenant identified", zap.String("tenant_id", tenantID))
		c.Next()
	}
}

// ValidateTenantID checks the length and charset of a tenant ID
func ValidateTenantID(tenantID string) error {
	if len(tenantID) > MaxTenantIDLength || !tenantIDPattern.MatchString(tenantID) {
		return ErrInvalidTenantID
	}
	return nil
}

func abort(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(dto.GetHTTPStatus(code),
		dto.NewErrorResponseWithRequestID(code, message, logger.GetRequestID(c.Request.Context())))
}

// GetTenantID retrieves the tenant ID from gin.Context
func GetTenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}

// MustGetTenantID retrieves the tenant ID from gin.Context or panics if not found.
// Use this only behind a required TenantMiddleware.
func MustGetTenantID(c *gin.Context) string {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		panic("tenant_id not found in context")
	}
	return tenantID
}
