// Package router assembles the gin engine of the event store.
package router

import (
	"fmt"

	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/interfaces/http/handler"
	"github.com/eaf/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithAPIMiddleware adds middleware to the versioned API group only
func WithAPIMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/"+r.apiVersion, r.middleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// Config holds what the HTTP surface is built from
type Config struct {
	Logger         *zap.Logger
	ServiceName    string
	TracerProvider trace.TracerProvider // nil disables tracing
	Meter          metric.Meter         // nil disables HTTP metrics
	TrustedProxies []string
	Health         *handler.HealthHandler
	Registrars     []RouteRegistrar
}

// New builds the gin engine: recovery, request logging, tracing and metrics
// for every route, health probes at the root, and the tenant scoped API
// under /api/v1.
func New(cfg Config) (*gin.Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	engine.Use(
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName:    cfg.ServiceName,
			Enabled:        cfg.TracerProvider != nil,
			TracerProvider: cfg.TracerProvider,
		}),
		logger.Recovery(cfg.Logger),
		logger.GinMiddleware(cfg.Logger),
		middleware.SpanAttributes(),
		middleware.HTTPMetrics(cfg.Meter),
	)

	health := cfg.Health
	if health == nil {
		health = handler.NewHealthHandler()
	}
	health.RegisterRoutes(engine)

	r := NewRouter(engine, WithAPIMiddleware(middleware.TenantMiddlewareWithConfig(middleware.TenantMiddlewareConfig{
		Required: true,
		Logger:   logger.Component(cfg.Logger, "tenant"),
	})))
	for _, registrar := range cfg.Registrars {
		r.Register(registrar)
	}
	r.Setup()
	return engine, nil
}
