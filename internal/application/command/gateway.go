// Package command dispatches commands to their handlers through a chain of
// interceptors.
package command

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// MetadataTenantID is the metadata key naming the tenant a command runs for
const MetadataTenantID = "tenantId"

// ErrNoHandler is returned when no handler is registered for a command
var ErrNoHandler = shared.NewDomainError("NOT_FOUND", "no handler registered for command")

// Command is a request to change state
type Command struct {
	Name     string
	Payload  any
	Metadata map[string]string
}

// New creates a command named name
func New(name string, payload any) *Command {
	return &Command{Name: name, Payload: payload, Metadata: map[string]string{}}
}

// WithMetadata returns a copy of c with key set to value
func (c *Command) WithMetadata(key, value string) *Command {
	md := make(map[string]string, len(c.Metadata)+1)
	maps.Copy(md, c.Metadata)
	md[key] = value
	return &Command{Name: c.Name, Payload: c.Payload, Metadata: md}
}

// WithTenant returns a copy of c addressed to tenantID
func (c *Command) WithTenant(tenantID string) *Command {
	return c.WithMetadata(MetadataTenantID, tenantID)
}

// Handler handles one kind of command
type Handler interface {
	Handle(ctx context.Context, cmd *Command) (any, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, cmd *Command) (any, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, cmd *Command) (any, error) {
	return f(ctx, cmd)
}

// Typed adapts a function taking the payload type P. Commands carrying
// another payload type fail with shared.ErrInvalidInput.
func Typed[P any](fn func(ctx context.Context, payload P) (any, error)) Handler {
	return HandlerFunc(func(ctx context.Context, cmd *Command) (any, error) {
		p, ok := cmd.Payload.(P)
		if !ok {
			var want P
			return nil, shared.NewDomainError(shared.ErrInvalidInput.Code,
				fmt.Sprintf("command %s: payload %T, want %T", cmd.Name, cmd.Payload, want))
		}
		return fn(ctx, p)
	})
}

// Interceptor wraps the dispatch of a command. It either calls next or
// returns without running the handler.
type Interceptor func(ctx context.Context, cmd *Command, next Handler) (any, error)

// Option configures a Gateway
type Option func(*Gateway)

// WithInterceptors appends interceptors. The first one added runs outermost.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(g *Gateway) { g.interceptors = append(g.interceptors, interceptors...) }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// Gateway routes commands by name
type Gateway struct {
	mu           sync.RWMutex
	handlers     map[string]Handler
	interceptors []Interceptor
	logger       *zap.Logger
}

// NewGateway creates a gateway with no handlers
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		handlers: make(map[string]Handler),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logger.Component(g.logger, "command_gateway")
	return g
}

// Register routes commands named name to handler. A name has at most one handler.
func (g *Gateway) Register(name string, handler Handler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.handlers[name]; exists {
		return fmt.Errorf("command %s already has a handler", name)
	}
	g.handlers[name] = handler
	return nil
}

// Dispatch runs cmd through the interceptors and its handler
func (g *Gateway) Dispatch(ctx context.Context, cmd *Command) (any, error) {
	g.mu.RLock()
	handler, ok := g.handlers[cmd.Name]
	g.mu.RUnlock()
	if !ok {
		return nil, shared.NewDomainError(ErrNoHandler.Code, fmt.Sprintf("no handler registered for command %s", cmd.Name))
	}

	start := time.Now()
	result, err := g.chain(handler).Handle(ctx, cmd)

	log := logger.For(ctx, g.logger)
	if err != nil {
		log.Warn("command failed",
			zap.String("command", cmd.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	log.Debug("command handled",
		zap.String("command", cmd.Name),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (g *Gateway) chain(handler Handler) Handler {
	for i := len(g.interceptors) - 1; i >= 0; i-- {
		interceptor, next := g.interceptors[i], handler
		handler = HandlerFunc(func(ctx context.Context, cmd *Command) (any, error) {
			return interceptor(ctx, cmd, next)
		})
	}
	return handler
}
