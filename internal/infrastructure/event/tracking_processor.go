package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/infrastructure/telemetry"
	"github.com/eaf/backend/internal/infrastructure/tenant"
	"go.uber.org/zap"
)

// EventHandler handles the tracked events of one tenant. The tenant is bound to ctx.
type EventHandler interface {
	Handle(ctx context.Context, msg *eventstore.TrackedEventMessage) error
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(ctx context.Context, msg *eventstore.TrackedEventMessage) error

// Handle implements EventHandler
func (f EventHandlerFunc) Handle(ctx context.Context, msg *eventstore.TrackedEventMessage) error {
	return f(ctx, msg)
}

// TrackedEventSource is the part of the storage engine a processor reads from
type TrackedEventSource interface {
	ReadTrackedEvents(ctx context.Context, token *domain.GlobalSequenceTrackingToken, mayBlock bool) (*eventstore.TrackingEventStream, error)
}

// TrackingProcessorConfig holds configuration for a tracking processor
type TrackingProcessorConfig struct {
	PollInterval time.Duration
	Tenants      []string
}

// DefaultTrackingProcessorConfig returns default configuration
func DefaultTrackingProcessorConfig() TrackingProcessorConfig {
	return TrackingProcessorConfig{
		PollInterval: 5 * time.Second,
	}
}

// TrackingProcessor follows the event streams of a set of tenants and
// dispatches every event to its handlers, in global sequence order.
//
// The position of each tenant is kept in a TokenStore after every batch.
// A failing handler stops the pass at the failing event; the next pass
// retries it.
type TrackingProcessor struct {
	name    string
	source  TrackedEventSource
	tokens  domain.TokenStore
	config  TrackingProcessorConfig
	logger  *zap.Logger
	metrics *telemetry.EventStoreMetrics

	mu       sync.RWMutex
	handlers map[string][]EventHandler
	wildcard []EventHandler
	wake     map[string]chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ProcessorOption configures a TrackingProcessor
type ProcessorOption func(*TrackingProcessor)

// WithProcessorLogger sets the logger
func WithProcessorLogger(l *zap.Logger) ProcessorOption {
	return func(p *TrackingProcessor) { p.logger = l }
}

// WithProcessorMetrics sets the metrics recorder
func WithProcessorMetrics(m *telemetry.EventStoreMetrics) ProcessorOption {
	return func(p *TrackingProcessor) { p.metrics = m }
}

// NewTrackingProcessor creates a processor named name. The name keys its tokens.
func NewTrackingProcessor(name string, source TrackedEventSource, tokens domain.TokenStore, config TrackingProcessorConfig, opts ...ProcessorOption) *TrackingProcessor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultTrackingProcessorConfig().PollInterval
	}
	p := &TrackingProcessor{
		name:     name,
		source:   source,
		tokens:   tokens,
		config:   config,
		logger:   zap.NewNop(),
		handlers: make(map[string][]EventHandler),
		wake:     make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.Component(p.logger, "tracking_processor").With(zap.String("processor", name))
	return p
}

// Name returns the processor name
func (p *TrackingProcessor) Name() string {
	return p.name
}

// Subscribe registers a handler for the given event types, or for every event when none is given
func (p *TrackingProcessor) Subscribe(handler EventHandler, eventTypes ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(eventTypes) == 0 {
		p.wildcard = append(p.wildcard, handler)
		return
	}
	for _, et := range eventTypes {
		p.handlers[et] = append(p.handlers[et], handler)
	}
}

// Start starts one background loop per configured tenant
func (p *TrackingProcessor) Start(ctx context.Context) error {
	if len(p.config.Tenants) == 0 {
		return errors.New("tracking processor requires at least one tenant")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.mu.Lock()
	for _, tenantID := range p.config.Tenants {
		p.wake[tenantID] = make(chan struct{}, 1)
	}
	p.mu.Unlock()

	for _, tenantID := range p.config.Tenants {
		p.wg.Add(1)
		go p.processLoop(ctx, tenantID, p.wakeChannel(tenantID))
	}

	p.logger.Info("tracking processor started",
		zap.Strings("tenants", p.config.Tenants),
		zap.Duration("poll_interval", p.config.PollInterval),
	)
	return nil
}

// Stop gracefully stops the processor
func (p *TrackingProcessor) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("tracking processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wake triggers an immediate pass for tenantID. Unknown tenants are ignored.
func (p *TrackingProcessor) Wake(tenantID string) {
	ch := p.wakeChannel(tenantID)
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// OnAppend wakes the tenant of a notification. It can be passed to NATSSubscriber.Subscribe.
func (p *TrackingProcessor) OnAppend(n AppendNotification) {
	p.Wake(n.TenantID)
}

func (p *TrackingProcessor) wakeChannel(tenantID string) chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.wake[tenantID]
}

func (p *TrackingProcessor) processLoop(ctx context.Context, tenantID string, wake <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.runPass(ctx, tenantID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runPass(ctx, tenantID)
		case <-wake:
			p.runPass(ctx, tenantID)
		}
	}
}

func (p *TrackingProcessor) runPass(ctx context.Context, tenantID string) {
	if _, err := p.ProcessTenant(ctx, tenantID); err != nil && ctx.Err() == nil {
		p.logger.Error("tracking pass failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
}

// ProcessTenant catches up with the stream of tenantID and returns the
// number of events handled. The token of the last handled event is stored
// even when a later handler fails.
func (p *TrackingProcessor) ProcessTenant(ctx context.Context, tenantID string) (int, error) {
	ctx, err := tenant.WithTenantID(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	token, _, err := p.tokens.Load(ctx, p.name, tenantID)
	if err != nil {
		return 0, fmt.Errorf("processor %s: load token: %w", p.name, err)
	}

	handled := 0
	for ctx.Err() == nil {
		stream, err := p.source.ReadTrackedEvents(ctx, &token, true)
		if err != nil {
			return handled, fmt.Errorf("processor %s: read events: %w", p.name, err)
		}
		if stream.Len() == 0 {
			return handled, nil
		}

		batchStart := token
		batchHandled := 0
		var failure error
		for stream.Next() {
			msg := stream.Message()
			if err := p.dispatch(ctx, msg); err != nil {
				failure = fmt.Errorf("processor %s: handle %s at %s: %w", p.name, msg.PayloadType(), msg.Token(), err)
				break
			}
			token = msg.Token()
			batchHandled++
		}
		_ = stream.Close()

		handled += batchHandled
		if batchHandled > 0 {
			p.metrics.RecordProcessed(ctx, p.name, tenantID, batchHandled)
		}
		if token != batchStart {
			if err := p.tokens.Save(ctx, p.name, tenantID, token); err != nil {
				return handled, fmt.Errorf("processor %s: save token: %w", p.name, err)
			}
		}
		if failure != nil {
			p.metrics.RecordProcessorFailure(ctx, p.name, tenantID)
			return handled, failure
		}
		logger.For(ctx, p.logger).Debug("tracking batch handled",
			zap.Int("count", batchHandled),
			zap.Int64("token", token.GlobalSequence),
		)
	}
	return handled, ctx.Err()
}

func (p *TrackingProcessor) handlersFor(eventType string) []EventHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]EventHandler, 0, len(p.handlers[eventType])+len(p.wildcard))
	out = append(out, p.handlers[eventType]...)
	return append(out, p.wildcard...)
}

// dispatch runs every handler of msg, turning a panic into an error
func (p *TrackingProcessor) dispatch(ctx context.Context, msg *eventstore.TrackedEventMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	for _, h := range p.handlersFor(msg.PayloadType()) {
		if err := h.Handle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
