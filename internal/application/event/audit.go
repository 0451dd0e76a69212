// Package event holds application level consumers of the tracked event streams.
package event

import (
	"context"
	"sync"

	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// AuditLog writes one structured log entry per tracked event and keeps the
// last position it saw for every tenant.
type AuditLog struct {
	logger *zap.Logger

	mu   sync.RWMutex
	last map[string]int64
}

// NewAuditLog creates an audit log writing to l
func NewAuditLog(l *zap.Logger) *AuditLog {
	if l == nil {
		l = zap.NewNop()
	}
	return &AuditLog{
		logger: logger.Component(l, "audit"),
		last:   make(map[string]int64),
	}
}

// Handle logs msg. The tenant comes from ctx.
func (a *AuditLog) Handle(ctx context.Context, msg *eventstore.TrackedEventMessage) error {
	logger.For(ctx, a.logger).Info("event recorded",
		zap.String("event_id", msg.Identifier()),
		zap.String("event_type", msg.PayloadType()),
		zap.String("aggregate_type", msg.AggregateType()),
		zap.String("aggregate_id", msg.AggregateIdentifier()),
		zap.Int64("sequence_number", msg.SequenceNumber()),
		zap.Int64("global_sequence", msg.Token().GlobalSequence),
	)

	tenantID := logger.GetTenantID(ctx)
	a.mu.Lock()
	a.last[tenantID] = msg.Token().GlobalSequence
	a.mu.Unlock()
	return nil
}

// LastPosition returns the global sequence of the last event seen for tenantID
func (a *AuditLog) LastPosition(tenantID string) (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos, ok := a.last[tenantID]
	return pos, ok
}
