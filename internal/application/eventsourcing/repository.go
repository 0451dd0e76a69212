// Package eventsourcing loads and saves event-sourced aggregates through the
// tenant scoped storage engine.
package eventsourcing

import (
	"context"
	"fmt"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is how often Update runs when every attempt conflicts
const DefaultMaxAttempts = 3

// EventStore is the part of the storage engine a repository needs
type EventStore interface {
	AppendEvents(ctx context.Context, messages ...eventstore.EventMessage) error
	ReadEvents(ctx context.Context, aggregateID string, firstSequenceNumber int64) (*eventstore.DomainEventStream, error)
	StoreSnapshot(ctx context.Context, msg *eventstore.DomainEventMessage) error
	ReadSnapshot(ctx context.Context, aggregateID string) (*eventstore.DomainEventMessage, bool)
}

// Factory returns an empty aggregate with the given id, ready to be rebuilt
type Factory[A shared.AggregateRoot] func(id string) A

// Option configures a Repository
type Option func(*options)

type options struct {
	snapshotThreshold int
	maxAttempts       int
	logger            *zap.Logger
}

// WithSnapshotThreshold stores a snapshot every n events. Zero disables snapshots.
func WithSnapshotThreshold(n int) Option {
	return func(o *options) { o.snapshotThreshold = n }
}

// WithMaxAttempts bounds the attempts of Update
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Repository loads aggregates from their latest snapshot plus the events
// after it, and saves them by appending their pending events.
type Repository[A shared.AggregateRoot] struct {
	store   EventStore
	factory Factory[A]
	opts    options
}

// NewRepository creates a repository for the aggregates built by factory
func NewRepository[A shared.AggregateRoot](store EventStore, factory Factory[A], opts ...Option) *Repository[A] {
	o := options{maxAttempts: DefaultMaxAttempts, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	o.logger = logger.Component(o.logger, "aggregate_repository")
	return &Repository[A]{store: store, factory: factory, opts: o}
}

// Load rebuilds the aggregate with the given id. An aggregate without events
// fails with shared.ErrNotFound.
func (r *Repository[A]) Load(ctx context.Context, id string) (A, error) {
	var zero A
	agg, first := r.restore(ctx, id)

	stream, err := r.store.ReadEvents(ctx, id, first)
	if err != nil {
		return zero, err
	}
	for msg := range stream.All() {
		if err := agg.Apply(msg.Payload()); err != nil {
			return zero, fmt.Errorf("replaying %s %s at %d: %w", agg.AggregateType(), id, msg.SequenceNumber(), err)
		}
		agg.Replayed(msg.SequenceNumber())
	}

	if agg.Version() == shared.NoVersion {
		return zero, shared.NewDomainError(shared.ErrNotFound.Code, fmt.Sprintf("%s %s not found", agg.AggregateType(), id))
	}
	return agg, nil
}

// restore applies the latest snapshot and returns the first sequence number
// still to replay. An unusable snapshot is ignored and the aggregate is
// replayed from its first event.
func (r *Repository[A]) restore(ctx context.Context, id string) (A, int64) {
	agg := r.factory(id)
	s, ok := any(agg).(shared.Snapshotter)
	if !ok || r.opts.snapshotThreshold <= 0 {
		return agg, 0
	}
	snap, found := r.store.ReadSnapshot(ctx, id)
	if !found {
		return agg, 0
	}
	if err := s.RestoreSnapshot(snap.Payload(), snap.SequenceNumber()); err != nil {
		logger.For(ctx, r.opts.logger).Warn("ignoring unusable snapshot",
			zap.String("aggregate_id", id),
			zap.Int64("sequence_number", snap.SequenceNumber()),
			zap.Error(err),
		)
		return r.factory(id), 0
	}
	return agg, snap.SequenceNumber() + 1
}

// Save appends the pending events of agg, numbered after its version.
// Engine errors are returned unchanged, so conflicts stay retryable.
func (r *Repository[A]) Save(ctx context.Context, agg A) error {
	pending := agg.PendingEvents()
	if len(pending) == 0 {
		return nil
	}

	base := agg.Version()
	var md eventstore.Metadata
	if requestID := logger.GetRequestID(ctx); requestID != "" {
		md = eventstore.Metadata{eventstore.MetadataCorrelationID: requestID}
	}
	messages := make([]eventstore.EventMessage, len(pending))
	for i, payload := range pending {
		messages[i] = eventstore.NewDomainEventMessage(agg.AggregateType(), agg.AggregateID(),
			base+1+int64(i), payload, eventstore.WithMetadata(md))
	}

	if err := r.store.AppendEvents(ctx, messages...); err != nil {
		return err
	}

	head := base + int64(len(pending))
	agg.MarkCommitted(head)
	r.maybeSnapshot(ctx, agg, base, head)
	return nil
}

// maybeSnapshot stores a snapshot when the save crossed a multiple of the
// threshold. Failures are logged: the events are already committed.
func (r *Repository[A]) maybeSnapshot(ctx context.Context, agg A, base, head int64) {
	threshold := int64(r.opts.snapshotThreshold)
	if threshold <= 0 || (base+1)/threshold == (head+1)/threshold {
		return
	}
	s, ok := any(agg).(shared.Snapshotter)
	if !ok {
		return
	}

	log := logger.For(ctx, r.opts.logger).With(
		zap.String("aggregate_id", agg.AggregateID()),
		zap.Int64("sequence_number", head),
	)
	state, err := s.SnapshotState()
	if err != nil {
		log.Warn("capturing snapshot failed", zap.Error(err))
		return
	}
	msg := eventstore.NewDomainEventMessage(agg.AggregateType(), agg.AggregateID(), head, state)
	if err := r.store.StoreSnapshot(ctx, msg); err != nil {
		log.Warn("storing snapshot failed", zap.Error(err))
		return
	}
	log.Debug("snapshot stored")
}

// Update loads the aggregate, applies fn and saves it. The whole cycle is
// retried on retryable errors such as concurrency conflicts.
func (r *Repository[A]) Update(ctx context.Context, id string, fn func(A) error) (A, error) {
	var zero A
	var lastErr error
	for attempt := 1; attempt <= r.opts.maxAttempts; attempt++ {
		agg, err := r.Load(ctx, id)
		if err != nil {
			return zero, err
		}
		if err := fn(agg); err != nil {
			return zero, err
		}
		lastErr = r.Save(ctx, agg)
		if lastErr == nil {
			return agg, nil
		}
		if !domain.IsRetryable(lastErr) || ctx.Err() != nil {
			return zero, lastErr
		}
		logger.For(ctx, r.opts.logger).Info("retrying after conflict",
			zap.String("aggregate_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return zero, lastErr
}
