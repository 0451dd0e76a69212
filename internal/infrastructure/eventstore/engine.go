package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/infrastructure/telemetry"
	"github.com/eaf/backend/internal/infrastructure/tenant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultTrackingBatchSize bounds the number of events returned by one tracking read
const DefaultTrackingBatchSize = 500

// AppendNotifier is told about every successful append
type AppendNotifier interface {
	NotifyAppended(ctx context.Context, tenantID, aggregateID string, lastSequenceNumber int64) error
}

// Engine is the tenant scoped event storage engine. It holds no mutable
// state and is safe for concurrent use.
//
// Every operation reads the tenant from ctx. Append and read operations fail
// with a tenant context error when none is bound; ReadSnapshot and
// CreateHeadToken degrade to "absent" and the initial token instead.
type Engine struct {
	repo              domain.Repository
	mapper            *Mapper
	handler           *ExceptionHandler
	notifier          AppendNotifier
	metrics           *telemetry.EventStoreMetrics
	tracer            trace.Tracer
	logger            *zap.Logger
	trackingBatchSize int
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.EventStoreMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for operation spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithNotifier sets the notifier told about appends
func WithNotifier(n AppendNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithTrackingBatchSize bounds tracking reads. A size <= 0 removes the bound.
func WithTrackingBatchSize(size int) Option {
	return func(e *Engine) { e.trackingBatchSize = size }
}

// NewEngine creates an engine over repo using codec for payloads
func NewEngine(repo domain.Repository, codec PayloadCodec, opts ...Option) *Engine {
	e := &Engine{
		repo:              repo,
		mapper:            NewMapper(codec),
		tracer:            otel.Tracer(telemetry.TracerName),
		logger:            zap.NewNop(),
		trackingBatchSize: DefaultTrackingBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.Component(e.logger, "eventstore")
	e.handler = NewExceptionHandler(e.logger)
	return e
}

// Mapper returns the mapper used by the engine
func (e *Engine) Mapper() *Mapper {
	return e.mapper
}

func (e *Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "eventstore."+op, trace.WithAttributes(attrs...))
}

type aggregateBatch struct {
	aggregateID   string
	aggregateType string
	messages      []*DomainEventMessage
}

// AppendEvents stores the aggregate scoped messages under the bound tenant.
//
// Messages are grouped by aggregate, preserving order; each group is checked
// against the expected version derived from its first sequence number.
// All groups are stored in one transaction, so a failing group stores
// nothing, and subscribers are notified only after the commit. Messages that
// do not belong to an aggregate are skipped.
func (e *Engine) AppendEvents(ctx context.Context, messages ...EventMessage) (err error) {
	const op = "AppendEvents"
	ctx, span := e.startSpan(ctx, op, attribute.Int("event_count", len(messages)))
	defer func() { telemetry.EndSpan(span, err) }()
	defer e.metrics.RecordDuration(ctx, op, time.Now())

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return e.handler.HandleAppend(op, "", len(messages), err)
	}
	span.SetAttributes(telemetry.AttrTenantID.String(tenantID))

	batches := e.groupByAggregate(ctx, tenantID, messages)
	if len(batches) == 0 {
		return nil
	}

	count := 0
	groups := make([]domain.AppendGroup, 0, len(batches))
	for _, b := range batches {
		count += len(b.messages)
	}
	for _, b := range batches {
		g, err := e.prepareBatch(tenantID, b)
		if err != nil {
			return e.appendFailed(ctx, tenantID, b, count, err)
		}
		groups = append(groups, g)
	}

	if err := e.repo.AppendEventGroups(ctx, tenantID, groups); err != nil {
		failed, cause := failedBatch(batches, err)
		return e.appendFailed(ctx, tenantID, failed, count, cause)
	}

	for _, b := range batches {
		e.appended(ctx, tenantID, b)
	}
	return nil
}

// failedBatch finds the batch named by a group error. Failures of the whole
// transaction are attributed to the only batch, or to none.
func failedBatch(batches []*aggregateBatch, err error) (*aggregateBatch, error) {
	var groupErr *domain.AppendGroupError
	if errors.As(err, &groupErr) {
		for _, b := range batches {
			if b.aggregateID == groupErr.AggregateID {
				return b, groupErr.Err
			}
		}
		return nil, groupErr.Err
	}
	if len(batches) == 1 {
		return batches[0], err
	}
	return nil, err
}

func (e *Engine) groupByAggregate(ctx context.Context, tenantID string, messages []EventMessage) []*aggregateBatch {
	var batches []*aggregateBatch
	index := make(map[string]*aggregateBatch)
	for _, m := range messages {
		dm, ok := asDomainMessage(m)
		if !ok {
			e.metrics.RecordSkipped(ctx, tenantID)
			logger.For(ctx, e.logger).Warn("skipping non aggregate event message on append",
				zap.String("payload_type", payloadTypeOf(m)),
			)
			continue
		}
		b, ok := index[dm.AggregateIdentifier()]
		if !ok {
			b = &aggregateBatch{aggregateID: dm.AggregateIdentifier(), aggregateType: dm.AggregateType()}
			index[b.aggregateID] = b
			batches = append(batches, b)
		}
		b.messages = append(b.messages, dm)
	}
	return batches
}

func asDomainMessage(m EventMessage) (*DomainEventMessage, bool) {
	switch dm := m.(type) {
	case *DomainEventMessage:
		return dm, dm != nil
	case *TrackedEventMessage:
		if dm == nil {
			return nil, false
		}
		return dm.DomainEventMessage, dm.DomainEventMessage != nil
	default:
		return nil, false
	}
}

func payloadTypeOf(m EventMessage) string {
	if m == nil {
		return "<nil>"
	}
	return m.PayloadType()
}

func (e *Engine) prepareBatch(tenantID string, b *aggregateBatch) (domain.AppendGroup, error) {
	const op = "AppendEvents"
	if first := b.messages[0].SequenceNumber(); first < 0 {
		return domain.AppendGroup{}, domain.NewRepositoryError(domain.KindDataIntegrity, op,
			fmt.Errorf("aggregate %s: negative sequence number %d", b.aggregateID, first))
	}

	events := make([]domain.PersistedEvent, 0, len(b.messages))
	for i, msg := range b.messages {
		if i > 0 && msg.SequenceNumber() != b.messages[i-1].SequenceNumber()+1 {
			return domain.AppendGroup{}, domain.NewRepositoryError(domain.KindDataIntegrity, op,
				fmt.Errorf("aggregate %s: sequence number %d does not follow %d", b.aggregateID, msg.SequenceNumber(), b.messages[i-1].SequenceNumber()))
		}
		pe, err := e.mapper.ToPersistedEvent(msg, tenantID)
		if err != nil {
			return domain.AppendGroup{}, err
		}
		events = append(events, pe)
	}

	return domain.AppendGroup{
		AggregateID:     b.aggregateID,
		ExpectedVersion: domain.ExpectedVersionFor(b.messages[0].SequenceNumber()),
		Events:          events,
	}, nil
}

func (e *Engine) appended(ctx context.Context, tenantID string, b *aggregateBatch) {
	count := len(b.messages)
	e.metrics.RecordAppended(ctx, tenantID, b.aggregateType, count)
	last := b.messages[count-1].SequenceNumber()
	logger.For(ctx, e.logger).Debug("events appended",
		zap.String("aggregate_id", b.aggregateID),
		zap.Int("count", count),
		zap.Int64("last_sequence_number", last),
	)
	e.notify(ctx, tenantID, b.aggregateID, last)
}

// appendFailed classifies a failed append of count events. b is the batch
// that caused it, nil when no single aggregate did.
func (e *Engine) appendFailed(ctx context.Context, tenantID string, b *aggregateBatch, count int, cause error) error {
	storeErr := e.handler.HandleAppend("AppendEvents", tenantID, count, cause)
	aggregateType := ""
	if b != nil {
		storeErr.AggregateID = b.aggregateID
		aggregateType = b.aggregateType
	}
	if storeErr.Kind == domain.KindConcurrencyConflict {
		e.metrics.RecordConflict(ctx, tenantID, aggregateType)
	} else {
		e.metrics.RecordAppendFailure(ctx, tenantID, "AppendEvents", storeErr.Kind.String())
	}
	return storeErr
}

func (e *Engine) notify(ctx context.Context, tenantID, aggregateID string, last int64) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyAppended(ctx, tenantID, aggregateID, last); err != nil {
		e.metrics.RecordNotifyFailure(ctx, tenantID)
		logger.For(ctx, e.logger).Warn("append notification failed",
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
	}
}

// ReadEvents returns the events of an aggregate with a sequence number >= firstSequenceNumber
func (e *Engine) ReadEvents(ctx context.Context, aggregateID string, firstSequenceNumber int64) (_ *DomainEventStream, err error) {
	const op = "ReadEvents"
	ctx, span := e.startSpan(ctx, op, attribute.String("aggregate_id", aggregateID))
	defer func() { telemetry.EndSpan(span, err) }()
	defer e.metrics.RecordDuration(ctx, op, time.Now())

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, e.handler.HandleRead(op, "", aggregateID, firstSequenceNumber, err)
	}

	events, err := e.repo.GetEvents(ctx, tenantID, aggregateID, firstSequenceNumber)
	if err != nil {
		return nil, e.readFailed(ctx, op, tenantID, aggregateID, firstSequenceNumber, err)
	}
	messages, err := e.mapEvents(events)
	if err != nil {
		return nil, e.readFailed(ctx, op, tenantID, aggregateID, firstSequenceNumber, err)
	}
	e.metrics.RecordRead(ctx, tenantID, op, len(messages))
	return NewDomainEventStream(messages), nil
}

// ReadEventsInRange returns the events of an aggregate with from <= sequence number <= to
func (e *Engine) ReadEventsInRange(ctx context.Context, aggregateID string, from, to int64) (_ *DomainEventStream, err error) {
	const op = "ReadEventsInRange"
	ctx, span := e.startSpan(ctx, op, attribute.String("aggregate_id", aggregateID))
	defer func() { telemetry.EndSpan(span, err) }()

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, e.handler.HandleRead(op, "", aggregateID, from, err)
	}
	if to < from {
		return NewDomainEventStream(nil), nil
	}

	events, err := e.repo.GetEventsInRange(ctx, tenantID, aggregateID, from, to)
	if err != nil {
		return nil, e.readFailed(ctx, op, tenantID, aggregateID, from, err)
	}
	messages, err := e.mapEvents(events)
	if err != nil {
		return nil, e.readFailed(ctx, op, tenantID, aggregateID, from, err)
	}
	e.metrics.RecordRead(ctx, tenantID, op, len(messages))
	return NewDomainEventStream(messages), nil
}

// LastSequenceNumberFor returns the highest sequence number of an aggregate,
// or nil when it has no events
func (e *Engine) LastSequenceNumberFor(ctx context.Context, aggregateID string) (*int64, error) {
	const op = "LastSequenceNumberFor"
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, e.handler.HandleRead(op, "", aggregateID, 0, err)
	}
	v, err := e.repo.GetCurrentVersion(ctx, tenantID, aggregateID)
	if err != nil {
		return nil, e.readFailed(ctx, op, tenantID, aggregateID, 0, err)
	}
	return v, nil
}

func (e *Engine) mapEvents(events []domain.PersistedEvent) ([]*DomainEventMessage, error) {
	messages := make([]*DomainEventMessage, 0, len(events))
	for _, pe := range events {
		msg, err := e.mapper.ToDomainEvent(pe)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (e *Engine) readFailed(ctx context.Context, op, tenantID, aggregateID string, seq int64, cause error) error {
	storeErr := e.handler.HandleRead(op, tenantID, aggregateID, seq, cause)
	e.metrics.RecordReadFailure(ctx, tenantID, op, storeErr.Kind.String())
	return storeErr
}

// ReadTrackedEvents returns the tenant's events after token, in global
// sequence order. A nil token reads from the start of the stream.
//
// The engine runs a single bounded query; mayBlock only tells whether the
// caller is willing to wait, polling for new events is up to the caller.
func (e *Engine) ReadTrackedEvents(ctx context.Context, token *domain.GlobalSequenceTrackingToken, mayBlock bool) (_ *TrackingEventStream, err error) {
	const op = "ReadTrackedEvents"
	start := domain.InitialToken()
	if token != nil {
		start = *token
	}
	ctx, span := e.startSpan(ctx, op,
		attribute.Int64("token.global_sequence", start.GlobalSequence),
		attribute.Bool("may_block", mayBlock),
	)
	defer func() { telemetry.EndSpan(span, err) }()
	defer e.metrics.RecordDuration(ctx, op, time.Now())

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, e.handler.HandleRead(op, "", "", start.GlobalSequence, err)
	}

	events, err := e.repo.ReadEventsFrom(ctx, tenantID, start.GlobalSequence, e.trackingBatchSize)
	if err != nil {
		return nil, e.readFailed(ctx, op, tenantID, "", start.GlobalSequence, err)
	}

	messages := make([]*TrackedEventMessage, 0, len(events))
	for _, pe := range events {
		msg, err := e.mapper.ToTrackedEvent(pe)
		if err != nil {
			return nil, e.readFailed(ctx, op, tenantID, "", start.GlobalSequence, err)
		}
		messages = append(messages, msg)
	}
	e.metrics.RecordRead(ctx, tenantID, op, len(messages))
	return NewTrackingEventStream(start, messages), nil
}

// StoreSnapshot upserts the snapshot carried by msg, whose payload is the aggregate state
func (e *Engine) StoreSnapshot(ctx context.Context, msg *DomainEventMessage) (err error) {
	const op = "StoreSnapshot"
	ctx, span := e.startSpan(ctx, op)
	defer func() { telemetry.EndSpan(span, err) }()

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return e.handler.HandleAppend(op, "", 1, err)
	}
	if msg == nil {
		return e.handler.HandleAppend(op, tenantID, 1, errors.New("snapshot message is nil"))
	}

	snapshot, err := e.mapper.ToAggregateSnapshot(msg, tenantID)
	if err == nil {
		err = e.repo.SaveSnapshot(ctx, snapshot, tenantID, msg.AggregateIdentifier())
	}
	if err != nil {
		storeErr := e.handler.HandleAppend(op, tenantID, 1, err)
		storeErr.AggregateID = msg.AggregateIdentifier()
		e.metrics.RecordAppendFailure(ctx, tenantID, op, storeErr.Kind.String())
		return storeErr
	}
	return nil
}

// ReadSnapshot returns the latest snapshot of an aggregate. Any failure,
// including a missing tenant, is logged, counted and reported as absent so
// that the caller falls back to a full replay.
func (e *Engine) ReadSnapshot(ctx context.Context, aggregateID string) (*DomainEventMessage, bool) {
	const op = "ReadSnapshot"
	ctx, span := e.startSpan(ctx, op, attribute.String("aggregate_id", aggregateID))
	defer span.End()

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		e.snapshotReadFailed(ctx, tenantID, aggregateID, err)
		return nil, false
	}

	snap, err := e.repo.GetSnapshot(ctx, tenantID, aggregateID)
	if err != nil {
		e.snapshotReadFailed(ctx, tenantID, aggregateID, err)
		return nil, false
	}
	if snap == nil {
		return nil, false
	}

	msg, err := e.mapper.SnapshotToDomainEvent(*snap)
	if err != nil {
		e.snapshotReadFailed(ctx, tenantID, aggregateID, err)
		return nil, false
	}
	return msg, true
}

func (e *Engine) snapshotReadFailed(ctx context.Context, tenantID, aggregateID string, cause error) {
	storeErr := e.handler.HandleSnapshot("ReadSnapshot", tenantID, aggregateID, cause)
	e.metrics.RecordSnapshotReadFailure(ctx, tenantID)
	trace.SpanFromContext(ctx).RecordError(storeErr)
	logger.For(ctx, e.logger).Error("snapshot read failed, falling back to full replay",
		zap.String("aggregate_id", aggregateID),
		zap.String("kind", storeErr.Kind.String()),
		zap.Error(storeErr),
	)
}

// CreateHeadToken returns a token at the head of the tenant stream. Any
// failure is logged, counted and answered with the initial token.
func (e *Engine) CreateHeadToken(ctx context.Context) domain.GlobalSequenceTrackingToken {
	const op = "CreateHeadToken"
	ctx, span := e.startSpan(ctx, op)
	defer span.End()

	tenantID, err := tenant.Require(ctx)
	if err == nil {
		var head int64
		head, err = e.repo.GetMaxGlobalSequence(ctx, tenantID)
		if err == nil {
			return domain.NewTrackingToken(head)
		}
	}

	storeErr := e.handler.HandleRead(op, tenantID, "", 0, err)
	e.metrics.RecordHeadTokenFallback(ctx, tenantID)
	span.RecordError(storeErr)
	logger.For(ctx, e.logger).Error("head token unavailable, falling back to initial token",
		zap.String("kind", storeErr.Kind.String()),
		zap.Error(storeErr),
	)
	return domain.InitialToken()
}

// CreateTailToken returns the token before the first event
func (e *Engine) CreateTailToken(ctx context.Context) domain.GlobalSequenceTrackingToken {
	return domain.InitialToken()
}

// CreateTokenAt returns the token for an instant. Positions are not indexed
// by time, so every instant maps to the start of the stream.
func (e *Engine) CreateTokenAt(ctx context.Context, at time.Time) domain.GlobalSequenceTrackingToken {
	return domain.InitialToken()
}
