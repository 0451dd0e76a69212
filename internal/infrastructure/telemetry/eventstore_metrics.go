package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names recorded by the event store
const (
	MetricAppendEvents       = "eventstore.append.events"
	MetricAppendFailures     = "eventstore.append.failures"
	MetricAppendConflicts    = "eventstore.append.conflicts"
	MetricAppendSkipped      = "eventstore.append.skipped"
	MetricReadEvents         = "eventstore.read.events"
	MetricReadFailures       = "eventstore.read.failures"
	MetricSnapshotFailures   = "eventstore.snapshot.read_failures"
	MetricHeadTokenFallbacks = "eventstore.head_token.fallbacks"
	MetricOperationDuration  = "eventstore.operation.duration"
	MetricProcessorHandled   = "eventstore.processor.handled"
	MetricProcessorFailures  = "eventstore.processor.failures"
	MetricNotifyFailures     = "eventstore.notify.failures"
)

// EventStoreMetrics records event store activity per tenant.
// A nil *EventStoreMetrics records nothing.
type EventStoreMetrics struct {
	appended          *Counter
	appendFailures    *Counter
	conflicts         *Counter
	skipped           *Counter
	read              *Counter
	readFailures      *Counter
	snapshotFailures  *Counter
	headFallbacks     *Counter
	duration          *Histogram
	processorHandled  *Counter
	processorFailures *Counter
	notifyFailures    *Counter
}

// NewEventStoreMetrics creates the event store instruments on meter
func NewEventStoreMetrics(meter metric.Meter) (*EventStoreMetrics, error) {
	m := &EventStoreMetrics{}
	counters := []struct {
		target **Counter
		name   string
		desc   string
	}{
		{&m.appended, MetricAppendEvents, "Events appended to the store"},
		{&m.appendFailures, MetricAppendFailures, "Failed append or snapshot store operations"},
		{&m.conflicts, MetricAppendConflicts, "Appends rejected by the optimistic version check"},
		{&m.skipped, MetricAppendSkipped, "Non aggregate messages skipped on append"},
		{&m.read, MetricReadEvents, "Events read from the store"},
		{&m.readFailures, MetricReadFailures, "Failed read operations"},
		{&m.snapshotFailures, MetricSnapshotFailures, "Snapshot reads that failed and degraded to full replay"},
		{&m.headFallbacks, MetricHeadTokenFallbacks, "Head token requests that fell back to the initial token"},
		{&m.processorHandled, MetricProcessorHandled, "Events handled by tracking processors"},
		{&m.processorFailures, MetricProcessorFailures, "Tracking processor handler failures"},
		{&m.notifyFailures, MetricNotifyFailures, "Append notifications that could not be published"},
	}
	for _, c := range counters {
		counter, err := NewCounter(meter, c.name, c.desc, "{event}")
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	h, err := NewHistogram(meter, MetricOperationDuration, "Duration of event store operations", "s", DBDurationBuckets...)
	if err != nil {
		return nil, err
	}
	m.duration = h
	return m, nil
}

// RecordAppended counts appended events
func (m *EventStoreMetrics) RecordAppended(ctx context.Context, tenantID, aggregateType string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.appended.Add(ctx, int64(count), AttrTenantID.String(tenantID), AttrAggregateType.String(aggregateType))
}

// RecordAppendFailure counts a failed write operation by error kind
func (m *EventStoreMetrics) RecordAppendFailure(ctx context.Context, tenantID, operation, kind string) {
	if m == nil {
		return
	}
	m.appendFailures.Inc(ctx, AttrTenantID.String(tenantID), AttrOperation.String(operation), AttrErrorKind.String(kind))
}

// RecordConflict counts an optimistic concurrency conflict
func (m *EventStoreMetrics) RecordConflict(ctx context.Context, tenantID, aggregateType string) {
	if m == nil {
		return
	}
	m.conflicts.Inc(ctx, AttrTenantID.String(tenantID), AttrAggregateType.String(aggregateType))
}

// RecordSkipped counts a message ignored by append
func (m *EventStoreMetrics) RecordSkipped(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.skipped.Inc(ctx, AttrTenantID.String(tenantID))
}

// RecordRead counts events returned by a read operation
func (m *EventStoreMetrics) RecordRead(ctx context.Context, tenantID, operation string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.read.Add(ctx, int64(count), AttrTenantID.String(tenantID), AttrOperation.String(operation))
}

// RecordReadFailure counts a failed read operation by error kind
func (m *EventStoreMetrics) RecordReadFailure(ctx context.Context, tenantID, operation, kind string) {
	if m == nil {
		return
	}
	m.readFailures.Inc(ctx, AttrTenantID.String(tenantID), AttrOperation.String(operation), AttrErrorKind.String(kind))
}

// RecordSnapshotReadFailure counts a swallowed snapshot read failure
func (m *EventStoreMetrics) RecordSnapshotReadFailure(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.snapshotFailures.Inc(ctx, AttrTenantID.String(tenantID))
}

// RecordHeadTokenFallback counts a swallowed head token failure
func (m *EventStoreMetrics) RecordHeadTokenFallback(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.headFallbacks.Inc(ctx, AttrTenantID.String(tenantID))
}

// RecordDuration records how long an operation took
func (m *EventStoreMetrics) RecordDuration(ctx context.Context, operation string, since time.Time) {
	if m == nil {
		return
	}
	m.duration.RecordDuration(ctx, time.Since(since), AttrOperation.String(operation))
}

// RecordProcessed counts events handled by a tracking processor
func (m *EventStoreMetrics) RecordProcessed(ctx context.Context, processor, tenantID string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.processorHandled.Add(ctx, int64(count), AttrProcessor.String(processor), AttrTenantID.String(tenantID))
}

// RecordProcessorFailure counts a handler failure in a tracking processor
func (m *EventStoreMetrics) RecordProcessorFailure(ctx context.Context, processor, tenantID string) {
	if m == nil {
		return
	}
	m.processorFailures.Inc(ctx, AttrProcessor.String(processor), AttrTenantID.String(tenantID))
}

// RecordNotifyFailure counts an append notification that was not published
func (m *EventStoreMetrics) RecordNotifyFailure(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.notifyFailures.Inc(ctx, AttrTenantID.String(tenantID))
}

// TenantAttrs returns the attribute set used for tenant scoped spans
func TenantAttrs(tenantID string, extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{AttrTenantID.String(tenantID)}, extra...)
}
